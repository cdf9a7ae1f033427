package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gift-exchange-backend/internal/utils/random"
)

func names(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("p%02d", i)
	}
	return out
}

func TestNewStateRejectsBrokenLedgers(t *testing.T) {
	people := []string{"a", "b", "c"}

	_, err := NewState(people, []Edge{{"a", "a"}})
	assert.ErrorIs(t, err, ErrSelfAssignment)

	_, err = NewState(people, []Edge{{"a", "b"}, {"c", "b"}})
	assert.ErrorIs(t, err, ErrTargetClaimed)

	_, err = NewState(people, []Edge{{"a", "b"}, {"a", "c"}})
	assert.ErrorIs(t, err, ErrAlreadyDrawn)

	_, err = NewState(people, []Edge{{"a", "z"}})
	assert.ErrorIs(t, err, ErrUnknownParticipant)
}

func TestCandidates(t *testing.T) {
	s, err := NewState([]string{"a", "b", "c", "d"}, []Edge{{"a", "c"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "d"}, s.Candidates("b"))
	assert.Equal(t, []string{"a", "b", "d"}, s.Candidates("c"))
	assert.Equal(t, []string{"b", "c", "d"}, s.Undrawn())
	assert.Equal(t, []string{"a", "b", "d"}, s.Unclaimed())
}

func TestOptionsErrors(t *testing.T) {
	s, err := NewState([]string{"a", "b", "c"}, []Edge{{"a", "b"}})
	require.NoError(t, err)

	_, err = s.Options("a")
	assert.ErrorIs(t, err, ErrAlreadyDrawn)
	_, err = s.Options("x")
	assert.ErrorIs(t, err, ErrUnknownParticipant)
}

// A -> B, then B -> A would leave C with only themself. B must draw C.
func TestOptionsAvoidDeadEnd(t *testing.T) {
	s, err := NewState([]string{"A", "B", "C"}, []Edge{{"A", "B"}})
	require.NoError(t, err)

	opts, err := s.Options("B")
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, opts)
	assert.ElementsMatch(t, []string{"A", "C"}, s.Candidates("B"))

	target, err := s.Draw(random.Crypto{}, "B")
	require.NoError(t, err)
	assert.Equal(t, "C", target)

	target, err = s.Draw(random.Crypto{}, "C")
	require.NoError(t, err)
	assert.Equal(t, "A", target)
	assert.True(t, s.Complete())
}

func TestOptionsUnrestrictedWhenOtherClaimed(t *testing.T) {
	// a->b, b->a: c and d remain, both unclaimed. c must take d.
	s, err := NewState([]string{"a", "b", "c", "d"}, []Edge{{"a", "b"}, {"b", "a"}})
	require.NoError(t, err)
	opts, err := s.Options("c")
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, opts)

	// a->c, b->d: c and d remain, both claimed, so anything unclaimed works.
	s, err = NewState([]string{"a", "b", "c", "d"}, []Edge{{"a", "c"}, {"b", "d"}})
	require.NoError(t, err)
	opts, err = s.Options("c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, opts)
}

func TestExhaustedOnDeadLedger(t *testing.T) {
	// written without the guard: a<->b, c alone
	s, err := NewState([]string{"a", "b", "c"}, []Edge{{"a", "b"}, {"b", "a"}})
	require.NoError(t, err)
	assert.True(t, s.Dead())

	_, err = s.Options("c")
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestRepair(t *testing.T) {
	s, err := NewState([]string{"a", "b", "c"}, []Edge{{"a", "b"}, {"b", "a"}})
	require.NoError(t, err)

	reset, err := s.Repair(random.NewSeeded(3))
	require.NoError(t, err)
	require.Len(t, reset, 1)
	assert.Contains(t, []string{"a", "b"}, reset[0])
	assert.False(t, s.Dead())

	for _, d := range s.Undrawn() {
		_, err := s.Draw(random.Crypto{}, d)
		require.NoError(t, err)
	}
	assert.True(t, s.Complete())
}

func TestRepairNoopWhenAlive(t *testing.T) {
	s, err := NewState([]string{"a", "b", "c"}, []Edge{{"a", "b"}})
	require.NoError(t, err)

	reset, err := s.Repair(random.Crypto{})
	require.NoError(t, err)
	assert.Empty(t, reset)
	assert.Len(t, s.Edges(), 1)
}

func assertDerangement(t *testing.T, s *State) {
	t.Helper()
	seen := make(map[string]bool)
	for _, e := range s.Edges() {
		require.NotEqual(t, e.Drawer, e.Target)
		require.False(t, seen[e.Target], "target %s drawn twice", e.Target)
		seen[e.Target] = true
	}
}

// Every order of draws completes into a derangement.
func TestRandomOrdersAlwaysComplete(t *testing.T) {
	src := random.NewSeeded(42)
	for n := 3; n <= 12; n++ {
		for trial := 0; trial < 300; trial++ {
			people := names(n)
			s, err := NewState(people, nil)
			require.NoError(t, err)

			order := append([]string(nil), people...)
			require.NoError(t, random.Shuffle(src, order))
			for _, d := range order {
				_, err := s.Draw(src, d)
				require.NoError(t, err, "n=%d trial=%d", n, trial)
				assertDerangement(t, s)
			}
			assert.True(t, s.Complete())
		}
	}
}

// Deleting participants mid-draw followed by Repair never strands anyone.
func TestRandomDeletionsRepair(t *testing.T) {
	src := random.NewSeeded(9)
	for trial := 0; trial < 500; trial++ {
		people := names(6)
		s, err := NewState(people, nil)
		require.NoError(t, err)

		order := append([]string(nil), people...)
		require.NoError(t, random.Shuffle(src, order))
		for _, d := range order[:4] {
			_, err := s.Draw(src, d)
			require.NoError(t, err)
		}

		// drop one participant: edges to and from it vanish
		victim := order[trial%len(order)]
		var remaining []string
		for _, p := range people {
			if p != victim {
				remaining = append(remaining, p)
			}
		}
		var edges []Edge
		for _, e := range s.Edges() {
			if e.Drawer != victim && e.Target != victim {
				edges = append(edges, e)
			}
		}
		s, err = NewState(remaining, edges)
		require.NoError(t, err)
		_, err = s.Repair(src)
		require.NoError(t, err)

		for _, d := range s.Undrawn() {
			_, err := s.Draw(src, d)
			require.NoError(t, err)
		}
		assert.True(t, s.Complete())
		assertDerangement(t, s)
	}
}

// The first drawer of a 4-person event sees each other participant with
// probability 1/3.
func TestFirstDrawUniform(t *testing.T) {
	const trials = 3000
	src := random.NewSeeded(2024)
	counts := map[string]int{}

	for i := 0; i < trials; i++ {
		s, err := NewState([]string{"a", "b", "c", "d"}, nil)
		require.NoError(t, err)
		target, err := s.Draw(src, "a")
		require.NoError(t, err)
		counts[target]++
	}

	expected := float64(trials) / 3
	for _, p := range []string{"b", "c", "d"} {
		assert.InDelta(t, expected, float64(counts[p]), expected*0.15, p)
	}
	assert.Zero(t, counts["a"])
}

// With shuffled draw order every participant still receives each possible
// giver with roughly equal probability.
func TestShuffledOrderUniformPairs(t *testing.T) {
	const trials = 3000
	src := random.NewSeeded(77)
	people := []string{"a", "b", "c", "d"}
	counts := map[Edge]int{}

	for i := 0; i < trials; i++ {
		s, err := NewState(people, nil)
		require.NoError(t, err)
		order := append([]string(nil), people...)
		require.NoError(t, random.Shuffle(src, order))
		for _, d := range order {
			_, err := s.Draw(src, d)
			require.NoError(t, err)
		}
		for _, e := range s.Edges() {
			counts[e]++
		}
	}

	expected := float64(trials) / 3
	for _, d := range people {
		for _, tgt := range people {
			if d == tgt {
				continue
			}
			assert.InDelta(t, expected, float64(counts[Edge{d, tgt}]), expected*0.15, "%s->%s", d, tgt)
		}
	}
}
