// Package engine builds a derangement one draw at a time.
//
// A State holds the participants of one event and the edges drawn so far.
// Every drawer has at most one target, every target at most one drawer and
// nobody draws themself. The engine never rewrites an edge: it only narrows
// the choices of the current drawer so that the remaining undrawn
// participants can always complete the assignment.
package engine

import (
	"errors"
	"fmt"
	"sort"

	"gift-exchange-backend/internal/utils/random"
)

var (
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrAlreadyDrawn       = errors.New("participant already drew")
	ErrTargetClaimed      = errors.New("target already claimed")
	ErrSelfAssignment     = errors.New("participant cannot draw themself")
	// ErrExhausted means the drawer has no legal target left.
	ErrExhausted = errors.New("no legal target left")
)

type Edge struct {
	Drawer string
	Target string
}

type State struct {
	participants []string
	members      map[string]struct{}
	targetOf     map[string]string // drawer -> target
	drawerOf     map[string]string // target -> drawer
}

// NewState validates edges against participants.
func NewState(participants []string, edges []Edge) (*State, error) {
	s := &State{
		participants: append([]string(nil), participants...),
		members:      make(map[string]struct{}, len(participants)),
		targetOf:     make(map[string]string, len(edges)),
		drawerOf:     make(map[string]string, len(edges)),
	}
	sort.Strings(s.participants)
	for _, p := range s.participants {
		if _, dup := s.members[p]; dup {
			return nil, fmt.Errorf("duplicate participant %s", p)
		}
		s.members[p] = struct{}{}
	}
	for _, e := range edges {
		if err := s.Assign(e.Drawer, e.Target); err != nil {
			return nil, fmt.Errorf("edge %s -> %s: %w", e.Drawer, e.Target, err)
		}
	}
	return s, nil
}

func (s *State) Len() int {
	return len(s.participants)
}

func (s *State) TargetOf(drawer string) (string, bool) {
	t, ok := s.targetOf[drawer]
	return t, ok
}

func (s *State) Claimed(target string) bool {
	_, ok := s.drawerOf[target]
	return ok
}

// Undrawn lists participants without an edge, sorted.
func (s *State) Undrawn() []string {
	var out []string
	for _, p := range s.participants {
		if _, ok := s.targetOf[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

// Unclaimed lists participants nobody drew yet, sorted.
func (s *State) Unclaimed() []string {
	var out []string
	for _, p := range s.participants {
		if !s.Claimed(p) {
			out = append(out, p)
		}
	}
	return out
}

// Candidates are all participants except the drawer and claimed targets.
func (s *State) Candidates(drawer string) []string {
	var out []string
	for _, p := range s.participants {
		if p != drawer && !s.Claimed(p) {
			out = append(out, p)
		}
	}
	return out
}

// Options narrows Candidates so the draw cannot strand the last drawer.
//
// With at least two undrawn participants the rest can always be completed,
// except in one case: exactly two remain (drawer d and e) and e is still
// unclaimed. If d draws anyone else, e ends up alone with only themself
// left, so d must draw e.
func (s *State) Options(drawer string) ([]string, error) {
	if _, ok := s.members[drawer]; !ok {
		return nil, ErrUnknownParticipant
	}
	if _, ok := s.targetOf[drawer]; ok {
		return nil, ErrAlreadyDrawn
	}

	candidates := s.Candidates(drawer)
	if len(candidates) == 0 {
		return nil, ErrExhausted
	}

	undrawn := s.Undrawn()
	if len(undrawn) == 2 {
		other := undrawn[0]
		if other == drawer {
			other = undrawn[1]
		}
		if !s.Claimed(other) {
			return []string{other}, nil
		}
	}
	return candidates, nil
}

// Dead reports a state no sequence of draws can complete: the only undrawn
// participant is also the only unclaimed one.
func (s *State) Dead() bool {
	undrawn := s.Undrawn()
	if len(undrawn) != 1 {
		return false
	}
	return len(s.Candidates(undrawn[0])) == 0
}

// Complete reports whether everyone has drawn.
func (s *State) Complete() bool {
	return len(s.targetOf) == len(s.participants)
}

func (s *State) Assign(drawer, target string) error {
	if _, ok := s.members[drawer]; !ok {
		return ErrUnknownParticipant
	}
	if _, ok := s.members[target]; !ok {
		return ErrUnknownParticipant
	}
	if drawer == target {
		return ErrSelfAssignment
	}
	if _, ok := s.targetOf[drawer]; ok {
		return ErrAlreadyDrawn
	}
	if s.Claimed(target) {
		return ErrTargetClaimed
	}
	s.targetOf[drawer] = target
	s.drawerOf[target] = drawer
	return nil
}

// Unassign removes the drawer's edge and returns its target.
func (s *State) Unassign(drawer string) (string, bool) {
	target, ok := s.targetOf[drawer]
	if !ok {
		return "", false
	}
	delete(s.targetOf, drawer)
	delete(s.drawerOf, target)
	return target, true
}

// Edges returns the current edges sorted by drawer.
func (s *State) Edges() []Edge {
	out := make([]Edge, 0, len(s.targetOf))
	for _, p := range s.participants {
		if t, ok := s.targetOf[p]; ok {
			out = append(out, Edge{Drawer: p, Target: t})
		}
	}
	return out
}

// Draw picks the drawer's target uniformly from Options and records it.
func (s *State) Draw(src random.Source, drawer string) (string, error) {
	options, err := s.Options(drawer)
	if err != nil {
		return "", err
	}
	target, err := random.Pick(src, options)
	if err != nil {
		return "", err
	}
	if err := s.Assign(drawer, target); err != nil {
		return "", err
	}
	return target, nil
}

// Repair voids random edges until the state is no longer dead and returns
// the drawers that were reset. A single void always suffices.
func (s *State) Repair(src random.Source) ([]string, error) {
	var reset []string
	for s.Dead() {
		edges := s.Edges()
		if len(edges) == 0 {
			return reset, ErrExhausted
		}
		victim, err := random.Pick(src, edges)
		if err != nil {
			return reset, err
		}
		s.Unassign(victim.Drawer)
		reset = append(reset, victim.Drawer)
	}
	return reset, nil
}
