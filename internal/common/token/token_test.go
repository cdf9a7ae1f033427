package token

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gift-exchange-backend/internal/utils/random"
)

func TestNewIsUniqueUUID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		tok := New()
		_, err := uuid.Parse(tok)
		require.NoError(t, err)
		_, dup := seen[tok]
		require.False(t, dup)
		seen[tok] = struct{}{}
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("abc", "abc"))
	assert.False(t, Equal("abc", "abd"))
	assert.False(t, Equal("abc", ""))
}

func TestSlugBase(t *testing.T) {
	cases := map[string]string{
		"Office Party 2026":    "office-party-2026",
		"  Crème brûlée  club": "creme-brulee-club",
		"Wichtel!!! @ Work":    "wichtel-work",
		"Ёлка":                 "event",
		"---":                  "event",
	}
	for in, want := range cases {
		assert.Equal(t, want, SlugBase(in), in)
	}
}

func TestSlugSuffix(t *testing.T) {
	slug, err := Slug(random.NewSeeded(1), "Team Gifts")
	require.NoError(t, err)
	assert.Regexp(t, `^team-gifts-[0-9a-z]{6}$`, slug)
}
