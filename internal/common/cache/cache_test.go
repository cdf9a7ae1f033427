package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type view struct {
	Name      string `json:"name"`
	HasDrawn  bool   `json:"has_drawn"`
	DrawnName string `json:"drawn_name"`
}

func newTestCache(t *testing.T) (*miniredis.Miniredis, *CacheService) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewCacheService(client, time.Minute)
}

func TestSetGet(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()
	key := ParticipantInfoKey("e1", "p1")

	var got view
	assert.ErrorIs(t, c.Get(ctx, key, &got), ErrCacheMiss)

	require.NoError(t, c.Set(ctx, key, view{Name: "Alice", HasDrawn: true, DrawnName: "Bob"}))
	require.NoError(t, c.Get(ctx, key, &got))
	assert.Equal(t, view{Name: "Alice", HasDrawn: true, DrawnName: "Bob"}, got)

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, c.Get(ctx, key, &got), ErrCacheMiss)
}

func TestInvalidateEventOnlyTouchesThatEvent(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, ParticipantInfoKey("e1", "p1"), view{Name: "A"}))
	require.NoError(t, c.Set(ctx, ParticipantInfoKey("e1", "p2"), view{Name: "B"}))
	require.NoError(t, c.Set(ctx, ParticipantInfoKey("e2", "p3"), view{Name: "C"}))

	require.NoError(t, c.InvalidateEvent(ctx, "e1"))

	var v view
	assert.ErrorIs(t, c.Get(ctx, ParticipantInfoKey("e1", "p1"), &v), ErrCacheMiss)
	assert.ErrorIs(t, c.Get(ctx, ParticipantInfoKey("e1", "p2"), &v), ErrCacheMiss)
	require.NoError(t, c.Get(ctx, ParticipantInfoKey("e2", "p3"), &v))
	assert.Equal(t, "C", v.Name)
}

func TestSetIfGenerationSkipsAfterInvalidation(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()
	key := ParticipantInfoKey("e1", "p1")

	gen, err := c.Generation(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)

	stored, err := c.SetIfGeneration(ctx, key, view{Name: "fresh"}, "e1", gen)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Greater(t, mr.TTL(key), time.Duration(0))

	// a reader loads data, then a writer invalidates before the reader stores it
	stale, err := c.Generation(ctx, "e1")
	require.NoError(t, err)
	require.NoError(t, c.InvalidateEvent(ctx, "e1"))

	stored, err = c.SetIfGeneration(ctx, key, view{Name: "stale"}, "e1", stale)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.False(t, mr.Exists(key))

	gen, err = c.Generation(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, stale+1, gen)

	// other events keep their own counter
	other, err := c.Generation(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), other)
}

func TestNilCacheIsDisabled(t *testing.T) {
	var c *CacheService
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", view{}))
	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.InvalidateEvent(ctx, "e1"))
	gen, err := c.Generation(ctx, "e1")
	require.NoError(t, err)
	assert.Zero(t, gen)
	stored, err := c.SetIfGeneration(ctx, "k", view{}, "e1", gen)
	require.NoError(t, err)
	assert.False(t, stored)
	var v view
	assert.ErrorIs(t, c.Get(ctx, "k", &v), ErrCacheMiss)
}
