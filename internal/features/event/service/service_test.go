package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gift-exchange-backend/internal/common/cache"
	apperrors "gift-exchange-backend/internal/common/errors"
	"gift-exchange-backend/internal/features/event/models"
	"gift-exchange-backend/internal/features/event/repository"
	"gift-exchange-backend/internal/platform/lock"
	"gift-exchange-backend/internal/testutil"
	"gift-exchange-backend/internal/utils/random"
)

var (
	eventDate = testutil.Date(2026, 12, 24)
	lockDate  = testutil.Date(2026, 12, 1)
)

func newService(t *testing.T, repo repository.EventRepository, c *cache.CacheService) (EventService, repository.EventRepository, *testutil.Clock) {
	t.Helper()
	if repo == nil {
		repo, _ = testutil.SQLiteRepository(t)
	}
	clock := testutil.NewClock(testutil.Date(2026, 11, 30))
	svc := NewEventService(repo, c, lock.NewLocal(), WithClock(clock.Now), WithRandom(random.NewSeeded(1)))
	return svc, repo, clock
}

func createEvent(t *testing.T, svc EventService, names ...string) *models.CreateEventResponse {
	t.Helper()
	resp, err := svc.CreateEvent(context.Background(), CreateEventInput{
		Name:         "Office Party",
		EventDate:    eventDate,
		LockDate:     lockDate,
		Participants: names,
	})
	require.NoError(t, err)
	return resp
}

func TestCreateEvent(t *testing.T) {
	svc, repo, _ := newService(t, nil, nil)
	resp := createEvent(t, svc, " Alice ", "Bob", "Carol")

	assert.True(t, strings.HasPrefix(resp.Slug, "office-party-"))
	assert.Len(t, resp.Slug, len("office-party-")+6)
	assert.NotEmpty(t, resp.AdminToken)
	assert.Equal(t, models.AdminLink(resp.Slug, resp.AdminToken), resp.AdminLink)
	require.Len(t, resp.Participants, 3)
	assert.Equal(t, "Alice", resp.Participants[0].Name)

	tokens := map[string]bool{resp.AdminToken: true}
	for _, p := range resp.Participants {
		assert.False(t, tokens[p.Token], "token reused")
		tokens[p.Token] = true
		assert.Equal(t, models.ParticipantLink(resp.Slug, p.Token), p.Link)
	}

	list, err := repo.ListParticipants(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, []string{list[0].Name, list[1].Name, list[2].Name})
}

func TestCreateEventValidation(t *testing.T) {
	svc, _, _ := newService(t, nil, nil)
	ctx := context.Background()

	cases := []struct {
		name  string
		input CreateEventInput
	}{
		{"blank name", CreateEventInput{Name: "  ", EventDate: eventDate, LockDate: lockDate, Participants: []string{"A", "B", "C"}}},
		{"too few", CreateEventInput{Name: "x", EventDate: eventDate, LockDate: lockDate, Participants: []string{"A", "B"}}},
		{"duplicate", CreateEventInput{Name: "x", EventDate: eventDate, LockDate: lockDate, Participants: []string{"A", "B", "A"}}},
		{"lock after event", CreateEventInput{Name: "x", EventDate: lockDate, LockDate: eventDate, Participants: []string{"A", "B", "C"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateEvent(ctx, tc.input)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation), "got %v", err)
		})
	}
}

type slugClashRepo struct {
	repository.EventRepository
	clashes int
}

func (r *slugClashRepo) CreateEvent(ctx context.Context, event *models.Event, participants []*models.Participant) error {
	if r.clashes > 0 {
		r.clashes--
		return repository.ErrConflict
	}
	return r.EventRepository.CreateEvent(ctx, event, participants)
}

func TestCreateEventRetriesSlug(t *testing.T) {
	base, _ := testutil.SQLiteRepository(t)
	svc, _, _ := newService(t, &slugClashRepo{EventRepository: base, clashes: 2}, nil)
	resp := createEvent(t, svc, "A", "B", "C")

	got, err := base.GetEventBySlug(context.Background(), resp.Slug)
	require.NoError(t, err)
	assert.Equal(t, resp.ID, got.ID)

	svc, _, _ = newService(t, &slugClashRepo{EventRepository: base, clashes: 10}, nil)
	_, err = svc.CreateEvent(context.Background(), CreateEventInput{
		Name: "x", EventDate: eventDate, LockDate: lockDate, Participants: []string{"A", "B", "C"},
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
}

func TestAuthorize(t *testing.T) {
	svc, _, _ := newService(t, nil, nil)
	resp := createEvent(t, svc, "A", "B", "C")
	ctx := context.Background()

	event, err := svc.Authorize(ctx, resp.Slug, resp.AdminToken)
	require.NoError(t, err)
	assert.Equal(t, resp.ID, event.ID)

	_, err = svc.Authorize(ctx, resp.Slug, "wrong")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))
	_, err = svc.Authorize(ctx, "missing", resp.AdminToken)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))
}

func TestGetEventRevealsResultsAfterEventDate(t *testing.T) {
	svc, repo, clock := newService(t, nil, nil)
	resp := createEvent(t, svc, "A", "B", "C")
	ctx := context.Background()

	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.InsertEdgeTx(ctx, tx, &models.AssignmentEdge{
		EventID: resp.ID, DrawerID: resp.Participants[0].ID, TargetID: resp.Participants[1].ID, CreatedAt: clock.Now(),
	}))
	require.NoError(t, repo.MarkDrawnTx(ctx, tx, resp.Participants[0].ID, clock.Now()))
	require.NoError(t, tx.Commit())

	details, err := svc.GetEvent(ctx, resp.Slug, resp.AdminToken)
	require.NoError(t, err)
	assert.False(t, details.IsLocked)
	assert.False(t, details.IsPast)
	require.NotNil(t, details.DaysUntilEvent)
	assert.Equal(t, 24, *details.DaysUntilEvent)
	assert.Equal(t, models.EventStats{Participants: 3, Drawn: 1, NotDrawn: 2}, details.Stats)
	assert.Nil(t, details.DrawResults)
	assert.True(t, details.Participants[0].HasDrawn)

	clock.Set(eventDate)
	details, err = svc.GetEvent(ctx, resp.Slug, resp.AdminToken)
	require.NoError(t, err)
	assert.True(t, details.IsPast)
	assert.Nil(t, details.DaysUntilEvent)
	require.Len(t, details.DrawResults, 1)
	assert.Equal(t, "A", details.DrawResults[0].DrawerName)
	assert.Equal(t, "B", details.DrawResults[0].TargetName)
}

func TestUnlockIsIdempotent(t *testing.T) {
	svc, repo, clock := newService(t, nil, nil)
	resp := createEvent(t, svc, "A", "B", "C")
	ctx := context.Background()
	clock.Set(testutil.Date(2026, 11, 20).Add(15 * time.Hour))

	got, err := svc.Unlock(ctx, resp.Slug, resp.AdminToken)
	require.NoError(t, err)
	assert.Equal(t, testutil.Date(2026, 11, 20), got)

	event, err := repo.GetEventByID(ctx, resp.ID)
	require.NoError(t, err)
	assert.True(t, event.IsLocked(clock.Now()))

	clock.Advance(48 * time.Hour)
	again, err := svc.Unlock(ctx, resp.Slug, resp.AdminToken)
	require.NoError(t, err)
	assert.Equal(t, got, again)

	_, err = svc.Unlock(ctx, resp.Slug, "wrong")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))
}

func TestAddParticipant(t *testing.T) {
	svc, repo, clock := newService(t, nil, nil)
	resp := createEvent(t, svc, "A", "B", "C")
	ctx := context.Background()

	added, err := svc.AddParticipant(ctx, resp.Slug, resp.AdminToken, " Dana ")
	require.NoError(t, err)
	assert.Equal(t, "Dana", added.Name)
	assert.Equal(t, models.ParticipantLink(resp.Slug, added.Token), added.Link)

	_, err = svc.AddParticipant(ctx, resp.Slug, resp.AdminToken, "B")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))

	_, err = svc.AddParticipant(ctx, resp.Slug, resp.AdminToken, "   ")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.InsertEdgeTx(ctx, tx, &models.AssignmentEdge{
		EventID: resp.ID, DrawerID: resp.Participants[0].ID, TargetID: added.ID, CreatedAt: clock.Now(),
	}))
	require.NoError(t, tx.Commit())

	_, err = svc.AddParticipant(ctx, resp.Slug, resp.AdminToken, "Eve")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
}

func TestDeleteEvent(t *testing.T) {
	svc, _, _ := newService(t, nil, nil)
	resp := createEvent(t, svc, "A", "B", "C")
	ctx := context.Background()

	assert.True(t, apperrors.HasCode(svc.DeleteEvent(ctx, resp.Slug, "wrong"), apperrors.ErrCodeUnauthorized))
	require.NoError(t, svc.DeleteEvent(ctx, resp.Slug, resp.AdminToken))

	_, err := svc.GetParticipantInfo(ctx, resp.Participants[0].Token)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	assert.True(t, apperrors.HasCode(svc.DeleteEvent(ctx, resp.Slug, resp.AdminToken), apperrors.ErrCodeUnauthorized))
}

func TestParticipantInfo(t *testing.T) {
	svc, repo, clock := newService(t, nil, nil)
	resp := createEvent(t, svc, "A", "B", "C")
	ctx := context.Background()
	a, b := resp.Participants[0], resp.Participants[1]

	require.NoError(t, repo.ReplaceWishlist(ctx, b.ID, []string{"books", "tea"}, clock.Now()))

	info, err := svc.GetParticipantInfo(ctx, a.Token)
	require.NoError(t, err)
	assert.Equal(t, "A", info.Name)
	assert.Equal(t, "Office Party", info.EventName)
	assert.Equal(t, "2026-12-01", info.LockDate)
	assert.False(t, info.HasDrawn)
	assert.Empty(t, info.DrawnName)
	assert.Equal(t, models.WishlistPending, info.WishlistStatus)

	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.InsertEdgeTx(ctx, tx, &models.AssignmentEdge{
		EventID: resp.ID, DrawerID: a.ID, TargetID: b.ID, CreatedAt: clock.Now(),
	}))
	require.NoError(t, repo.MarkDrawnTx(ctx, tx, a.ID, clock.Now()))
	require.NoError(t, tx.Commit())

	info, err = svc.GetParticipantInfo(ctx, a.Token)
	require.NoError(t, err)
	assert.True(t, info.HasDrawn)
	assert.Equal(t, "B", info.DrawnName)
	assert.Equal(t, []string{"books", "tea"}, info.DrawnWishlist)

	_, err = svc.GetParticipantInfo(ctx, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestParticipantInfoCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc, repo, clock := newService(t, nil, cache.NewCacheService(client, time.Minute))
	resp := createEvent(t, svc, "A", "B", "C")
	ctx := context.Background()
	a := resp.Participants[0]
	key := cache.ParticipantInfoKey(resp.ID, a.ID)

	info, err := svc.GetParticipantInfo(ctx, a.Token)
	require.NoError(t, err)
	assert.False(t, info.IsLocked)
	assert.True(t, mr.Exists(key))

	// writes that bypass the service are not seen until invalidation
	require.NoError(t, repo.ReplaceWishlist(ctx, a.ID, []string{"socks"}, clock.Now()))
	info, err = svc.GetParticipantInfo(ctx, a.Token)
	require.NoError(t, err)
	assert.Empty(t, info.MyWishlist)

	clock.Set(lockDate)
	info, err = svc.GetParticipantInfo(ctx, a.Token)
	require.NoError(t, err)
	assert.True(t, info.IsLocked, "lock state follows the clock on cache hits")

	_, err = svc.AddParticipant(ctx, resp.Slug, resp.AdminToken, "Dana")
	require.NoError(t, err)
	assert.False(t, mr.Exists(key))

	info, err = svc.GetParticipantInfo(ctx, a.Token)
	require.NoError(t, err)
	assert.Equal(t, []string{"socks"}, info.MyWishlist)
}

// interleavedWriteRepo runs a write on the first GetEventByID, after the
// reader has started building the view.
type interleavedWriteRepo struct {
	repository.EventRepository
	write func()
}

func (r *interleavedWriteRepo) GetEventByID(ctx context.Context, id string) (*models.Event, error) {
	event, err := r.EventRepository.GetEventByID(ctx, id)
	if r.write != nil {
		w := r.write
		r.write = nil
		w()
	}
	return event, err
}

func TestParticipantInfoNotCachedAcrossConcurrentWrite(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.NewCacheService(client, time.Minute)

	base, _ := testutil.SQLiteRepository(t)
	repo := &interleavedWriteRepo{EventRepository: base}
	svc, _, clock := newService(t, repo, c)
	resp := createEvent(t, svc, "A", "B", "C")
	ctx := context.Background()
	a := resp.Participants[0]
	key := cache.ParticipantInfoKey(resp.ID, a.ID)

	repo.write = func() {
		require.NoError(t, base.ReplaceWishlist(ctx, a.ID, []string{"socks"}, clock.Now()))
		Invalidate(ctx, c, resp.ID)
	}

	info, err := svc.GetParticipantInfo(ctx, a.Token)
	require.NoError(t, err)
	assert.Equal(t, models.WishlistPending, info.WishlistStatus)
	assert.False(t, mr.Exists(key), "view read across the write must not be cached")

	info, err = svc.GetParticipantInfo(ctx, a.Token)
	require.NoError(t, err)
	assert.Equal(t, []string{"socks"}, info.MyWishlist)
	assert.Equal(t, models.WishlistSubmitted, info.WishlistStatus)
	assert.True(t, mr.Exists(key))
}

func TestMapRepositoryError(t *testing.T) {
	assert.Nil(t, MapRepositoryError(nil, "op"))
	assert.True(t, apperrors.HasCode(MapRepositoryError(repository.ErrEventNotFound, "op"), apperrors.ErrCodeNotFound))
	assert.True(t, apperrors.HasCode(MapRepositoryError(repository.ErrParticipantNotFound, "op"), apperrors.ErrCodeNotFound))

	conflict := MapRepositoryError(repository.ErrConflict, "op")
	assert.True(t, apperrors.HasCode(conflict, apperrors.ErrCodeConflict))
	assert.ErrorIs(t, conflict, repository.ErrConflict)

	assert.True(t, apperrors.HasCode(MapRepositoryError(assert.AnError, "op"), apperrors.ErrCodeDatabaseError))

	locked := apperrors.NewLockedError(lockDate)
	assert.Same(t, locked, MapRepositoryError(locked, "op"))

	stored := MapRepositoryError(fmt.Errorf("replace wishlist: %w", &repository.LockedError{LockDate: lockDate}), "op")
	assert.True(t, apperrors.HasCode(stored, apperrors.ErrCodeLocked))
}
