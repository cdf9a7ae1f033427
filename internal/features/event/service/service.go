package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"gift-exchange-backend/internal/common/cache"
	apperrors "gift-exchange-backend/internal/common/errors"
	"gift-exchange-backend/internal/common/logger"
	"gift-exchange-backend/internal/common/token"
	"gift-exchange-backend/internal/common/validation"
	"gift-exchange-backend/internal/features/event/models"
	"gift-exchange-backend/internal/features/event/repository"
	"gift-exchange-backend/internal/platform/lock"
	"gift-exchange-backend/internal/utils/random"
)

const slugAttempts = 5

type eventService struct {
	repo   repository.EventRepository
	cache  *cache.CacheService
	locker lock.Locker
	rnd    random.Source
	now    func() time.Time
}

type Option func(*eventService)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *eventService) { s.now = now }
}

func WithRandom(src random.Source) Option {
	return func(s *eventService) { s.rnd = src }
}

// NewEventService accepts a nil cache (disabled).
func NewEventService(repo repository.EventRepository, cache *cache.CacheService, locker lock.Locker, opts ...Option) EventService {
	s := &eventService{
		repo:   repo,
		cache:  cache,
		locker: locker,
		rnd:    random.Crypto{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LockKey is the per-event critical section key shared by every ledger write.
func LockKey(eventID string) string {
	return "event:" + eventID
}

func (s *eventService) CreateEvent(ctx context.Context, input CreateEventInput) (*models.CreateEventResponse, error) {
	name, err := validation.ValidateEventName(input.Name)
	if err != nil {
		return nil, err
	}
	names, err := validation.NormalizeParticipantNames(input.Participants)
	if err != nil {
		return nil, err
	}
	eventDate := models.StartOfDay(input.EventDate)
	lockDate := models.StartOfDay(input.LockDate)
	if lockDate.After(eventDate) {
		return nil, apperrors.NewValidationError("lock_date", "lock date must not be after the event date")
	}

	now := s.now().UTC()
	event := &models.Event{
		ID:         uuid.NewString(),
		Name:       name,
		EventDate:  eventDate,
		LockDate:   lockDate,
		AdminToken: token.New(),
		CreatedAt:  now,
	}

	participants := make([]*models.Participant, 0, len(names))
	for i, n := range names {
		participants = append(participants, &models.Participant{
			ID:             uuid.NewString(),
			EventID:        event.ID,
			Name:           n,
			Token:          token.New(),
			WishlistStatus: models.WishlistPending,
			// keep input order stable in listings
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		})
	}

	// коллизия slug маловероятна, но возможна
	for attempt := 1; ; attempt++ {
		event.Slug, err = token.Slug(s.rnd, name)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "Failed to generate slug")
		}
		err = s.repo.CreateEvent(ctx, event, participants)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrConflict) || attempt == slugAttempts {
			return nil, MapRepositoryError(err, "create event")
		}
		logger.Warn().Str("slug", event.Slug).Int("attempt", attempt).Msg("Slug collision, retrying")
	}

	logger.Info().
		Str("event_id", event.ID).
		Str("slug", event.Slug).
		Int("participants", len(participants)).
		Msg("Event created")

	resp := &models.CreateEventResponse{
		ID:           event.ID,
		Slug:         event.Slug,
		AdminToken:   event.AdminToken,
		AdminLink:    models.AdminLink(event.Slug, event.AdminToken),
		Participants: make([]models.ParticipantCredentials, 0, len(participants)),
	}
	for _, p := range participants {
		resp.Participants = append(resp.Participants, models.ParticipantCredentials{
			ID:    p.ID,
			Name:  p.Name,
			Token: p.Token,
			Link:  models.ParticipantLink(event.Slug, p.Token),
		})
	}
	return resp, nil
}

// Authorize не различает неизвестный slug и неверный токен
func (s *eventService) Authorize(ctx context.Context, slug, adminToken string) (*models.Event, error) {
	event, err := s.repo.GetEventBySlug(ctx, slug)
	if errors.Is(err, repository.ErrEventNotFound) {
		return nil, apperrors.NewUnauthorizedError("invalid event or admin token")
	}
	if err != nil {
		return nil, MapRepositoryError(err, "get event")
	}
	if !token.Equal(event.AdminToken, adminToken) {
		return nil, apperrors.NewUnauthorizedError("invalid event or admin token")
	}
	return event, nil
}

func (s *eventService) GetEvent(ctx context.Context, slug, adminToken string) (*models.EventDetails, error) {
	event, err := s.Authorize(ctx, slug, adminToken)
	if err != nil {
		return nil, err
	}

	participants, err := s.repo.ListParticipants(ctx, event.ID)
	if err != nil {
		return nil, MapRepositoryError(err, "list participants")
	}

	now := s.now()
	details := &models.EventDetails{
		ID:           event.ID,
		Name:         event.Name,
		Slug:         event.Slug,
		EventDate:    event.EventDate.Format(models.DateLayout),
		LockDate:     event.LockDate.Format(models.DateLayout),
		IsLocked:     event.IsLocked(now),
		IsPast:       event.IsPast(now),
		Participants: make([]models.ParticipantSummary, 0, len(participants)),
	}
	if !details.IsPast {
		days := int(math.Ceil(event.EventDate.Sub(now).Hours() / 24))
		details.DaysUntilEvent = &days
	}

	byID := make(map[string]*models.Participant, len(participants))
	for _, p := range participants {
		byID[p.ID] = p
		details.Stats.Participants++
		if p.HasDrawn {
			details.Stats.Drawn++
		}
		details.Participants = append(details.Participants, models.ParticipantSummary{
			ID:             p.ID,
			Name:           p.Name,
			Token:          p.Token,
			Link:           models.ParticipantLink(event.Slug, p.Token),
			WishlistStatus: p.WishlistStatus,
			HasDrawn:       p.HasDrawn,
		})
	}
	details.Stats.NotDrawn = details.Stats.Participants - details.Stats.Drawn

	// результаты раскрываются только после даты события
	if details.IsPast {
		edges, err := s.repo.ListEdges(ctx, event.ID)
		if err != nil {
			return nil, MapRepositoryError(err, "list assignments")
		}
		details.DrawResults = make([]models.DrawResult, 0, len(edges))
		for _, e := range edges {
			drawer, target := byID[e.DrawerID], byID[e.TargetID]
			if drawer == nil || target == nil {
				continue
			}
			details.DrawResults = append(details.DrawResults, models.DrawResult{
				DrawerName: drawer.Name,
				TargetName: target.Name,
				CreatedAt:  e.CreatedAt,
			})
		}
	}

	return details, nil
}

func (s *eventService) DeleteEvent(ctx context.Context, slug, adminToken string) error {
	event, err := s.Authorize(ctx, slug, adminToken)
	if err != nil {
		return err
	}

	unlock, err := s.locker.Lock(ctx, LockKey(event.ID))
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeTransactionFailed, "Failed to acquire event lock")
	}
	defer unlock()

	if err := s.repo.DeleteEvent(ctx, event.ID); err != nil {
		return MapRepositoryError(err, "delete event")
	}
	s.invalidate(ctx, event.ID)

	logger.Info().Str("event_id", event.ID).Msg("Event deleted")
	return nil
}

// Unlock moves the lock date to the start of today if it is still ahead.
func (s *eventService) Unlock(ctx context.Context, slug, adminToken string) (time.Time, error) {
	event, err := s.Authorize(ctx, slug, adminToken)
	if err != nil {
		return time.Time{}, err
	}

	now := s.now()
	if event.IsLocked(now) {
		return event.LockDate, nil
	}

	today := models.StartOfDay(now)
	if err := s.repo.UpdateLockDate(ctx, event.ID, today); err != nil {
		return time.Time{}, MapRepositoryError(err, "unlock event")
	}
	s.invalidate(ctx, event.ID)

	logger.Info().Str("event_id", event.ID).Time("lock_date", today).Msg("Event unlocked")
	return today, nil
}

// AddParticipant is only allowed before the first draw.
func (s *eventService) AddParticipant(ctx context.Context, slug, adminToken, name string) (*models.ParticipantCredentials, error) {
	event, err := s.Authorize(ctx, slug, adminToken)
	if err != nil {
		return nil, err
	}
	name, err = validation.ValidateParticipantName(name)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, LockKey(event.ID))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransactionFailed, "Failed to acquire event lock")
	}
	defer unlock()

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.NewTransactionError("add participant", err)
	}
	defer tx.Rollback()

	if _, err := s.repo.LockEventTx(ctx, tx, event.ID); err != nil {
		return nil, MapRepositoryError(err, "lock event")
	}
	edges, err := s.repo.CountEdgesTx(ctx, tx, event.ID)
	if err != nil {
		return nil, MapRepositoryError(err, "count assignments")
	}
	if edges > 0 {
		return nil, apperrors.NewConflictError("event", "participants cannot be added once drawing has started")
	}

	p := &models.Participant{
		ID:             uuid.NewString(),
		EventID:        event.ID,
		Name:           name,
		Token:          token.New(),
		WishlistStatus: models.WishlistPending,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.repo.InsertParticipantTx(ctx, tx, p); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewConflictError("participant", "a participant with this name already exists")
		}
		return nil, MapRepositoryError(err, "add participant")
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewTransactionError("add participant", err)
	}
	s.invalidate(ctx, event.ID)

	logger.Info().Str("event_id", event.ID).Str("participant_id", p.ID).Msg("Participant added")
	return &models.ParticipantCredentials{
		ID:    p.ID,
		Name:  p.Name,
		Token: p.Token,
		Link:  models.ParticipantLink(event.Slug, p.Token),
	}, nil
}

func (s *eventService) GetParticipantInfo(ctx context.Context, tok string) (*models.ParticipantInfo, error) {
	p, err := s.repo.GetParticipantByToken(ctx, tok)
	if err != nil {
		return nil, MapRepositoryError(err, "get participant")
	}

	key := cache.ParticipantInfoKey(p.EventID, p.ID)
	var cached models.ParticipantInfo
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		// lock state depends on the clock, not on stored data
		if lockDate, perr := time.Parse(models.DateLayout, cached.LockDate); perr == nil {
			cached.IsLocked = !s.now().Before(lockDate)
		}
		return &cached, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		logger.Warn().Err(err).Str("key", key).Msg("Cache read failed")
	}

	// generation is taken before any data the view is built from
	gen, genErr := s.cache.Generation(ctx, p.EventID)
	if genErr != nil {
		logger.Warn().Err(genErr).Str("event_id", p.EventID).Msg("Cache generation read failed")
	} else if p, err = s.repo.GetParticipantByID(ctx, p.ID); err != nil {
		return nil, MapRepositoryError(err, "get participant")
	}

	event, err := s.repo.GetEventByID(ctx, p.EventID)
	if err != nil {
		return nil, MapRepositoryError(err, "get event")
	}
	mine, err := s.repo.ListWishlist(ctx, p.ID)
	if err != nil {
		return nil, MapRepositoryError(err, "list wishlist")
	}

	info := &models.ParticipantInfo{
		ID:             p.ID,
		Name:           p.Name,
		EventName:      event.Name,
		EventDate:      event.EventDate.Format(models.DateLayout),
		LockDate:       event.LockDate.Format(models.DateLayout),
		IsLocked:       event.IsLocked(s.now()),
		HasDrawn:       p.HasDrawn,
		MyWishlist:     mine,
		WishlistStatus: p.WishlistStatus,
	}

	if p.HasDrawn {
		edge, err := s.repo.GetEdgeByDrawer(ctx, event.ID, p.ID)
		switch {
		case errors.Is(err, repository.ErrEdgeNotFound):
			info.HasDrawn = false
		case err != nil:
			return nil, MapRepositoryError(err, "get assignment")
		default:
			target, err := s.repo.GetParticipantByID(ctx, edge.TargetID)
			if err != nil {
				return nil, MapRepositoryError(err, "get target")
			}
			items, err := s.repo.ListWishlist(ctx, target.ID)
			if err != nil {
				return nil, MapRepositoryError(err, "list target wishlist")
			}
			info.DrawnName = target.Name
			info.DrawnWishlist = items
		}
	}

	if genErr == nil {
		if _, err := s.cache.SetIfGeneration(ctx, key, info, event.ID, gen); err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("Cache write failed")
		}
	}
	return info, nil
}

func (s *eventService) invalidate(ctx context.Context, eventID string) {
	Invalidate(ctx, s.cache, eventID)
}

// Invalidate drops cached participant views of the event. A failure only
// leaves entries until their TTL, so it is logged, not returned.
func Invalidate(ctx context.Context, c *cache.CacheService, eventID string) {
	if err := c.InvalidateEvent(ctx, eventID); err != nil {
		logger.Error().Err(apperrors.NewCacheError("invalidate event", err)).Str("event_id", eventID).Msg("Cache invalidation failed")
	}
}
