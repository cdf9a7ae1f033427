package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gift-exchange-backend/internal/common/cache"
	apperrors "gift-exchange-backend/internal/common/errors"
	"gift-exchange-backend/internal/common/logger"
	"gift-exchange-backend/internal/common/metrics"
	"gift-exchange-backend/internal/common/telemetry"
	"gift-exchange-backend/internal/common/token"
	"gift-exchange-backend/internal/common/validation"
	"gift-exchange-backend/internal/features/draw/engine"
	"gift-exchange-backend/internal/features/event/models"
	"gift-exchange-backend/internal/features/event/repository"
	eventservice "gift-exchange-backend/internal/features/event/service"
	"gift-exchange-backend/internal/platform/lock"
	"gift-exchange-backend/internal/utils/random"
)

const (
	opDraw       = "draw"
	opRegenerate = "regenerate"
	opRemove     = "remove_participant"
)

type drawService struct {
	repo       repository.EventRepository
	auth       Authorizer
	cache      *cache.CacheService
	locker     lock.Locker
	metrics    metrics.Recorder
	tracer     trace.Tracer
	rnd        random.Source
	now        func() time.Time
	maxRetries int
}

type Option func(*drawService)

func WithClock(now func() time.Time) Option {
	return func(s *drawService) { s.now = now }
}

func WithRandom(src random.Source) Option {
	return func(s *drawService) { s.rnd = src }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(s *drawService) { s.metrics = m }
}

// WithMaxRetries bounds attempts after a uniqueness conflict.
func WithMaxRetries(n int) Option {
	return func(s *drawService) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func NewDrawService(
	repo repository.EventRepository,
	auth Authorizer,
	cache *cache.CacheService,
	locker lock.Locker,
	opts ...Option,
) DrawService {
	s := &drawService{
		repo:       repo,
		auth:       auth,
		cache:      cache,
		locker:     locker,
		metrics:    metrics.Nop{},
		tracer:     telemetry.Tracer(),
		rnd:        random.Crypto{},
		now:        time.Now,
		maxRetries: 5,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Draw assigns the participant a gift target, or returns the existing one.
func (s *drawService) Draw(ctx context.Context, tok string) (resp *models.DrawResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "draw.Draw")
	start := time.Now()
	defer func() {
		s.metrics.ObserveDraw(drawResult(resp, err), time.Since(start))
		endSpan(span, err)
	}()

	p, err := s.repo.GetParticipantByToken(ctx, tok)
	if err != nil {
		return nil, eventservice.MapRepositoryError(err, "get participant")
	}
	span.SetAttributes(attribute.String("event.id", p.EventID), attribute.String("participant.id", p.ID))

	event, err := s.repo.GetEventByID(ctx, p.EventID)
	if err != nil {
		return nil, eventservice.MapRepositoryError(err, "get event")
	}
	if !event.IsLocked(s.now()) {
		return nil, apperrors.NewNotYetUnlockedError(event.LockDate)
	}

	// повторный запрос без блокировки
	if p.HasDrawn {
		if existing, err := s.existing(ctx, event.ID, p.ID); err != nil || existing != nil {
			return existing, err
		}
	}

	unlock, err := s.lock(ctx, opDraw, event.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	resp, err = retryOnConflict(ctx, s, opDraw, func() (*models.DrawResponse, error) {
		return s.drawOnce(ctx, tok, event.ID)
	})
	if err != nil {
		return nil, err
	}

	if !resp.AlreadyDrawn {
		eventservice.Invalidate(ctx, s.cache, event.ID)
		logger.Info().
			Str("event_id", event.ID).
			Str("participant_id", p.ID).
			Msg("Participant drew a target")
	}
	return resp, nil
}

func (s *drawService) existing(ctx context.Context, eventID, drawerID string) (*models.DrawResponse, error) {
	edge, err := s.repo.GetEdgeByDrawer(ctx, eventID, drawerID)
	if errors.Is(err, repository.ErrEdgeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eventservice.MapRepositoryError(err, "get assignment")
	}
	target, err := s.repo.GetParticipantByID(ctx, edge.TargetID)
	if err != nil {
		return nil, eventservice.MapRepositoryError(err, "get target")
	}
	return &models.DrawResponse{TargetID: target.ID, TargetName: target.Name, AlreadyDrawn: true}, nil
}

// drawOnce is one transactional attempt. Candidates are re-read every time
// so a retry after a conflict sees the winner's edge.
func (s *drawService) drawOnce(ctx context.Context, tok, eventID string) (*models.DrawResponse, error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.NewTransactionError(opDraw, err)
	}
	defer tx.Rollback()

	if _, err := s.repo.LockEventTx(ctx, tx, eventID); err != nil {
		return nil, eventservice.MapRepositoryError(err, "lock event")
	}
	// the token may have been regenerated while we waited
	p, err := s.repo.GetParticipantByTokenTx(ctx, tx, tok)
	if err != nil {
		return nil, eventservice.MapRepositoryError(err, "get participant")
	}

	participants, state, err := s.loadState(ctx, tx, eventID)
	if err != nil {
		return nil, err
	}

	if targetID, ok := state.TargetOf(p.ID); ok {
		target := participants[targetID]
		return &models.DrawResponse{TargetID: target.ID, TargetName: target.Name, AlreadyDrawn: true}, nil
	}

	targetID, err := state.Draw(s.rnd, p.ID)
	if errors.Is(err, engine.ErrExhausted) {
		logger.Error().Str("event_id", eventID).Str("participant_id", p.ID).Msg("No legal target left")
		return nil, apperrors.NewExhaustedError(p.ID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "Assignment engine failed")
	}

	now := s.now().UTC()
	edge := &models.AssignmentEdge{EventID: eventID, DrawerID: p.ID, TargetID: targetID, CreatedAt: now}
	if err := s.repo.InsertEdgeTx(ctx, tx, edge); err != nil {
		return nil, eventservice.MapRepositoryError(err, "insert assignment")
	}
	if err := s.repo.MarkDrawnTx(ctx, tx, p.ID, now); err != nil {
		return nil, eventservice.MapRepositoryError(err, "mark drawn")
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewTransactionError(opDraw, err)
	}

	target := participants[targetID]
	return &models.DrawResponse{TargetID: target.ID, TargetName: target.Name}, nil
}

// Regenerate voids the participant's own draw and issues a new token.
// Edges that target the participant are left alone.
func (s *drawService) Regenerate(ctx context.Context, slug, adminToken, participantID string) (resp *models.RegenerateResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "draw.Regenerate")
	defer func() { endSpan(span, err) }()

	event, err := s.auth.Authorize(ctx, slug, adminToken)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("event.id", event.ID), attribute.String("participant.id", participantID))

	unlock, err := s.lock(ctx, opRegenerate, event.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	resp, err = retryOnConflict(ctx, s, opRegenerate, func() (*models.RegenerateResponse, error) {
		return s.regenerateOnce(ctx, event, participantID)
	})
	if err != nil {
		return nil, err
	}

	eventservice.Invalidate(ctx, s.cache, event.ID)
	logger.Info().Str("event_id", event.ID).Str("participant_id", participantID).Msg("Participant link regenerated")
	return resp, nil
}

func (s *drawService) regenerateOnce(ctx context.Context, event *models.Event, participantID string) (*models.RegenerateResponse, error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.NewTransactionError(opRegenerate, err)
	}
	defer tx.Rollback()

	if _, err := s.repo.LockEventTx(ctx, tx, event.ID); err != nil {
		return nil, eventservice.MapRepositoryError(err, "lock event")
	}
	p, err := s.repo.GetParticipantByIDTx(ctx, tx, participantID)
	if err != nil || p.EventID != event.ID {
		if err == nil || errors.Is(err, repository.ErrParticipantNotFound) {
			return nil, apperrors.NewNotFoundError("participant")
		}
		return nil, eventservice.MapRepositoryError(err, "get participant")
	}

	removed, err := s.repo.DeleteEdgeByDrawerTx(ctx, tx, event.ID, p.ID)
	if err != nil {
		return nil, eventservice.MapRepositoryError(err, "delete assignment")
	}
	if err := s.repo.ResetDrawnTx(ctx, tx, p.ID); err != nil {
		return nil, eventservice.MapRepositoryError(err, "reset drawn")
	}
	newToken := token.New()
	if err := s.repo.UpdateTokenTx(ctx, tx, p.ID, newToken); err != nil {
		return nil, eventservice.MapRepositoryError(err, "update token")
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewTransactionError(opRegenerate, err)
	}

	if removed {
		s.metrics.AddResets(opRegenerate, 1)
	}
	return &models.RegenerateResponse{
		ParticipantID: p.ID,
		Token:         newToken,
		Link:          models.ParticipantLink(event.Slug, newToken),
	}, nil
}

// RemoveParticipant deletes a participant and resets everyone whose draw
// depended on them. If the remaining ledger could no longer be completed,
// one more random edge is voided. All reset drawers are returned.
func (s *drawService) RemoveParticipant(ctx context.Context, slug, adminToken, participantID string) (resp *models.RemoveParticipantResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "draw.RemoveParticipant")
	defer func() { endSpan(span, err) }()

	event, err := s.auth.Authorize(ctx, slug, adminToken)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("event.id", event.ID), attribute.String("participant.id", participantID))

	unlock, err := s.lock(ctx, opRemove, event.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	resp, err = retryOnConflict(ctx, s, opRemove, func() (*models.RemoveParticipantResponse, error) {
		return s.removeOnce(ctx, event.ID, participantID)
	})
	if err != nil {
		return nil, err
	}

	eventservice.Invalidate(ctx, s.cache, event.ID)
	logger.Info().
		Str("event_id", event.ID).
		Str("participant_id", participantID).
		Strs("reset_participant_ids", resp.ResetParticipantIDs).
		Msg("Participant removed")
	return resp, nil
}

func (s *drawService) removeOnce(ctx context.Context, eventID, participantID string) (*models.RemoveParticipantResponse, error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, apperrors.NewTransactionError(opRemove, err)
	}
	defer tx.Rollback()

	if _, err := s.repo.LockEventTx(ctx, tx, eventID); err != nil {
		return nil, eventservice.MapRepositoryError(err, "lock event")
	}
	p, err := s.repo.GetParticipantByIDTx(ctx, tx, participantID)
	if err != nil || p.EventID != eventID {
		if err == nil || errors.Is(err, repository.ErrParticipantNotFound) {
			return nil, apperrors.NewNotFoundError("participant")
		}
		return nil, eventservice.MapRepositoryError(err, "get participant")
	}

	all, err := s.repo.ListParticipantsTx(ctx, tx, eventID)
	if err != nil {
		return nil, eventservice.MapRepositoryError(err, "list participants")
	}
	if len(all)-1 < validation.MinParticipants {
		return nil, apperrors.NewConflictError("event", "an event needs at least 3 participants")
	}

	cascaded, err := s.repo.DeleteEdgesByTargetTx(ctx, tx, eventID, p.ID)
	if err != nil {
		return nil, eventservice.MapRepositoryError(err, "delete assignments")
	}
	if err := s.repo.DeleteParticipantTx(ctx, tx, p.ID); err != nil {
		return nil, eventservice.MapRepositoryError(err, "delete participant")
	}

	_, state, err := s.loadState(ctx, tx, eventID)
	if err != nil {
		return nil, err
	}
	repaired, err := state.Repair(s.rnd)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "Failed to repair assignments")
	}
	for _, drawer := range repaired {
		if _, err := s.repo.DeleteEdgeByDrawerTx(ctx, tx, eventID, drawer); err != nil {
			return nil, eventservice.MapRepositoryError(err, "delete assignment")
		}
	}

	reset := append(append([]string{}, cascaded...), repaired...)
	if err := s.repo.ResetDrawnTx(ctx, tx, reset...); err != nil {
		return nil, eventservice.MapRepositoryError(err, "reset drawn")
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewTransactionError(opRemove, err)
	}

	s.metrics.AddResets("cascade", len(cascaded))
	s.metrics.AddResets("repair", len(repaired))
	return &models.RemoveParticipantResponse{ResetParticipantIDs: reset}, nil
}

func (s *drawService) loadState(ctx context.Context, tx repository.Transaction, eventID string) (map[string]*models.Participant, *engine.State, error) {
	participants, err := s.repo.ListParticipantsTx(ctx, tx, eventID)
	if err != nil {
		return nil, nil, eventservice.MapRepositoryError(err, "list participants")
	}
	ledger, err := s.repo.ListEdgesTx(ctx, tx, eventID)
	if err != nil {
		return nil, nil, eventservice.MapRepositoryError(err, "list assignments")
	}

	byID := make(map[string]*models.Participant, len(participants))
	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}
	edges := make([]engine.Edge, 0, len(ledger))
	for _, e := range ledger {
		edges = append(edges, engine.Edge{Drawer: e.DrawerID, Target: e.TargetID})
	}

	state, err := engine.NewState(ids, edges)
	if err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "Assignment ledger is inconsistent").
			WithDetail("event_id", eventID)
	}
	return byID, state, nil
}

func (s *drawService) lock(ctx context.Context, op, eventID string) (func(), error) {
	start := time.Now()
	unlock, err := s.locker.Lock(ctx, eventservice.LockKey(eventID))
	s.metrics.ObserveLockWait(op, time.Since(start))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransactionFailed, "Failed to acquire event lock").
			WithDetail("operation", op)
	}
	return unlock, nil
}

// retryOnConflict reruns op while it loses a storage uniqueness race.
// Other errors stop immediately; running out of attempts yields
// TRANSACTION_FAILED.
func retryOnConflict[T any](ctx context.Context, s *drawService, name string, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond

	res, err := backoff.Retry(ctx, func() (T, error) {
		res, err := op()
		if err == nil || errors.Is(err, repository.ErrConflict) {
			return res, err
		}
		return res, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.maxRetries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.metrics.IncConflictRetry(name)
			logger.Warn().Err(err).Str("operation", name).Dur("backoff", next).Msg("Ledger conflict, retrying")
		}),
	)
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, repository.ErrConflict):
		return res, apperrors.NewTransactionError(name, err).WithDetail("attempts", s.maxRetries)
	}
	if appErr, ok := apperrors.AsAppError(err); ok {
		return res, appErr
	}
	return res, err
}

func drawResult(resp *models.DrawResponse, err error) string {
	switch {
	case apperrors.HasCode(err, apperrors.ErrCodeExhausted):
		return metrics.ResultExhausted
	case err != nil:
		return metrics.ResultError
	case resp.AlreadyDrawn:
		return metrics.ResultExisting
	default:
		return metrics.ResultAssigned
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
