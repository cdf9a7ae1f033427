package service

import (
	"context"
	"strings"
	"time"

	"gift-exchange-backend/internal/common/cache"
	apperrors "gift-exchange-backend/internal/common/errors"
	"gift-exchange-backend/internal/common/logger"
	"gift-exchange-backend/internal/common/validation"
	"gift-exchange-backend/internal/features/event/models"
	"gift-exchange-backend/internal/features/event/repository"
	eventservice "gift-exchange-backend/internal/features/event/service"
)

type wishlistService struct {
	repo  repository.EventRepository
	cache *cache.CacheService
	now   func() time.Time
}

func NewWishlistService(repo repository.EventRepository, cache *cache.CacheService, now func() time.Time) WishlistService {
	if now == nil {
		now = time.Now
	}
	return &wishlistService{repo: repo, cache: cache, now: now}
}

// editable resolves the participant and rejects edits once the lock date has
// passed. The store repeats the check inside the write.
func (s *wishlistService) editable(ctx context.Context, token string) (*models.Participant, error) {
	p, err := s.repo.GetParticipantByToken(ctx, token)
	if err != nil {
		return nil, eventservice.MapRepositoryError(err, "get participant")
	}
	event, err := s.repo.GetEventByID(ctx, p.EventID)
	if err != nil {
		return nil, eventservice.MapRepositoryError(err, "get event")
	}
	if event.IsLocked(s.now()) {
		return nil, apperrors.NewLockedError(event.LockDate)
	}
	return p, nil
}

// Submit replaces the whole wishlist and marks it submitted.
func (s *wishlistService) Submit(ctx context.Context, token string, items []string) (*models.WishlistResponse, error) {
	p, err := s.editable(ctx, token)
	if err != nil {
		return nil, err
	}
	normalized, err := validation.NormalizeWishlist(items)
	if err != nil {
		return nil, err
	}

	if err := s.repo.ReplaceWishlist(ctx, p.ID, normalized, s.now().UTC()); err != nil {
		return nil, eventservice.MapRepositoryError(err, "replace wishlist")
	}
	eventservice.Invalidate(ctx, s.cache, p.EventID)

	logger.Debug().Str("participant_id", p.ID).Int("items", len(normalized)).Msg("Wishlist submitted")
	return &models.WishlistResponse{Items: normalized, Status: models.WishlistSubmitted}, nil
}

// RemoveItem deletes one entry; removing an absent item is a no-op.
func (s *wishlistService) RemoveItem(ctx context.Context, token, item string) (*models.WishlistResponse, error) {
	p, err := s.editable(ctx, token)
	if err != nil {
		return nil, err
	}
	item = strings.TrimSpace(item)
	if item == "" {
		return nil, apperrors.NewValidationError("item", "item is required")
	}

	if err := s.repo.DeleteWishlistItem(ctx, p.ID, item, s.now().UTC()); err != nil {
		return nil, eventservice.MapRepositoryError(err, "delete wishlist item")
	}
	eventservice.Invalidate(ctx, s.cache, p.EventID)

	items, err := s.repo.ListWishlist(ctx, p.ID)
	if err != nil {
		return nil, eventservice.MapRepositoryError(err, "list wishlist")
	}
	return &models.WishlistResponse{Items: items, Status: p.WishlistStatus}, nil
}

// Skip marks the wishlist as intentionally empty. Items are kept.
func (s *wishlistService) Skip(ctx context.Context, token string) (*models.WishlistResponse, error) {
	p, err := s.editable(ctx, token)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SetWishlistStatus(ctx, p.ID, models.WishlistSkipped, s.now().UTC()); err != nil {
		return nil, eventservice.MapRepositoryError(err, "skip wishlist")
	}
	eventservice.Invalidate(ctx, s.cache, p.EventID)

	items, err := s.repo.ListWishlist(ctx, p.ID)
	if err != nil {
		return nil, eventservice.MapRepositoryError(err, "list wishlist")
	}
	return &models.WishlistResponse{Items: items, Status: models.WishlistSkipped}, nil
}
