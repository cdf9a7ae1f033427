package service

import (
	"context"

	"gift-exchange-backend/internal/features/event/models"
)

// WishlistService gates wishlist edits on the event lock date.
type WishlistService interface {
	Submit(ctx context.Context, token string, items []string) (*models.WishlistResponse, error)
	RemoveItem(ctx context.Context, token, item string) (*models.WishlistResponse, error)
	Skip(ctx context.Context, token string) (*models.WishlistResponse, error)
}
