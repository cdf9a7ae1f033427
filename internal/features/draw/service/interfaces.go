package service

import (
	"context"

	"gift-exchange-backend/internal/features/event/models"
)

// DrawService owns every write to the assignment ledger.
type DrawService interface {
	Draw(ctx context.Context, token string) (*models.DrawResponse, error)
	Regenerate(ctx context.Context, slug, adminToken, participantID string) (*models.RegenerateResponse, error)
	RemoveParticipant(ctx context.Context, slug, adminToken, participantID string) (*models.RemoveParticipantResponse, error)
}

// Authorizer checks admin ownership of an event.
type Authorizer interface {
	Authorize(ctx context.Context, slug, adminToken string) (*models.Event, error)
}
