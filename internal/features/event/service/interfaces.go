package service

import (
	"context"
	"time"

	"gift-exchange-backend/internal/features/event/models"
)

// EventService defines event administration and the participant view.
type EventService interface {
	CreateEvent(ctx context.Context, input CreateEventInput) (*models.CreateEventResponse, error)
	// Authorize resolves the event by slug and checks the admin token.
	Authorize(ctx context.Context, slug, adminToken string) (*models.Event, error)
	GetEvent(ctx context.Context, slug, adminToken string) (*models.EventDetails, error)
	DeleteEvent(ctx context.Context, slug, adminToken string) error
	Unlock(ctx context.Context, slug, adminToken string) (time.Time, error)
	AddParticipant(ctx context.Context, slug, adminToken, name string) (*models.ParticipantCredentials, error)
	GetParticipantInfo(ctx context.Context, token string) (*models.ParticipantInfo, error)
}

type CreateEventInput struct {
	Name         string
	EventDate    time.Time
	LockDate     time.Time
	Participants []string
}
