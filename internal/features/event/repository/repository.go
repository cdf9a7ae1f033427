package repository

import (
	"context"
	"errors"
	"time"

	"gift-exchange-backend/internal/features/event/models"
)

var (
	ErrEventNotFound       = errors.New("event not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrEdgeNotFound        = errors.New("assignment not found")
	// ErrConflict is a violated uniqueness constraint (slug, name, token or ledger edge).
	ErrConflict = errors.New("unique constraint violated")
	ErrLocked   = errors.New("event is locked")
)

// LockedError is returned by wishlist writes that reach the store at or after
// the event's lock date. It matches ErrLocked.
type LockedError struct {
	LockDate time.Time
}

func (e *LockedError) Error() string {
	return ErrLocked.Error()
}

func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}

type Transaction interface {
	Commit() error
	Rollback() error
}

// EventRepository stores events, participants, wishlists and the assignment
// ledger. Methods ending in Tx run inside a transaction from BeginTx.
type EventRepository interface {
	BeginTx(ctx context.Context) (Transaction, error)
	HealthCheck(ctx context.Context) error

	CreateEvent(ctx context.Context, event *models.Event, participants []*models.Participant) error
	GetEventByID(ctx context.Context, id string) (*models.Event, error)
	GetEventBySlug(ctx context.Context, slug string) (*models.Event, error)
	UpdateLockDate(ctx context.Context, eventID string, lockDate time.Time) error
	DeleteEvent(ctx context.Context, eventID string) error

	GetParticipantByToken(ctx context.Context, token string) (*models.Participant, error)
	GetParticipantByID(ctx context.Context, id string) (*models.Participant, error)
	ListParticipants(ctx context.Context, eventID string) ([]*models.Participant, error)

	ListWishlist(ctx context.Context, participantID string) ([]string, error)
	// Wishlist writes check the lock date against now in the same
	// transaction and fail with *LockedError once it has passed.
	ReplaceWishlist(ctx context.Context, participantID string, items []string, now time.Time) error
	DeleteWishlistItem(ctx context.Context, participantID, item string, now time.Time) error
	SetWishlistStatus(ctx context.Context, participantID string, status models.WishlistStatus, now time.Time) error

	ListEdges(ctx context.Context, eventID string) ([]*models.AssignmentEdge, error)
	GetEdgeByDrawer(ctx context.Context, eventID, drawerID string) (*models.AssignmentEdge, error)

	// Ledger operations
	LockEventTx(ctx context.Context, tx Transaction, eventID string) (*models.Event, error)
	GetParticipantByTokenTx(ctx context.Context, tx Transaction, token string) (*models.Participant, error)
	GetParticipantByIDTx(ctx context.Context, tx Transaction, id string) (*models.Participant, error)
	ListParticipantsTx(ctx context.Context, tx Transaction, eventID string) ([]*models.Participant, error)
	InsertParticipantTx(ctx context.Context, tx Transaction, participant *models.Participant) error
	DeleteParticipantTx(ctx context.Context, tx Transaction, participantID string) error
	UpdateTokenTx(ctx context.Context, tx Transaction, participantID, token string) error

	ListEdgesTx(ctx context.Context, tx Transaction, eventID string) ([]*models.AssignmentEdge, error)
	CountEdgesTx(ctx context.Context, tx Transaction, eventID string) (int, error)
	InsertEdgeTx(ctx context.Context, tx Transaction, edge *models.AssignmentEdge) error
	// DeleteEdgeByDrawerTx reports whether an edge existed.
	DeleteEdgeByDrawerTx(ctx context.Context, tx Transaction, eventID, drawerID string) (bool, error)
	// DeleteEdgesByTargetTx returns the drawers whose edges were removed.
	DeleteEdgesByTargetTx(ctx context.Context, tx Transaction, eventID, targetID string) ([]string, error)
	MarkDrawnTx(ctx context.Context, tx Transaction, participantID string, at time.Time) error
	ResetDrawnTx(ctx context.Context, tx Transaction, participantIDs ...string) error
}
