package service

import (
	"errors"

	apperrors "gift-exchange-backend/internal/common/errors"
	"gift-exchange-backend/internal/features/event/repository"
)

// MapRepositoryError converts repository sentinels into AppErrors. Errors
// that already are AppErrors pass through.
func MapRepositoryError(err error, operation string) error {
	if err == nil {
		return nil
	}
	if apperrors.IsAppError(err) {
		return err
	}
	var locked *repository.LockedError
	switch {
	case errors.As(err, &locked):
		return apperrors.NewLockedError(locked.LockDate)
	case errors.Is(err, repository.ErrEventNotFound):
		return apperrors.NewNotFoundError("event")
	case errors.Is(err, repository.ErrParticipantNotFound):
		return apperrors.NewNotFoundError("participant")
	case errors.Is(err, repository.ErrEdgeNotFound):
		return apperrors.NewNotFoundError("assignment")
	case errors.Is(err, repository.ErrConflict):
		return apperrors.Wrap(err, apperrors.ErrCodeConflict, "Conflicting concurrent change").
			WithDetail("operation", operation)
	default:
		return apperrors.NewDatabaseError(operation, err)
	}
}
