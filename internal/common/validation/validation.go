package validation

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"gift-exchange-backend/internal/common/errors"
)

const (
	// Границы длины пункта списка желаний (в рунах, после trim)
	MinWishlistItemLength = 3
	MaxWishlistItemLength = 200

	MaxWishlistItems = 50

	MaxEventNameLength       = 200
	MaxParticipantNameLength = 100

	// Минимальное число участников: с двумя обмен сводится к паре без тайны
	MinParticipants = 3
)

// RegisterGinValidators adds custom tags to gin's validator engine and
// reports fields by their json names.
func RegisterGinValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v.RegisterValidation("notblank", notBlank)
}

func notBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// BindError converts a gin binding failure into a validation AppError
// naming the first offending field.
func BindError(err error) *errors.AppError {
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return errors.NewValidationError(fe.Field(), fmt.Sprintf("failed on '%s'", fe.Tag()))
	}
	return errors.Wrap(err, errors.ErrCodeBadRequest, "Invalid request body")
}

// NormalizeWishlist trims entries, drops empty ones and removes duplicates
// keeping the first occurrence.
func NormalizeWishlist(items []string) ([]string, error) {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))

	for _, raw := range items {
		item := strings.TrimSpace(raw)
		if item == "" {
			continue
		}
		if err := ValidateWishlistItem(item); err != nil {
			return nil, err
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}

	if len(out) > MaxWishlistItems {
		return nil, errors.NewValidationError("items", fmt.Sprintf("at most %d items allowed", MaxWishlistItems))
	}
	return out, nil
}

// ValidateWishlistItem expects an already trimmed item.
func ValidateWishlistItem(item string) error {
	n := utf8.RuneCountInString(item)
	if n < MinWishlistItemLength {
		return errors.NewValidationError("items", fmt.Sprintf("item %q must be at least %d characters long", item, MinWishlistItemLength))
	}
	if n > MaxWishlistItemLength {
		return errors.NewValidationError("items", fmt.Sprintf("item cannot exceed %d characters", MaxWishlistItemLength))
	}
	return nil
}

// ValidateEventName проверяет название события
func ValidateEventName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.NewValidationError("name", "event name is required")
	}
	if utf8.RuneCountInString(name) > MaxEventNameLength {
		return "", errors.NewValidationError("name", fmt.Sprintf("event name cannot exceed %d characters", MaxEventNameLength))
	}
	return name, nil
}

// ValidateParticipantName проверяет имя участника
func ValidateParticipantName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.NewValidationError("name", "participant name cannot be empty")
	}
	if utf8.RuneCountInString(name) > MaxParticipantNameLength {
		return "", errors.NewValidationError("name", fmt.Sprintf("participant name cannot exceed %d characters", MaxParticipantNameLength))
	}
	return name, nil
}

// NormalizeParticipantNames trims the names and rejects empty entries,
// duplicates and lists shorter than MinParticipants.
func NormalizeParticipantNames(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))

	for _, raw := range names {
		name, err := ValidateParticipantName(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[name]; dup {
			return nil, errors.NewValidationError("participants", fmt.Sprintf("duplicate participant name %q", name))
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}

	if len(out) < MinParticipants {
		return nil, errors.NewValidationError("participants", fmt.Sprintf("at least %d participants are required", MinParticipants))
	}
	return out, nil
}
