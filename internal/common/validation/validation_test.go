package validation

import (
	"strings"
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gift-exchange-backend/internal/common/errors"
)

func TestNormalizeWishlist(t *testing.T) {
	items, err := NormalizeWishlist([]string{"  books ", "", "   ", "tea", "books", "Socks"})
	require.NoError(t, err)
	assert.Equal(t, []string{"books", "tea", "Socks"}, items)

	items, err = NormalizeWishlist(nil)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestNormalizeWishlistRejectsShortAndLong(t *testing.T) {
	_, err := NormalizeWishlist([]string{"books", "ab"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))

	_, err = NormalizeWishlist([]string{strings.Repeat("x", MaxWishlistItemLength+1)})
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))

	// runes, not bytes
	items, err := NormalizeWishlist([]string{"чай"})
	require.NoError(t, err)
	assert.Equal(t, []string{"чай"}, items)
}

func TestNormalizeParticipantNames(t *testing.T) {
	names, err := NormalizeParticipantNames([]string{" Alice", "Bob ", "Carol"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, names)

	_, err = NormalizeParticipantNames([]string{"Alice", "Bob"})
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))

	_, err = NormalizeParticipantNames([]string{"Alice", "Bob", " Alice "})
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))

	_, err = NormalizeParticipantNames([]string{"Alice", "Bob", "  "})
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidation))
}

func TestValidateEventName(t *testing.T) {
	name, err := ValidateEventName("  Office party ")
	require.NoError(t, err)
	assert.Equal(t, "Office party", name)

	_, err = ValidateEventName(" ")
	assert.Error(t, err)
}

func TestRegisterGinValidators(t *testing.T) {
	require.NoError(t, RegisterGinValidators())
}

func TestBindError(t *testing.T) {
	require.NoError(t, RegisterGinValidators())

	type request struct {
		Name string `json:"name" binding:"required,notblank"`
	}
	err := binding.Validator.ValidateStruct(&request{Name: "  "})
	require.Error(t, err)

	appErr := BindError(err)
	assert.True(t, appErr.IsValidation())
	assert.Equal(t, "name", appErr.Details["field"])

	appErr = BindError(assert.AnError)
	assert.Equal(t, errors.ErrCodeBadRequest, appErr.Code)
}
