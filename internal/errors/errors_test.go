package appErrors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	appErrors "github.com/unclebandit/mailblast-backend/internal/errors"
)

func TestValidationErrorUnwrapsToInvalidInput(t *testing.T) {
	err := fmt.Errorf("send: %w", appErrors.NewValidationError("Subject", "required"))

	assert.True(t, errors.Is(err, appErrors.ErrInvalidInput))

	var vErr *appErrors.ValidationError
	if assert.True(t, errors.As(err, &vErr)) {
		assert.Equal(t, "Subject", vErr.Field)
		assert.Equal(t, "required", vErr.Rule)
	}
	assert.Contains(t, err.Error(), `field "Subject"`)
}
