package registration_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/goliatone/go-email-registration"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
)

func TestIsInvalidCode(t *testing.T) {
	assert.True(t, registration.IsInvalidCode(registration.ErrLinkExpired))
	assert.True(t, registration.IsInvalidCode(registration.ErrBadSignature))
	assert.True(t, registration.IsInvalidCode(registration.ErrLinkMalformed))

	assert.False(t, registration.IsInvalidCode(nil))
	assert.False(t, registration.IsInvalidCode(errors.New("boom")))
	assert.False(t, registration.IsInvalidCode(registration.ErrLinkAlreadyUsed))
	assert.False(t, registration.IsInvalidCode(registration.ErrAlreadyRegistered))

	wrapped := fmt.Errorf("decode: %w", registration.ErrLinkExpired)
	assert.True(t, registration.IsInvalidCode(wrapped))
}

func TestInvalidCodeMessage(t *testing.T) {
	assert.Equal(t, registration.ErrLinkExpired.Message,
		registration.InvalidCodeMessage(registration.ErrLinkExpired))
	assert.Equal(t, registration.ErrBadSignature.Message,
		registration.InvalidCodeMessage(registration.ErrBadSignature))

	// unknown errors collapse into the generic malformed message
	assert.Equal(t, registration.ErrLinkMalformed.Message,
		registration.InvalidCodeMessage(errors.New("boom")))
}

func TestIsAlreadyRegistered(t *testing.T) {
	assert.True(t, registration.IsAlreadyRegistered(registration.ErrAlreadyRegistered))
	assert.True(t, registration.IsAlreadyRegistered(
		fmt.Errorf("tx: %w", registration.ErrAlreadyRegistered)))

	assert.False(t, registration.IsAlreadyRegistered(nil))
	assert.False(t, registration.IsAlreadyRegistered(errors.New("boom")))
	assert.False(t, registration.IsAlreadyRegistered(registration.ErrLinkAlreadyUsed))
	assert.False(t, registration.IsAlreadyRegistered(
		goerrors.New("other conflict", goerrors.CategoryConflict)))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, registration.IsUniqueViolation(
		errors.New("UNIQUE constraint failed: users.email")))
	assert.True(t, registration.IsUniqueViolation(
		errors.New(`pq: duplicate key value violates unique constraint "users_email_key"`)))
	assert.True(t, registration.IsUniqueViolation(
		errors.New("Error 1062: Duplicate entry 'a@example.com' for key 'email'")))

	assert.False(t, registration.IsUniqueViolation(nil))
	assert.False(t, registration.IsUniqueViolation(errors.New("connection refused")))
}

func TestInvalidCodeMessagesDoNotLeakInternals(t *testing.T) {
	for _, err := range []error{
		registration.ErrLinkExpired,
		registration.ErrBadSignature,
		registration.ErrLinkMalformed,
	} {
		msg := registration.InvalidCodeMessage(err)
		assert.NotContains(t, msg, "hmac")
		assert.NotContains(t, msg, "base64")
		assert.NotContains(t, msg, "uuid")
	}
}
