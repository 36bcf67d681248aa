package registration

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	// TextCodeLinkExpired marks tokens whose embedded timestamp is too old.
	TextCodeLinkExpired = "LINK_EXPIRED"
	// TextCodeBadSignature marks tokens that fail HMAC verification.
	TextCodeBadSignature = "BAD_SIGNATURE"
	// TextCodeLinkMalformed marks tokens with an unexpected payload shape.
	TextCodeLinkMalformed = "LINK_MALFORMED"
	// TextCodeLinkAlreadyUsed marks recovery links consumed after a login.
	TextCodeLinkAlreadyUsed = "LINK_ALREADY_USED"
	// TextCodeAlreadyRegistered marks emails that resolve to an active account.
	TextCodeAlreadyRegistered = "ALREADY_REGISTERED"
)

// ErrLinkExpired is returned when the token timestamp exceeds the max age.
var ErrLinkExpired = goerrors.New(
	"The link is expired. Please request another registration link.",
	goerrors.CategoryValidation).
	WithTextCode(TextCodeLinkExpired).
	WithCode(goerrors.CodeBadRequest)

// ErrBadSignature is returned when the token signature does not verify.
var ErrBadSignature = goerrors.New(
	"Unable to verify the signature. Please request a new registration link.",
	goerrors.CategoryValidation).
	WithTextCode(TextCodeBadSignature).
	WithCode(goerrors.CodeBadRequest)

// ErrLinkMalformed is returned when the payload shape is wrong or the
// embedded user reference does not resolve.
var ErrLinkMalformed = goerrors.New(
	"Something went wrong while decoding the registration request. Please try again.",
	goerrors.CategoryValidation).
	WithTextCode(TextCodeLinkMalformed).
	WithCode(goerrors.CodeBadRequest)

// ErrLinkAlreadyUsed is returned when a recovery link is presented after the
// target user already logged in.
var ErrLinkAlreadyUsed = goerrors.New(
	"The link has already been used. Please request a new registration link.",
	goerrors.CategoryConflict).
	WithTextCode(TextCodeLinkAlreadyUsed).
	WithCode(goerrors.CodeConflict)

// ErrAlreadyRegistered is returned when the email already belongs to an
// account that completed registration.
var ErrAlreadyRegistered = goerrors.New(
	"This e-mail address already exists as an account. Do you want to reset your password?",
	goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyRegistered).
	WithCode(goerrors.CodeConflict)

// IsInvalidCode reports whether err belongs to the token decoding error
// family (expired, bad signature, malformed). Callers present these with a
// single flash message and a safe redirect, never a raw error.
func IsInvalidCode(err error) bool {
	if err == nil {
		return false
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}

	switch richErr.TextCode {
	case TextCodeLinkExpired, TextCodeBadSignature, TextCodeLinkMalformed:
		return true
	}

	return false
}

// InvalidCodeMessage returns the user-facing message for a token decoding
// failure, falling back to the malformed message for unknown errors.
func InvalidCodeMessage(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Message != "" {
		return richErr.Message
	}
	return ErrLinkMalformed.Message
}

// IsAlreadyRegistered reports whether err carries the "already registered"
// conflict, either raised directly or mapped from a uniqueness violation.
func IsAlreadyRegistered(err error) bool {
	if err == nil {
		return false
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}

	return richErr.TextCode == TextCodeAlreadyRegistered
}

// IsUniqueViolation will check for storage uniqueness constraint errors.
// The account store's unique email/username columns are the only
// serialization point between concurrent registrations, so the second
// writer's failure must surface as "already registered" and never as a raw
// storage error.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "Duplicate entry")
}
