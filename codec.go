package registration

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DefaultSalt namespaces registration tokens so they cannot be confused with
// tokens issued by unrelated subsystems sharing the same signing key.
const DefaultSalt = "email_registration"

// DefaultMaxAge is the default validity window for registration links.
const DefaultMaxAge = 72 * time.Hour

// MarkerNever is the replay marker for users that have never logged in.
const MarkerNever = "never"

const (
	fieldSep      = ":"
	payloadFields = 4
)

// RegistrationIntent is the decoded meaning of a registration token: who is
// registering or recovering, under what prior identity, and where to send
// the browser after a successful password set.
//
// UserID and LoginMarker travel together or not at all: a token for an
// existing user always embeds the marker (possibly MarkerNever), a token for
// a brand-new registration embeds neither.
type RegistrationIntent struct {
	Email       string
	UserID      *uuid.UUID
	LoginMarker string
	RedirectTo  string
}

// Codec converts a RegistrationIntent to and from a compact, signed,
// URL-safe string. Tokens are stateless: the issue timestamp is embedded at
// signing time and expiry is enforced purely by signature verification.
//
// Wire format: email:user_id:marker:redirect:ts:sig where ts is the issue
// time in base-36 seconds and sig is a raw URL base64 HMAC-SHA256 over
// everything before it.
type Codec struct {
	signingKey []byte
	salt       string
	now        func() time.Time
}

// CodecOption customizes codec construction.
type CodecOption func(*Codec)

// WithCodecClock injects a custom clock (useful for tests).
func WithCodecClock(clock func() time.Time) CodecOption {
	return func(c *Codec) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithCodecSalt overrides the fixed salt used to derive the signing key.
func WithCodecSalt(salt string) CodecOption {
	return func(c *Codec) {
		if salt != "" {
			c.salt = salt
		}
	}
}

// NewCodec creates a codec bound to the host-wide signing key.
func NewCodec(signingKey []byte, opts ...CodecOption) *Codec {
	c := &Codec{
		signingKey: signingKey,
		salt:       DefaultSalt,
		now:        time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// Encode serializes and signs the intent. The field delimiter is rejected
// (not escaped) inside email and redirect target so the payload always
// splits back into exactly four fields.
func (c *Codec) Encode(intent RegistrationIntent) (string, error) {
	if intent.Email == "" {
		return "", goerrors.New("registration intent requires an email", goerrors.CategoryBadInput)
	}

	if strings.Contains(intent.Email, fieldSep) || strings.Contains(intent.RedirectTo, fieldSep) {
		return "", goerrors.New("registration intent fields must not contain the token delimiter", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"delimiter": fieldSep})
	}

	userField := ""
	if intent.UserID != nil {
		if intent.LoginMarker == "" {
			return "", goerrors.New("registration intent with a user requires a login marker", goerrors.CategoryBadInput)
		}
		userField = intent.UserID.String()
	} else if intent.LoginMarker != "" {
		return "", goerrors.New("registration intent without a user must not carry a login marker", goerrors.CategoryBadInput)
	}

	payload := strings.Join([]string{
		intent.Email,
		userField,
		intent.LoginMarker,
		intent.RedirectTo,
	}, fieldSep)

	ts := strconv.FormatInt(c.now().Unix(), 36)
	value := payload + fieldSep + ts

	return value + fieldSep + c.sign(value), nil
}

// Decode verifies the signature and embedded timestamp, then splits the
// payload back into a RegistrationIntent. Failures are members of the
// InvalidCode family: ErrBadSignature, ErrLinkExpired, ErrLinkMalformed.
// A maxAge of zero or less falls back to DefaultMaxAge.
func (c *Codec) Decode(code string, maxAge time.Duration) (RegistrationIntent, error) {
	intent := RegistrationIntent{}

	idx := strings.LastIndex(code, fieldSep)
	if idx < 0 {
		return intent, ErrBadSignature
	}

	value, sig := code[:idx], code[idx+1:]
	if !hmac.Equal([]byte(sig), []byte(c.sign(value))) {
		return intent, ErrBadSignature
	}

	idx = strings.LastIndex(value, fieldSep)
	if idx < 0 {
		return intent, ErrLinkMalformed
	}

	payload, tsField := value[:idx], value[idx+1:]

	ts, err := strconv.ParseInt(tsField, 36, 64)
	if err != nil {
		return intent, ErrLinkMalformed
	}

	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	if c.now().Sub(time.Unix(ts, 0)) > maxAge {
		return intent, ErrLinkExpired
	}

	// Wrong field counts guard against payloads produced by an
	// incompatible earlier or future layout of this codec.
	parts := strings.Split(payload, fieldSep)
	if len(parts) != payloadFields {
		return intent, ErrLinkMalformed
	}

	intent.Email = parts[0]
	intent.LoginMarker = parts[2]
	intent.RedirectTo = parts[3]

	if intent.Email == "" {
		return intent, ErrLinkMalformed
	}

	if parts[1] != "" {
		id, err := uuid.Parse(parts[1])
		if err != nil {
			return intent, ErrLinkMalformed
		}
		intent.UserID = &id
		if intent.LoginMarker == "" {
			return intent, ErrLinkMalformed
		}
	} else if intent.LoginMarker != "" {
		return intent, ErrLinkMalformed
	}

	return intent, nil
}

func (c *Codec) sign(value string) string {
	mac := hmac.New(sha256.New, c.derivedKey())
	mac.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// derivedKey mixes the salt into the signing key so every salt gets its own
// token namespace even when the host reuses one secret everywhere.
func (c *Codec) derivedKey() []byte {
	h := sha256.New()
	h.Write([]byte(c.salt + "signer"))
	h.Write(c.signingKey)
	return h.Sum(nil)
}
