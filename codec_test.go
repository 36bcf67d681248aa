package registration

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key")

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCodecRoundTrip(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name   string
		intent RegistrationIntent
	}{
		{
			name: "new registration, email only",
			intent: RegistrationIntent{
				Email: "a@example.com",
			},
		},
		{
			name: "new registration with redirect",
			intent: RegistrationIntent{
				Email:      "a@example.com",
				RedirectTo: "/welcome",
			},
		},
		{
			name: "recovery link, never logged in",
			intent: RegistrationIntent{
				Email:       "bob@example.com",
				UserID:      &userID,
				LoginMarker: MarkerNever,
			},
		},
		{
			name: "recovery link with login marker and redirect",
			intent: RegistrationIntent{
				Email:       "bob@example.com",
				UserID:      &userID,
				LoginMarker: "s0m3m4rk",
				RedirectTo:  "/dashboard",
			},
		},
	}

	codec := NewCodec(testSigningKey)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := codec.Encode(tt.intent)
			require.NoError(t, err)

			decoded, err := codec.Decode(code, DefaultMaxAge)
			require.NoError(t, err)

			assert.Equal(t, tt.intent.Email, decoded.Email)
			assert.Equal(t, tt.intent.LoginMarker, decoded.LoginMarker)
			assert.Equal(t, tt.intent.RedirectTo, decoded.RedirectTo)

			if tt.intent.UserID == nil {
				assert.Nil(t, decoded.UserID)
			} else {
				require.NotNil(t, decoded.UserID)
				assert.Equal(t, *tt.intent.UserID, *decoded.UserID)
			}
		})
	}
}

func TestCodecTokenShape(t *testing.T) {
	issued := time.Now()
	codec := NewCodec(testSigningKey, WithCodecClock(fixedClock(issued)))

	code, err := codec.Encode(RegistrationIntent{Email: "a@example.com"})
	require.NoError(t, err)

	// email, three empty optional fields, timestamp, signature
	assert.True(t, strings.HasPrefix(code, "a@example.com::::"), "got %q", code)
	assert.Len(t, strings.Split(code, ":"), 6)
}

func TestCodecEncodeRejectsBadIntents(t *testing.T) {
	codec := NewCodec(testSigningKey)
	userID := uuid.New()

	tests := []struct {
		name   string
		intent RegistrationIntent
	}{
		{"empty email", RegistrationIntent{}},
		{"delimiter in email", RegistrationIntent{Email: "a:b@example.com"}},
		{"delimiter in redirect", RegistrationIntent{Email: "a@example.com", RedirectTo: "/x:y"}},
		{"user without marker", RegistrationIntent{Email: "a@example.com", UserID: &userID}},
		{"marker without user", RegistrationIntent{Email: "a@example.com", LoginMarker: MarkerNever}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Encode(tt.intent)
			require.Error(t, err)
		})
	}
}

func TestCodecExpiry(t *testing.T) {
	issued := time.Now()
	codec := NewCodec(testSigningKey, WithCodecClock(fixedClock(issued)))

	code, err := codec.Encode(RegistrationIntent{Email: "a@example.com"})
	require.NoError(t, err)

	later := NewCodec(testSigningKey, WithCodecClock(fixedClock(issued.Add(2*time.Second))))

	_, err = later.Decode(code, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLinkExpired)

	_, err = later.Decode(code, time.Minute)
	assert.NoError(t, err)
}

// Decreasing maxAge can only turn a success into an expiry failure, never
// the reverse.
func TestCodecExpiryMonotonic(t *testing.T) {
	issued := time.Now()
	codec := NewCodec(testSigningKey, WithCodecClock(fixedClock(issued)))

	code, err := codec.Encode(RegistrationIntent{Email: "a@example.com"})
	require.NoError(t, err)

	decoder := NewCodec(testSigningKey, WithCodecClock(fixedClock(issued.Add(10*time.Second))))

	failed := false
	for _, maxAge := range []time.Duration{time.Minute, 30 * time.Second, 11 * time.Second, 10 * time.Second, 9 * time.Second, time.Second} {
		_, err := decoder.Decode(code, maxAge)
		if err != nil {
			assert.ErrorIs(t, err, ErrLinkExpired)
			failed = true
			continue
		}
		assert.False(t, failed, "token succeeded with maxAge %s after failing with a larger one", maxAge)
	}
	assert.True(t, failed)
}

func TestCodecDecodeDefaultsMaxAge(t *testing.T) {
	issued := time.Now()
	codec := NewCodec(testSigningKey, WithCodecClock(fixedClock(issued)))

	code, err := codec.Encode(RegistrationIntent{Email: "a@example.com"})
	require.NoError(t, err)

	decoder := NewCodec(testSigningKey, WithCodecClock(fixedClock(issued.Add(DefaultMaxAge-time.Hour))))
	_, err = decoder.Decode(code, 0)
	assert.NoError(t, err)

	decoder = NewCodec(testSigningKey, WithCodecClock(fixedClock(issued.Add(DefaultMaxAge+time.Hour))))
	_, err = decoder.Decode(code, 0)
	assert.ErrorIs(t, err, ErrLinkExpired)
}

func TestCodecTamperDetection(t *testing.T) {
	codec := NewCodec(testSigningKey)

	code, err := codec.Encode(RegistrationIntent{Email: "a@example.com", RedirectTo: "/welcome"})
	require.NoError(t, err)

	for i := 0; i < len(code); i++ {
		mutated := []byte(code)
		if mutated[i] == 'x' {
			mutated[i] = 'y'
		} else {
			mutated[i] = 'x'
		}

		_, err := codec.Decode(string(mutated), DefaultMaxAge)
		assert.Error(t, err, "mutation at offset %d was accepted", i)
	}
}

func TestCodecRejectsForeignSalt(t *testing.T) {
	codec := NewCodec(testSigningKey)
	other := NewCodec(testSigningKey, WithCodecSalt("password_reset"))

	code, err := codec.Encode(RegistrationIntent{Email: "a@example.com"})
	require.NoError(t, err)

	_, err = other.Decode(code, DefaultMaxAge)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestCodecMalformedPayloads(t *testing.T) {
	codec := NewCodec(testSigningKey)
	ts := "s0m3t1m3"

	sign := func(value string) string {
		return value + ":" + codec.sign(value)
	}

	tests := []struct {
		name string
		code string
		want error
	}{
		{"no delimiter at all", "garbage", ErrBadSignature},
		{"bad signature", "a@example.com::::" + ts + ":bogus", ErrBadSignature},
		{"two fields", sign("a@example.com:" + ts), ErrLinkMalformed},
		{"three fields", sign("a@example.com::" + ts), ErrLinkMalformed},
		{"five fields", sign("a@example.com::::" + "extra:" + ts), ErrLinkMalformed},
		{"empty email", sign(":::" + ":" + ts), ErrLinkMalformed},
		{"bad timestamp", sign("a@example.com::::!!!"), ErrLinkMalformed},
		{"user id is not a uuid", sign("a@example.com:42:" + MarkerNever + "::" + ts), ErrLinkMalformed},
		{"user without marker", sign("a@example.com:" + uuid.NewString() + ":::" + ts), ErrLinkMalformed},
		{"marker without user", sign("a@example.com::" + MarkerNever + "::" + ts), ErrLinkMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.code, DefaultMaxAge)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
