package registration_test

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-email-registration"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestJWTAutoLogin(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	user, err := repo.Users().Register(ctx, &registration.User{Email: "a@example.com"})
	require.NoError(t, err)
	require.Nil(t, user.LoggedInAt)

	var sessionToken string

	mockCtx := router.NewMockContext()
	mockCtx.On("Cookie", mock.MatchedBy(func(c *router.Cookie) bool {
		sessionToken = c.Value
		return c.Name == registration.DefaultSessionCookie &&
			c.Value != "" &&
			c.HTTPOnly &&
			c.Secure
	})).Return()

	listener := registration.JWTAutoLogin(storySigningKey, repo,
		registration.WithAutoLoginIssuer("test-suite"),
	)

	err = listener(ctx, mockCtx, user, "secret1")
	require.NoError(t, err)
	mockCtx.AssertExpectations(t)

	parsed, err := jwt.Parse(sessionToken, func(*jwt.Token) (any, error) {
		return storySigningKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	subject, err := parsed.Claims.GetSubject()
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), subject)

	issuer, err := parsed.Claims.GetIssuer()
	require.NoError(t, err)
	assert.Equal(t, "test-suite", issuer)

	// the login stamp flips the replay marker, so the emailed link dies
	// the moment the first session is established
	assert.NotNil(t, user.LoggedInAt)
	assert.NotEqual(t, registration.MarkerNever, registration.LoginMarkerFor(user))
}

func TestJWTAutoLoginCookieOverrides(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	user, err := repo.Users().Register(ctx, &registration.User{Email: "b@example.com"})
	require.NoError(t, err)

	mockCtx := router.NewMockContext()
	mockCtx.On("Cookie", mock.MatchedBy(func(c *router.Cookie) bool {
		return c.Name == "custom_session"
	})).Return()

	listener := registration.JWTAutoLogin(storySigningKey, repo,
		registration.WithAutoLoginCookieName("custom_session"),
	)

	require.NoError(t, listener(ctx, mockCtx, user, "secret1"))
	mockCtx.AssertExpectations(t)
}

func TestJWTAutoLoginIgnoresNilUser(t *testing.T) {
	listener := registration.JWTAutoLogin(storySigningKey, nil)

	mockCtx := router.NewMockContext()
	require.NoError(t, listener(context.Background(), mockCtx, nil, "secret1"))
	mockCtx.AssertExpectations(t)
}
