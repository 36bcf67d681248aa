package registration

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// DefaultSessionCookie is the cookie name used by the JWT auto-login
// listener.
const DefaultSessionCookie = "auth_session"

// DefaultSessionDuration is how long the auto-login session lives.
const DefaultSessionDuration = 24 * time.Hour

type autoLogin struct {
	signingKey []byte
	repo       RepositoryManager
	cookieName string
	duration   time.Duration
	issuer     string
	logger     Logger
}

// AutoLoginOption customizes the JWT auto-login listener.
type AutoLoginOption func(*autoLogin)

// WithAutoLoginCookieName overrides the session cookie name.
func WithAutoLoginCookieName(name string) AutoLoginOption {
	return func(al *autoLogin) {
		if name != "" {
			al.cookieName = name
		}
	}
}

// WithAutoLoginDuration overrides the session duration.
func WithAutoLoginDuration(d time.Duration) AutoLoginOption {
	return func(al *autoLogin) {
		if d > 0 {
			al.duration = d
		}
	}
}

// WithAutoLoginIssuer overrides the JWT issuer claim.
func WithAutoLoginIssuer(issuer string) AutoLoginOption {
	return func(al *autoLogin) {
		if issuer != "" {
			al.issuer = issuer
		}
	}
}

// WithAutoLoginLogger overrides the logger.
func WithAutoLoginLogger(logger Logger) AutoLoginOption {
	return func(al *autoLogin) {
		if logger != nil {
			al.logger = logger
		}
	}
}

// JWTAutoLogin returns a PasswordSetListener that logs the user in right
// after their password was set: it mints an HS256 session token, sets the
// session cookie, and stamps the user's last login. Stamping the login also
// flips the replay marker, so the emailed link stops working the moment the
// first session is established.
func JWTAutoLogin(signingKey []byte, repo RepositoryManager, opts ...AutoLoginOption) PasswordSetListener {
	al := &autoLogin{
		signingKey: signingKey,
		repo:       repo,
		cookieName: DefaultSessionCookie,
		duration:   DefaultSessionDuration,
		issuer:     "email-registration",
		logger:     defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(al)
		}
	}

	return al.listen
}

func (al *autoLogin) listen(ctx context.Context, rc router.Context, user *User, password string) error {
	if user == nil {
		return nil
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    al.issuer,
		Subject:   user.ID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(al.duration)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(al.signingKey)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign auto-login session token")
	}

	if al.repo != nil {
		if err := al.repo.Users().TrackSuccessfulLogin(ctx, user); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to track auto-login")
		}
	}

	rc.Cookie(&router.Cookie{
		Name:     al.cookieName,
		Value:    signed,
		Expires:  now.Add(al.duration),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})

	return nil
}
