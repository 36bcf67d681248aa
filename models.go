package registration

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the host account-identity record: identity field (username),
// email, password hash, and last-login timestamp. Both username and email
// carry unique constraints; those constraints are the only serialization
// point between concurrent registrations for the same address.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Username      string     `bun:"username,notnull,unique" json:"username,omitempty"`
	Email         string     `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash  string     `bun:"password_hash" json:"password_hash,omitempty"`
	LoggedInAt    *time.Time `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// DefaultMaxUsernameLength matches the common host constraint on the
// identity column.
const DefaultMaxUsernameLength = 30

// IdentityLimits is the statically declared mapping between the host's
// identity column constraints and this package. It replaces any runtime
// model introspection: the integrating application states the limit once at
// configuration time.
type IdentityLimits struct {
	MaxUsernameLength int
}

// DefaultIdentityLimits returns the limits used when the host declares none.
func DefaultIdentityLimits() IdentityLimits {
	return IdentityLimits{MaxUsernameLength: DefaultMaxUsernameLength}
}

// LoginMarkerFor derives the replay marker from the user's current
// last-login timestamp: base-36 seconds, or MarkerNever for accounts that
// never logged in. Recovery links embed this value at issue time; once the
// user logs in the recomputed marker differs and the link stops working.
func LoginMarkerFor(user *User) string {
	if user == nil || user.LoggedInAt == nil {
		return MarkerNever
	}
	return strconv.FormatInt(user.LoggedInAt.Unix(), 36)
}

// UsernameForEmail picks the identity field value for a new account. The
// email doubles as username while it fits the identity column; otherwise a
// random value is substituted and the real address lives on in the email
// column.
func UsernameForEmail(email string, limits IdentityLimits) string {
	max := limits.MaxUsernameLength
	if max <= 0 {
		max = DefaultMaxUsernameLength
	}

	if len(email) <= max {
		return email
	}

	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	if len(raw) > max {
		raw = raw[:max]
	}
	return raw
}
