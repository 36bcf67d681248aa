package registration

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-router"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds registration options inherited from the host application.
type Config interface {
	GetSigningKey() string
	GetBaseURL() string
	GetDefaultRedirect() string
	GetMaxAge() time.Duration
	GetMailFrom() string
}

// PasswordSetListener is invoked after a password was successfully set. The
// host wires auto-login, audit logging, or welcome mail here; it is an
// injected collaborator, never implicit global dispatch. The plaintext
// password is handed over so the host login primitive can establish a
// session without a second prompt.
type PasswordSetListener func(ctx context.Context, rc router.Context, user *User, password string) error

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] REGISTRATION "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] REGISTRATION "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] REGISTRATION "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
