package registration

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// MsgPasswordSet is the user-facing success message after a password set.
const MsgPasswordSet = "Successfully set the new password."

type SetPasswordMessage struct {
	Code       string        `json:"code" doc:"Signed registration token from the emailed link."`
	MaxAge     time.Duration `json:"max_age" doc:"Maximum accepted link age, zero means the default."`
	Password   string        `json:"password" example:"some_secret_word" doc:"Password"`
	OnResponse func(resp *SetPasswordResponse)
}

func (p SetPasswordMessage) Type() string { return "registration.password_set" }

type SetPasswordResponse struct {
	Outcome    ConfirmOutcome
	User       *User
	Created    bool
	Email      string
	RedirectTo string
	Message    string
}

type SetPasswordHandler struct {
	repo     RepositoryManager
	confirm  *ConfirmRegistrationHandler
	activity ActivitySink
	logger   Logger
}

// NewSetPasswordHandler creates a handler with sane defaults.
func NewSetPasswordHandler(repo RepositoryManager, codec *Codec) *SetPasswordHandler {
	return &SetPasswordHandler{
		repo:     repo,
		confirm:  NewConfirmRegistrationHandler(repo, codec),
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithStateMachine replaces the confirmation state machine used to
// re-evaluate the code before finalizing.
func (h *SetPasswordHandler) WithStateMachine(machine ConfirmationStateMachine) *SetPasswordHandler {
	h.confirm.WithStateMachine(machine)
	return h
}

// WithActivitySink sets the sink used to emit password set events.
func (h *SetPasswordHandler) WithActivitySink(sink ActivitySink) *SetPasswordHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *SetPasswordHandler) WithLogger(logger Logger) *SetPasswordHandler {
	if logger != nil {
		h.logger = logger
		h.confirm.WithLogger(logger)
	}
	return h
}

func (h *SetPasswordHandler) Execute(ctx context.Context, event SetPasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password set",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SetPasswordHandler) execute(ctx context.Context, event SetPasswordMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	// The signed code is the only state carried between showing the form
	// and submitting it, so it is decoded and evaluated again here.
	confirmed, err := h.confirm.evaluate(ctx, event.Code, event.MaxAge)
	if err != nil {
		return err
	}

	if confirmed.Outcome == OutcomeRejected {
		h.respond(event, &SetPasswordResponse{
			Outcome:    OutcomeRejected,
			Email:      confirmed.Email,
			RedirectTo: confirmed.RedirectTo,
			Message:    confirmed.Message,
		})
		return nil
	}

	if !CanTransition(confirmed.State, StatePasswordSet) {
		return goerrors.New("illegal confirmation state for password set", goerrors.CategoryInternal).
			WithMetadata(map[string]any{"state": string(confirmed.State)})
	}

	hash, err := HashPassword(event.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	user := confirmed.User

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if confirmed.NewUser {
			created, err := h.repo.Users().RegisterTx(ctx, tx, user)
			if err != nil {
				if IsUniqueViolation(err) {
					return ErrAlreadyRegistered
				}
				return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create user")
			}
			user = created
		}

		if err := h.repo.Users().SetPasswordTx(ctx, tx, user.ID, hash); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user password in database")
		}

		return nil
	})

	if err != nil {
		// A concurrent registration may win the race between evaluation and
		// finalization; the store's uniqueness constraint is the arbiter and
		// the loser surfaces as the same "already registered" outcome.
		if IsAlreadyRegistered(err) {
			h.respond(event, &SetPasswordResponse{
				Outcome:    OutcomeRejected,
				Email:      confirmed.Email,
				RedirectTo: confirmed.RedirectTo,
				Message:    ErrAlreadyRegistered.Message,
			})
			return nil
		}

		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to finalize registration")
	}

	h.recordActivity(ctx, user, confirmed.NewUser)

	h.respond(event, &SetPasswordResponse{
		Outcome:    OutcomePasswordSet,
		User:       user,
		Created:    confirmed.NewUser,
		Email:      confirmed.Email,
		RedirectTo: confirmed.RedirectTo,
		Message:    MsgPasswordSet,
	})

	return nil
}

func (h *SetPasswordHandler) respond(event SetPasswordMessage, resp *SetPasswordResponse) {
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}
}

func (h *SetPasswordHandler) recordActivity(ctx context.Context, user *User, created bool) {
	if user == nil {
		return
	}

	event := ActivityEvent{
		EventType: ActivityEventPasswordSet,
		Email:     user.Email,
		UserID:    user.ID.String(),
		Metadata: map[string]any{
			"created": created,
		},
		OccurredAt: time.Now(),
	}

	if err := h.activity.Record(ctx, event); err != nil {
		h.logger.Error("activity sink error during password set: %v", err)
	}
}
