package registration

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// ConfirmOutcome is the coarse result of presenting a registration code.
type ConfirmOutcome string

const (
	// OutcomeShowForm means the link is valid and a password form should be
	// presented for the bound user.
	OutcomeShowForm ConfirmOutcome = "show-form"
	// OutcomeRejected means the link failed and the browser should be
	// redirected to a safe location with a single user-facing message.
	OutcomeRejected ConfirmOutcome = "rejected"
	// OutcomePasswordSet means a password was persisted.
	OutcomePasswordSet ConfirmOutcome = "password-set"
)

type ConfirmRegistrationMessage struct {
	Code       string        `json:"code" doc:"Signed registration token from the emailed link."`
	MaxAge     time.Duration `json:"max_age" doc:"Maximum accepted link age, zero means the default."`
	OnResponse func(resp *ConfirmRegistrationResponse)
}

func (p ConfirmRegistrationMessage) Type() string { return "registration.confirm" }

type ConfirmRegistrationResponse struct {
	Outcome    ConfirmOutcome
	State      ConfirmationState
	User       *User
	NewUser    bool
	Email      string
	RedirectTo string
	Message    string
}

type ConfirmRegistrationHandler struct {
	repo    RepositoryManager
	codec   *Codec
	machine ConfirmationStateMachine
	logger  Logger
}

// NewConfirmRegistrationHandler creates a handler with sane defaults.
func NewConfirmRegistrationHandler(repo RepositoryManager, codec *Codec) *ConfirmRegistrationHandler {
	return &ConfirmRegistrationHandler{
		repo:    repo,
		codec:   codec,
		machine: NewConfirmationStateMachine(repo),
		logger:  defLogger{},
	}
}

// WithStateMachine replaces the default confirmation state machine.
func (h *ConfirmRegistrationHandler) WithStateMachine(machine ConfirmationStateMachine) *ConfirmRegistrationHandler {
	if machine != nil {
		h.machine = machine
	}
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *ConfirmRegistrationHandler) WithLogger(logger Logger) *ConfirmRegistrationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ConfirmRegistrationHandler) Execute(ctx context.Context, event ConfirmRegistrationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during registration confirmation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ConfirmRegistrationHandler) execute(ctx context.Context, event ConfirmRegistrationMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	resp, err := h.evaluate(ctx, event.Code, event.MaxAge)
	if err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

// evaluate decodes the code and runs the confirmation state machine. Token
// failures are part of the expected flow, not application errors: they
// produce a rejected response with a single user-facing message so the
// boundary never exposes which check failed beyond the coarse category.
func (h *ConfirmRegistrationHandler) evaluate(ctx context.Context, code string, maxAge time.Duration) (*ConfirmRegistrationResponse, error) {
	intent, err := h.codec.Decode(code, maxAge)
	if err != nil {
		h.logger.Debug("registration link decode failed: %v", err)
		return &ConfirmRegistrationResponse{
			Outcome: OutcomeRejected,
			State:   StateRejected,
			Message: InvalidCodeMessage(err),
		}, nil
	}

	eval, err := h.machine.Evaluate(ctx, intent)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to evaluate registration link")
	}

	if eval.Rejected() {
		return &ConfirmRegistrationResponse{
			Outcome:    OutcomeRejected,
			State:      StateRejected,
			Email:      eval.Email,
			RedirectTo: eval.RedirectTo,
			Message:    eval.Reason.Message,
		}, nil
	}

	return &ConfirmRegistrationResponse{
		Outcome:    OutcomeShowForm,
		State:      eval.State,
		User:       eval.User,
		NewUser:    eval.NewUser,
		Email:      eval.Email,
		RedirectTo: eval.RedirectTo,
	}, nil
}
