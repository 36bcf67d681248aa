package registration

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// ConfirmationState is a stage in the life of a registration link.
type ConfirmationState string

const (
	// StateAwaitingLink is the implicit state before a code is decoded.
	StateAwaitingLink ConfirmationState = "awaiting-link"
	// StateLinkDecoded means the token verified and was split into an intent.
	StateLinkDecoded ConfirmationState = "link-decoded"
	// StateAwaitingPassword means a password form is bound to a user record.
	StateAwaitingPassword ConfirmationState = "awaiting-password"
	// StatePasswordSet is the terminal success state.
	StatePasswordSet ConfirmationState = "password-set"
	// StateRejected is the terminal failure state for any InvalidCode or
	// domain error.
	StateRejected ConfirmationState = "rejected"
)

// confirmationTransitions is the legal transition graph. A failed password
// validation redisplays the form, so AwaitingPassword may transition to
// itself.
var confirmationTransitions = map[ConfirmationState][]ConfirmationState{
	StateAwaitingLink:     {StateLinkDecoded, StateRejected},
	StateLinkDecoded:      {StateAwaitingPassword, StateRejected},
	StateAwaitingPassword: {StateAwaitingPassword, StatePasswordSet, StateRejected},
	StatePasswordSet:      nil,
	StateRejected:         nil,
}

// CanTransition reports whether moving from one confirmation state to
// another is allowed.
func CanTransition(from, to ConfirmationState) bool {
	for _, next := range confirmationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalState reports whether the state has no outgoing transitions.
func IsTerminalState(state ConfirmationState) bool {
	return len(confirmationTransitions[state]) == 0
}

// Evaluation is the outcome of feeding a decoded intent to the state
// machine: either a user record (possibly unsaved) awaiting a password, or
// a rejection carrying the user-facing reason.
type Evaluation struct {
	State      ConfirmationState
	User       *User
	NewUser    bool
	Email      string
	RedirectTo string
	Reason     *goerrors.Error
}

// Rejected reports whether the evaluation ended in the rejected state.
func (e *Evaluation) Rejected() bool {
	return e != nil && e.State == StateRejected
}

// ConfirmationStateMachine turns a decoded RegistrationIntent into an
// Evaluation, deciding between the new-registration and recovery paths and
// detecting replayed links.
type ConfirmationStateMachine interface {
	Evaluate(ctx context.Context, intent RegistrationIntent) (*Evaluation, error)
}

// ConfirmationOption customizes state machine construction.
type ConfirmationOption func(*confirmationStateMachine)

// WithConfirmationIdentityLimits sets the statically declared identity
// column constraints used when synthesizing usernames.
func WithConfirmationIdentityLimits(limits IdentityLimits) ConfirmationOption {
	return func(sm *confirmationStateMachine) {
		sm.limits = limits
	}
}

// WithConfirmationActivitySink sets the sink used to publish rejections.
func WithConfirmationActivitySink(sink ActivitySink) ConfirmationOption {
	return func(sm *confirmationStateMachine) {
		sm.activity = normalizeActivitySink(sink)
	}
}

// WithConfirmationLogger overrides the logger used for sink failures.
func WithConfirmationLogger(logger Logger) ConfirmationOption {
	return func(sm *confirmationStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

type confirmationStateMachine struct {
	repo     RepositoryManager
	limits   IdentityLimits
	activity ActivitySink
	logger   Logger
}

// NewConfirmationStateMachine builds the confirmation state machine on top
// of the shared repositories.
func NewConfirmationStateMachine(repo RepositoryManager, opts ...ConfirmationOption) ConfirmationStateMachine {
	sm := &confirmationStateMachine{
		repo:     repo,
		limits:   DefaultIdentityLimits(),
		activity: noopActivitySink{},
		logger:   defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

func (sm *confirmationStateMachine) Evaluate(ctx context.Context, intent RegistrationIntent) (*Evaluation, error) {
	eval := &Evaluation{
		State:      StateLinkDecoded,
		Email:      intent.Email,
		RedirectTo: intent.RedirectTo,
	}

	if intent.UserID == nil {
		return sm.evaluateNewRegistration(ctx, intent, eval)
	}

	return sm.evaluateRecovery(ctx, intent, eval)
}

// evaluateNewRegistration handles links issued without a user: provision a
// not-yet-saved account unless the address registered through another route
// since the link was issued.
func (sm *confirmationStateMachine) evaluateNewRegistration(ctx context.Context, intent RegistrationIntent, eval *Evaluation) (*Evaluation, error) {
	existing, err := sm.repo.Users().GetByEmail(ctx, intent.Email)
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check for an existing account")
	}

	if err == nil && existing != nil {
		return sm.reject(ctx, eval, ErrAlreadyRegistered), nil
	}

	eval.User = &User{
		Email:    intent.Email,
		Username: UsernameForEmail(intent.Email, sm.limits),
	}
	eval.NewUser = true
	eval.State = StateAwaitingPassword

	return eval, nil
}

// evaluateRecovery handles links bound to a known user. The marker embedded
// at issue time is compared against the marker recomputed from the user's
// current last login: any login since issuance invalidates the link.
func (sm *confirmationStateMachine) evaluateRecovery(ctx context.Context, intent RegistrationIntent, eval *Evaluation) (*Evaluation, error) {
	user, err := sm.repo.Users().GetByID(ctx, intent.UserID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return sm.reject(ctx, eval, ErrLinkMalformed), nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve the user embedded in the link")
	}

	if LoginMarkerFor(user) != intent.LoginMarker {
		return sm.reject(ctx, eval, ErrLinkAlreadyUsed), nil
	}

	eval.User = user
	eval.State = StateAwaitingPassword

	return eval, nil
}

func (sm *confirmationStateMachine) reject(ctx context.Context, eval *Evaluation, reason *goerrors.Error) *Evaluation {
	eval.State = StateRejected
	eval.Reason = reason
	eval.User = nil
	eval.NewUser = false

	event := ActivityEvent{
		EventType: ActivityEventLinkRejected,
		Email:     eval.Email,
		Metadata: map[string]any{
			"text_code": reason.TextCode,
		},
		OccurredAt: time.Now(),
	}

	if err := sm.activity.Record(ctx, event); err != nil {
		sm.logger.Error("activity sink error during link rejection: %v", err)
	}

	return eval
}
