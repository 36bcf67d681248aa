package registration

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

type RequestRegistrationMessage struct {
	Email      string     `json:"email" example:"pepe.rone@example.com" doc:"Address the registration link is sent to."`
	RedirectTo string     `json:"redirect_to" example:"/welcome" doc:"Optional path the browser lands on after the password is set."`
	UserID     *uuid.UUID `json:"user_id,omitempty" doc:"Optional known user, set when re-issuing a password link."`
	OnResponse func(resp *RequestRegistrationResponse)
}

func (p RequestRegistrationMessage) Type() string { return "registration.request" }

type RequestRegistrationResponse struct {
	Intent  RegistrationIntent
	Code    string
	User    *User
	Success bool
}

type RequestRegistrationHandler struct {
	repo   RepositoryManager
	codec  *Codec
	mailer *Mailer
	logger Logger
}

// NewRequestRegistrationHandler creates a handler with sane defaults.
func NewRequestRegistrationHandler(repo RepositoryManager, codec *Codec, mailer *Mailer) *RequestRegistrationHandler {
	return &RequestRegistrationHandler{
		repo:   repo,
		codec:  codec,
		mailer: mailer,
		logger: defLogger{},
	}
}

// WithLogger overrides the logger used by the handler.
func (h *RequestRegistrationHandler) WithLogger(logger Logger) *RequestRegistrationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RequestRegistrationHandler) Execute(ctx context.Context, event RequestRegistrationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during registration request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RequestRegistrationHandler) execute(ctx context.Context, event RequestRegistrationMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.resolveUser(ctx, event)
	if err != nil {
		return err
	}

	intent := RegistrationIntent{
		Email:      event.Email,
		RedirectTo: event.RedirectTo,
	}

	if user != nil {
		intent.UserID = &user.ID
		intent.LoginMarker = LoginMarkerFor(user)
	}

	code, err := h.codec.Encode(intent)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "could not encode registration link")
	}

	if err := h.mailer.SendRegistrationMail(ctx, event.Email, code, nil); err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(&RequestRegistrationResponse{
			Intent:  intent,
			Code:    code,
			User:    user,
			Success: true,
		})
	}

	return nil
}

// resolveUser decides which account, if any, the link should be bound to.
// An explicit UserID always wins (recovery links issued by the host). For
// plain email requests an account that already completed a login rejects
// the request, while a pending account is re-bound so repeated requests
// keep resolving to the same user instead of creating a second one.
func (h *RequestRegistrationHandler) resolveUser(ctx context.Context, event RequestRegistrationMessage) (*User, error) {
	if event.UserID != nil {
		user, err := h.repo.Users().GetByID(ctx, event.UserID.String())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return nil, goerrors.New("unknown user for recovery link", goerrors.CategoryBadInput).
					WithMetadata(map[string]any{"user_id": event.UserID.String()})
			}
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for recovery link")
		}
		return user, nil
	}

	user, err := h.repo.Users().GetByEmail(ctx, event.Email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check for an existing account")
	}

	if user.LoggedInAt != nil {
		return nil, ErrAlreadyRegistered
	}

	return user, nil
}
