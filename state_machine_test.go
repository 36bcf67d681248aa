package registration_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-email-registration"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from registration.ConfirmationState
		to   registration.ConfirmationState
		ok   bool
	}{
		{registration.StateAwaitingLink, registration.StateLinkDecoded, true},
		{registration.StateAwaitingLink, registration.StateRejected, true},
		{registration.StateAwaitingLink, registration.StatePasswordSet, false},
		{registration.StateLinkDecoded, registration.StateAwaitingPassword, true},
		{registration.StateLinkDecoded, registration.StateRejected, true},
		{registration.StateLinkDecoded, registration.StatePasswordSet, false},
		{registration.StateAwaitingPassword, registration.StateAwaitingPassword, true},
		{registration.StateAwaitingPassword, registration.StatePasswordSet, true},
		{registration.StateAwaitingPassword, registration.StateRejected, true},
		{registration.StatePasswordSet, registration.StateAwaitingPassword, false},
		{registration.StateRejected, registration.StateLinkDecoded, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, registration.CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestIsTerminalState(t *testing.T) {
	assert.True(t, registration.IsTerminalState(registration.StatePasswordSet))
	assert.True(t, registration.IsTerminalState(registration.StateRejected))
	assert.False(t, registration.IsTerminalState(registration.StateAwaitingLink))
	assert.False(t, registration.IsTerminalState(registration.StateLinkDecoded))
	assert.False(t, registration.IsTerminalState(registration.StateAwaitingPassword))
}

func TestEvaluateNewRegistration(t *testing.T) {
	repo := newTestRepo(t)
	machine := registration.NewConfirmationStateMachine(repo)

	eval, err := machine.Evaluate(context.Background(), registration.RegistrationIntent{
		Email:      "new@example.com",
		RedirectTo: "/welcome",
	})
	require.NoError(t, err)

	assert.False(t, eval.Rejected())
	assert.Equal(t, registration.StateAwaitingPassword, eval.State)
	assert.True(t, eval.NewUser)
	assert.Equal(t, "/welcome", eval.RedirectTo)

	require.NotNil(t, eval.User)
	assert.Equal(t, "new@example.com", eval.User.Email)
	assert.Equal(t, "new@example.com", eval.User.Username)
	assert.Equal(t, uuid.Nil, eval.User.ID, "provisioned user must not be persisted yet")
}

func TestEvaluateNewRegistrationExistingEmail(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Users().Register(ctx, &registration.User{Email: "taken@example.com"})
	require.NoError(t, err)

	var rejections []registration.ActivityEvent
	sink := registration.ActivitySinkFunc(func(_ context.Context, event registration.ActivityEvent) error {
		rejections = append(rejections, event)
		return nil
	})

	machine := registration.NewConfirmationStateMachine(repo,
		registration.WithConfirmationActivitySink(sink),
	)

	eval, err := machine.Evaluate(ctx, registration.RegistrationIntent{Email: "taken@example.com"})
	require.NoError(t, err)

	assert.True(t, eval.Rejected())
	assert.Nil(t, eval.User)
	require.NotNil(t, eval.Reason)
	assert.Equal(t, registration.TextCodeAlreadyRegistered, eval.Reason.TextCode)

	require.Len(t, rejections, 1)
	assert.Equal(t, registration.ActivityEventLinkRejected, rejections[0].EventType)
	assert.Equal(t, "taken@example.com", rejections[0].Email)
}

func TestEvaluateRecoveryUnknownUser(t *testing.T) {
	repo := newTestRepo(t)
	machine := registration.NewConfirmationStateMachine(repo)

	ghost := uuid.New()
	eval, err := machine.Evaluate(context.Background(), registration.RegistrationIntent{
		Email:       "ghost@example.com",
		UserID:      &ghost,
		LoginMarker: registration.MarkerNever,
	})
	require.NoError(t, err)

	assert.True(t, eval.Rejected())
	require.NotNil(t, eval.Reason)
	assert.Equal(t, registration.TextCodeLinkMalformed, eval.Reason.TextCode)
}

func TestEvaluateRecovery(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	user, err := repo.Users().Register(ctx, &registration.User{Email: "bob@example.com"})
	require.NoError(t, err)

	machine := registration.NewConfirmationStateMachine(repo)

	intent := registration.RegistrationIntent{
		Email:       user.Email,
		UserID:      &user.ID,
		LoginMarker: registration.LoginMarkerFor(user),
	}

	eval, err := machine.Evaluate(ctx, intent)
	require.NoError(t, err)

	assert.False(t, eval.Rejected())
	assert.Equal(t, registration.StateAwaitingPassword, eval.State)
	assert.False(t, eval.NewUser)
	require.NotNil(t, eval.User)
	assert.Equal(t, user.ID, eval.User.ID)

	// a login after issuance flips the marker and kills the link
	require.NoError(t, repo.Users().TrackSuccessfulLogin(ctx, user))

	eval, err = machine.Evaluate(ctx, intent)
	require.NoError(t, err)

	assert.True(t, eval.Rejected())
	require.NotNil(t, eval.Reason)
	assert.Equal(t, registration.TextCodeLinkAlreadyUsed, eval.Reason.TextCode)
}
