package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamhub/internal/audit"
	"teamhub/internal/common"
)

func TestEmailChangeFlow(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "ada@example.com", "ada")

	pending, err := env.svc.RequestEmailChange(context.Background(), registered.Me.ID, RequestEmailChangeInput{
		NewEmail: "Ada.New@Example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "ada.new@example.com", pending.NewEmail)

	// The code goes to the new address.
	mail := env.mail.last()
	assert.Equal(t, "email_change", mail.kind)
	assert.Equal(t, "ada.new@example.com", mail.to)

	// A second session from before the change should not survive it.
	other := env.signIn(t, "ada")

	me, err := env.svc.VerifyEmail(context.Background(), registered.Me.ID, registered.Session.ID, VerifyEmailInput{
		PendingEmailID: pending.ID,
		Code:           mail.code,
	})
	require.NoError(t, err)
	assert.Equal(t, "ada.new@example.com", me.Email)

	// Every session but the acting one is revoked.
	_, err = env.svc.ValidateSessionToken(context.Background(), other.Token)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
	_, err = env.svc.ValidateSessionToken(context.Background(), registered.Token)
	assert.NoError(t, err)

	// The old address got a notice after the switch.
	notice := env.mail.last()
	assert.Equal(t, "email_changed", notice.kind)
	assert.Equal(t, "ada@example.com", notice.to)

	assert.True(t, env.events.has(audit.EventEmailChanged))

	// The old address is free again, the new one is not.
	taken, err := env.users.IsEmailTaken(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.False(t, taken)
	taken, err = env.users.IsEmailTaken(context.Background(), "ada.new@example.com")
	require.NoError(t, err)
	assert.True(t, taken)
}

func TestRequestEmailChangeValidation(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "ada@example.com", "ada")
	env.register(t, "bob@example.com", "bob")

	_, err := env.svc.RequestEmailChange(context.Background(), registered.Me.ID, RequestEmailChangeInput{NewEmail: "nope"})
	assert.ErrorIs(t, err, common.ErrInvalidEmail)

	_, err = env.svc.RequestEmailChange(context.Background(), registered.Me.ID, RequestEmailChangeInput{NewEmail: "ada@example.com"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = env.svc.RequestEmailChange(context.Background(), registered.Me.ID, RequestEmailChangeInput{NewEmail: "bob@example.com"})
	assert.ErrorIs(t, err, common.ErrEmailTaken)
}

func TestVerifyEmailOwnership(t *testing.T) {
	env := newTestEnv(t)
	ada := env.register(t, "ada@example.com", "ada")
	bob := env.register(t, "bob@example.com", "bob")

	pending, err := env.svc.RequestEmailChange(context.Background(), ada.Me.ID, RequestEmailChangeInput{
		NewEmail: "ada.new@example.com",
	})
	require.NoError(t, err)
	code := env.mail.last().code

	// Another user cannot complete the flow, even with the right code.
	_, err = env.svc.VerifyEmail(context.Background(), bob.Me.ID, bob.Session.ID, VerifyEmailInput{
		PendingEmailID: pending.ID,
		Code:           code,
	})
	assert.ErrorIs(t, err, common.ErrPermissionDenied)

	_, err = env.svc.VerifyEmail(context.Background(), ada.Me.ID, ada.Session.ID, VerifyEmailInput{
		PendingEmailID: pending.ID,
		Code:           code,
	})
	assert.NoError(t, err)
}

func TestVerifyEmailWrongCode(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "ada@example.com", "ada")

	pending, err := env.svc.RequestEmailChange(context.Background(), registered.Me.ID, RequestEmailChangeInput{
		NewEmail: "ada.new@example.com",
	})
	require.NoError(t, err)

	_, err = env.svc.VerifyEmail(context.Background(), registered.Me.ID, registered.Session.ID, VerifyEmailInput{
		PendingEmailID: pending.ID,
		Code:           wrongCode(env.mail.last().code),
	})
	assert.ErrorIs(t, err, common.ErrInvalidOrExpired)

	// The account keeps its old address.
	me, err := env.svc.GetMe(context.Background(), registered.Me.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", me.Email)
}

func TestVerifyEmailConsumesOnce(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "ada@example.com", "ada")

	pending, err := env.svc.RequestEmailChange(context.Background(), registered.Me.ID, RequestEmailChangeInput{
		NewEmail: "ada.new@example.com",
	})
	require.NoError(t, err)
	code := env.mail.last().code

	_, err = env.svc.VerifyEmail(context.Background(), registered.Me.ID, registered.Session.ID, VerifyEmailInput{
		PendingEmailID: pending.ID,
		Code:           code,
	})
	require.NoError(t, err)

	_, err = env.svc.VerifyEmail(context.Background(), registered.Me.ID, registered.Session.ID, VerifyEmailInput{
		PendingEmailID: pending.ID,
		Code:           code,
	})
	assert.ErrorIs(t, err, common.ErrInvalidOrExpired)
}
