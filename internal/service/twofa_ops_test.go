package service

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamhub/internal/audit"
	"teamhub/internal/common"
	"teamhub/internal/model"
)

func TestTwoFaSetupLifecycle(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "ada@example.com", "ada")

	setup, err := env.svc.SetupTwoFa(context.Background(), registered.Me.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, setup.Secret)
	assert.Contains(t, setup.OtpauthURL, "otpauth://totp/")

	// Pending setup does not yet require 2FA at sign-in.
	me, err := env.svc.GetMe(context.Background(), registered.Me.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TwoFaPendingSetup, me.TwoFaStatus)
	assert.False(t, me.TwoFaActive())

	// A second session, signed in before 2FA goes on, should not survive it.
	other := env.signIn(t, "ada")

	code, err := totp.GenerateCode(setup.Secret, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, env.svc.CompleteTwoFaSetup(context.Background(), registered.Me.ID, registered.Session.ID, code))
	assert.True(t, env.events.has(audit.EventTwoFaEnabled))

	// Enabling 2FA signs out every session but the acting one.
	_, err = env.svc.ValidateSessionToken(context.Background(), other.Token)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
	_, err = env.svc.ValidateSessionToken(context.Background(), registered.Token)
	assert.NoError(t, err)

	me, err = env.svc.GetMe(context.Background(), registered.Me.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TwoFaEnabled, me.TwoFaStatus)

	// Re-running setup on an enabled account is rejected.
	_, err = env.svc.SetupTwoFa(context.Background(), registered.Me.ID)
	assert.ErrorIs(t, err, common.ErrTwoFaAlreadyEnabled)
}

func TestCompleteTwoFaSetupWrongCode(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "ada@example.com", "ada")

	_, err := env.svc.SetupTwoFa(context.Background(), registered.Me.ID)
	require.NoError(t, err)

	err = env.svc.CompleteTwoFaSetup(context.Background(), registered.Me.ID, registered.Session.ID, "000000")
	assert.ErrorIs(t, err, common.ErrTwoFaMismatch)

	me, err := env.svc.GetMe(context.Background(), registered.Me.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TwoFaPendingSetup, me.TwoFaStatus)
}

func TestCompleteTwoFaSetupWithoutSetup(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "ada@example.com", "ada")

	err := env.svc.CompleteTwoFaSetup(context.Background(), registered.Me.ID, registered.Session.ID, "123456")
	assert.ErrorIs(t, err, common.ErrTwoFaNotEnabled)
}

func TestDisableTwoFa(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "ada@example.com", "ada")
	secret := enableTwoFa(t, env, registered)

	// Disabling needs a currently valid code.
	err := env.svc.DisableTwoFa(context.Background(), registered.Me.ID, registered.Session.ID, "000000")
	assert.ErrorIs(t, err, common.ErrTwoFaMismatch)

	code, err := totp.GenerateCode(secret, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, env.svc.DisableTwoFa(context.Background(), registered.Me.ID, registered.Session.ID, code))
	assert.True(t, env.events.has(audit.EventTwoFaDisabled))

	me, err := env.svc.GetMe(context.Background(), registered.Me.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TwoFaDisabled, me.TwoFaStatus)

	// The next sign-in no longer asks for a challenge.
	pending, err := env.svc.SignIn(context.Background(), SignInInput{EmailOrUsername: "ada"})
	require.NoError(t, err)
	assert.False(t, pending.TwoFa)
}
