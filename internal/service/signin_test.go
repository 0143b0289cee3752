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
)

func wrongCode(code string) string {
	if code == "000000" {
		return "000001"
	}
	return "000000"
}

func TestSignInByEmailAndUsername(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com", "ada")

	byEmail, err := env.svc.SignIn(context.Background(), SignInInput{EmailOrUsername: "Ada@Example.com"})
	require.NoError(t, err)
	assert.False(t, byEmail.TwoFa)
	assert.Equal(t, "signin", env.mail.last().kind)

	byUsername, err := env.svc.SignIn(context.Background(), SignInInput{EmailOrUsername: "ADA"})
	require.NoError(t, err)
	assert.Equal(t, byEmail.UserID, byUsername.UserID)
}

func TestSignInUnknownHandle(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.SignIn(context.Background(), SignInInput{EmailOrUsername: "ghost@example.com"})
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = env.svc.SignIn(context.Background(), SignInInput{EmailOrUsername: "  "})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestCompleteSignInIssuesSession(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "ada@example.com", "ada")

	pending, err := env.svc.SignIn(context.Background(), SignInInput{EmailOrUsername: "ada"})
	require.NoError(t, err)

	signedIn, err := env.svc.CompleteSignIn(context.Background(), CompleteSignInInput{
		PendingSessionID: pending.ID,
		Code:             env.mail.last().code,
	})
	require.NoError(t, err)
	assert.False(t, signedIn.TwoFa)
	assert.Equal(t, registered.Me.ID, signedIn.Me.ID)
	assert.NotEmpty(t, signedIn.Token)
	assert.NotEqual(t, registered.Token, signedIn.Token)

	assert.True(t, env.events.has(audit.EventSignInCompleted))

	session, err := env.svc.ValidateSessionToken(context.Background(), signedIn.Token)
	require.NoError(t, err)
	assert.Equal(t, signedIn.Session.ID, session.ID)
}

func TestCompleteSignInWrongCodeEmitsFailureEvent(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com", "ada")

	pending, err := env.svc.SignIn(context.Background(), SignInInput{EmailOrUsername: "ada"})
	require.NoError(t, err)

	_, err = env.svc.CompleteSignIn(context.Background(), CompleteSignInInput{
		PendingSessionID: pending.ID,
		Code:             wrongCode(env.mail.last().code),
	})
	assert.ErrorIs(t, err, common.ErrInvalidOrExpired)
	assert.True(t, env.events.has(audit.EventSignInFailed))
}

func TestSignInDisabledAccount(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "ada@example.com", "ada")

	require.NoError(t, env.svc.DisableAccount(context.Background(), registered.Me.ID))

	_, err := env.svc.SignIn(context.Background(), SignInInput{EmailOrUsername: "ada"})
	assert.ErrorIs(t, err, common.ErrPermissionDenied)
}

func TestSignInSupersedesPreviousFlow(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com", "ada")

	first, err := env.svc.SignIn(context.Background(), SignInInput{EmailOrUsername: "ada"})
	require.NoError(t, err)
	firstCode := env.mail.last().code

	second, err := env.svc.SignIn(context.Background(), SignInInput{EmailOrUsername: "ada"})
	require.NoError(t, err)

	_, err = env.svc.CompleteSignIn(context.Background(), CompleteSignInInput{
		PendingSessionID: first.ID,
		Code:             firstCode,
	})
	assert.ErrorIs(t, err, common.ErrInvalidOrExpired)

	_, err = env.svc.CompleteSignIn(context.Background(), CompleteSignInInput{
		PendingSessionID: second.ID,
		Code:             env.mail.last().code,
	})
	assert.NoError(t, err)
}

// enableTwoFa walks the account through setup and returns the raw TOTP
// secret for generating challenge codes.
func enableTwoFa(t *testing.T, env *testEnv, registered *Registered) string {
	t.Helper()

	setup, err := env.svc.SetupTwoFa(context.Background(), registered.Me.ID)
	require.NoError(t, err)

	code, err := totp.GenerateCode(setup.Secret, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, env.svc.CompleteTwoFaSetup(context.Background(), registered.Me.ID, registered.Session.ID, code))

	return setup.Secret
}

func TestTwoFaSignInFlow(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "ada@example.com", "ada")
	secret := enableTwoFa(t, env, registered)

	pending, err := env.svc.SignIn(context.Background(), SignInInput{EmailOrUsername: "ada"})
	require.NoError(t, err)
	assert.True(t, pending.TwoFa)

	// The emailed code alone does not sign the user in.
	signedIn, err := env.svc.CompleteSignIn(context.Background(), CompleteSignInInput{
		PendingSessionID: pending.ID,
		Code:             env.mail.last().code,
	})
	require.NoError(t, err)
	assert.True(t, signedIn.TwoFa)
	assert.Empty(t, signedIn.Token)
	assert.Nil(t, signedIn.Session)

	totpCode, err := totp.GenerateCode(secret, time.Now().UTC())
	require.NoError(t, err)

	final, err := env.svc.CompleteTwoFaChallenge(context.Background(), CompleteTwoFaChallengeInput{
		PendingSessionID: pending.ID,
		Code:             totpCode,
	})
	require.NoError(t, err)
	assert.False(t, final.TwoFa)
	assert.NotEmpty(t, final.Token)

	// The pending record was consumed by the challenge.
	_, err = env.svc.CompleteTwoFaChallenge(context.Background(), CompleteTwoFaChallengeInput{
		PendingSessionID: pending.ID,
		Code:             totpCode,
	})
	assert.ErrorIs(t, err, common.ErrInvalidOrExpired)
}

func TestTwoFaChallengeWrongCode(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "ada@example.com", "ada")
	enableTwoFa(t, env, registered)

	pending, err := env.svc.SignIn(context.Background(), SignInInput{EmailOrUsername: "ada"})
	require.NoError(t, err)

	_, err = env.svc.CompleteTwoFaChallenge(context.Background(), CompleteTwoFaChallengeInput{
		PendingSessionID: pending.ID,
		Code:             "000000",
	})
	assert.ErrorIs(t, err, common.ErrTwoFaMismatch)
	assert.True(t, env.events.has(audit.EventTwoFaFailed))

	stored, err := env.pendings.GetPendingSession(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Attempts)
}

func TestTwoFaChallengeRequiresTwoFaFlow(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com", "ada")

	pending, err := env.svc.SignIn(context.Background(), SignInInput{EmailOrUsername: "ada"})
	require.NoError(t, err)

	_, err = env.svc.CompleteTwoFaChallenge(context.Background(), CompleteTwoFaChallengeInput{
		PendingSessionID: pending.ID,
		Code:             "123456",
	})
	assert.ErrorIs(t, err, common.ErrPermissionDenied)
}

func TestTwoFaChallengeExpiredFlow(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "ada@example.com", "ada")
	secret := enableTwoFa(t, env, registered)

	pending, err := env.svc.SignIn(context.Background(), SignInInput{EmailOrUsername: "ada"})
	require.NoError(t, err)

	env.svc.WithClock(func() time.Time { return pending.ExpiresAt.Add(time.Minute) })

	totpCode, err := totp.GenerateCode(secret, time.Now().UTC())
	require.NoError(t, err)

	_, err = env.svc.CompleteTwoFaChallenge(context.Background(), CompleteTwoFaChallengeInput{
		PendingSessionID: pending.ID,
		Code:             totpCode,
	})
	assert.ErrorIs(t, err, common.ErrInvalidOrExpired)
}
