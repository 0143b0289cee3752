package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamhub/internal/audit"
	"teamhub/internal/common"
)

func TestValidateSessionToken(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "ada@example.com", "ada")

	session, err := env.svc.ValidateSessionToken(context.Background(), registered.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.Me.ID, session.UserID)

	_, err = env.svc.ValidateSessionToken(context.Background(), "garbage")
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestValidateSessionTokenFromCacheHit(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "ada@example.com", "ada")

	// Remove the storage row. The write-through cache entry alone must
	// carry everything validation needs, the secret hash included.
	env.sessions.mu.Lock()
	delete(env.sessions.sessions, registered.Session.ID)
	env.sessions.mu.Unlock()

	session, err := env.svc.ValidateSessionToken(context.Background(), registered.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.Me.ID, session.UserID)
	assert.Equal(t, registered.Session.SecretHash, session.SecretHash)
}

func TestValidateSessionTokenFallsBackToStorage(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "ada@example.com", "ada")

	// Drop the cache entry; validation must refill from storage.
	require.NoError(t, env.svc.sessionCache.InvalidateSession(registered.Session.ID))

	session, err := env.svc.ValidateSessionToken(context.Background(), registered.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.Session.ID, session.ID)

	// And the cache is warm again.
	cached, err := env.svc.sessionCache.GetSession(registered.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, registered.Session.ID, cached.ID)
}

func TestRevokeSession(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "ada@example.com", "ada")

	require.NoError(t, env.svc.RevokeSession(context.Background(), registered.Me.ID, RevokeSessionInput{
		SessionID: registered.Session.ID,
	}))
	assert.True(t, env.events.has(audit.EventSessionRevoked))

	_, err := env.svc.ValidateSessionToken(context.Background(), registered.Token)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	// Revoking again is idempotent.
	assert.NoError(t, env.svc.RevokeSession(context.Background(), registered.Me.ID, RevokeSessionInput{
		SessionID: registered.Session.ID,
	}))
}

func TestRevokeSessionOwnership(t *testing.T) {
	env := newTestEnv(t)
	ada := env.register(t, "ada@example.com", "ada")
	bob := env.register(t, "bob@example.com", "bob")

	// Someone else's session and a nonexistent one are indistinguishable.
	err := env.svc.RevokeSession(context.Background(), bob.Me.ID, RevokeSessionInput{SessionID: ada.Session.ID})
	assert.ErrorIs(t, err, common.ErrPermissionDenied)

	err = env.svc.RevokeSession(context.Background(), bob.Me.ID, RevokeSessionInput{SessionID: "no-such-session"})
	assert.ErrorIs(t, err, common.ErrPermissionDenied)

	// Ada's token still works.
	_, err = env.svc.ValidateSessionToken(context.Background(), ada.Token)
	assert.NoError(t, err)
}

func TestRevokeOtherSessions(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "ada@example.com", "ada")

	// A second sign-in gives a second live session.
	pending, err := env.svc.SignIn(context.Background(), SignInInput{EmailOrUsername: "ada"})
	require.NoError(t, err)
	second, err := env.svc.CompleteSignIn(context.Background(), CompleteSignInInput{
		PendingSessionID: pending.ID,
		Code:             env.mail.last().code,
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.RevokeOtherSessions(context.Background(), registered.Me.ID, second.Session.ID))

	_, err = env.svc.ValidateSessionToken(context.Background(), registered.Token)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	_, err = env.svc.ValidateSessionToken(context.Background(), second.Token)
	assert.NoError(t, err)
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "ada@example.com", "ada")

	require.NoError(t, env.svc.RevokeSession(context.Background(), registered.Me.ID, RevokeSessionInput{
		SessionID: registered.Session.ID,
	}))

	// Revoked sessions stay listed.
	sessions, err := env.svc.ListSessions(context.Background(), registered.Me.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Revoked())
}

func TestAnonymousTokens(t *testing.T) {
	env := newTestEnv(t)

	tok, err := env.svc.IssueAnonymousToken(context.Background())
	require.NoError(t, err)

	grantID, err := env.svc.ValidateAnonymousToken(context.Background(), tok)
	require.NoError(t, err)
	assert.NotEmpty(t, grantID)

	_, err = env.svc.ValidateAnonymousToken(context.Background(), "garbage")
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	// An anonymous token is not a session token.
	_, err = env.svc.ValidateSessionToken(context.Background(), tok)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestDisableAccount(t *testing.T) {
	env := newTestEnv(t)
	registered := env.register(t, "ada@example.com", "ada")

	require.NoError(t, env.svc.DisableAccount(context.Background(), registered.Me.ID))
	assert.True(t, env.events.has(audit.EventAccountDisabled))

	// All sessions are gone and the account is inert.
	_, err := env.svc.ValidateSessionToken(context.Background(), registered.Token)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	_, err = env.svc.GetMe(context.Background(), registered.Me.ID)
	assert.ErrorIs(t, err, common.ErrPermissionDenied)

	_, err = env.svc.SetupTwoFa(context.Background(), registered.Me.ID)
	assert.ErrorIs(t, err, common.ErrPermissionDenied)
}
