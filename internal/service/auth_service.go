// Package service implements the authentication flows: passwordless
// registration and sign-in, TOTP two-factor, email changes, and session
// lifecycle. Every flow that proves possession of an emailed code consumes
// its pending record through a storage-level compare-and-delete, so a code
// is accepted at most once no matter how many requests race.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"teamhub/internal/audit"
	"teamhub/internal/common"
	"teamhub/internal/config"
	"teamhub/internal/hashing"
	"teamhub/internal/mailer"
	"teamhub/internal/model"
	"teamhub/internal/otp"
	redisrepo "teamhub/internal/repository/redis"
	"teamhub/internal/repository/scylla"
	"teamhub/internal/token"
	"teamhub/internal/twofa"
	"teamhub/internal/util"
)

// AuthService orchestrates the authentication flows over the storage,
// cache, mail, and audit layers.
type AuthService struct {
	users    scylla.UserStore
	pendings scylla.PendingStore
	sessions scylla.SessionStore

	flows        *redisrepo.FlowIndex
	sessionCache *redisrepo.SessionCache
	anonTokens   *redisrepo.AnonTokenCache

	codes  *otp.Manager
	tokens *token.Codec
	twoFa  *twofa.Controller
	mail   mailer.Mailer
	events audit.Recorder

	authCfg config.AuthConfig
	now     func() time.Time
}

// WithClock overrides the time source. Test helper.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

func NewAuthService(
	users scylla.UserStore,
	pendings scylla.PendingStore,
	sessions scylla.SessionStore,
	flows *redisrepo.FlowIndex,
	sessionCache *redisrepo.SessionCache,
	anonTokens *redisrepo.AnonTokenCache,
	codes *otp.Manager,
	tokens *token.Codec,
	twoFa *twofa.Controller,
	mail mailer.Mailer,
	events audit.Recorder,
	cfg *config.Config,
) *AuthService {
	return &AuthService{
		users:        users,
		pendings:     pendings,
		sessions:     sessions,
		flows:        flows,
		sessionCache: sessionCache,
		anonTokens:   anonTokens,
		codes:        codes,
		tokens:       tokens,
		twoFa:        twoFa,
		mail:         mail,
		events:       events,
		authCfg:      cfg.Auth,
		now:          time.Now,
	}
}

// -------------------- INPUTS & RESULTS --------------------

type RegisterInput struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

type CompleteRegistrationInput struct {
	PendingUserID string `json:"pending_user_id"`
	Code          string `json:"code"`
}

type SignInInput struct {
	EmailOrUsername string `json:"email_or_username"`
}

type CompleteSignInInput struct {
	PendingSessionID string `json:"pending_session_id"`
	Code             string `json:"code"`
}

type CompleteTwoFaChallengeInput struct {
	PendingSessionID string `json:"pending_session_id"`
	Code             string `json:"code"`
}

type UpdateProfileInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type RequestEmailChangeInput struct {
	NewEmail string `json:"new_email"`
}

type VerifyEmailInput struct {
	PendingEmailID string `json:"pending_email_id"`
	Code           string `json:"code"`
}

type RevokeSessionInput struct {
	SessionID string `json:"session_id"`
}

// Registered is the outcome of a completed registration: the new account
// plus its first signed-in session.
type Registered struct {
	Me      *model.User
	Session *model.Session
	Token   string
}

// SignedIn is the outcome of a sign-in step. When TwoFa is true the caller
// must still pass the TOTP challenge and Session/Token are unset.
type SignedIn struct {
	Me      *model.User
	Session *model.Session
	Token   string
	TwoFa   bool
}

// -------------------- SHARED HELPERS --------------------

// issueSession mints a session with a fresh secret, write-through caches it,
// and returns the encoded bearer token.
func (s *AuthService) issueSession(ctx context.Context, userID string) (*model.Session, string, error) {
	secret, err := s.tokens.NewSecret()
	if err != nil {
		return nil, "", err
	}

	session := &model.Session{
		UserID:     userID,
		SecretHash: hashing.HashSecret(secret),
	}

	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, "", err
	}

	if err := s.sessionCache.CacheSession(session); err != nil {
		// Cache is an optimization; storage already has the row.
		util.Warn("Failed to cache new session",
			zap.String("session_id", session.ID),
			zap.Error(err))
	}

	encoded, err := s.tokens.EncodeSession(session.ID, secret)
	if err != nil {
		return nil, "", err
	}

	return session, encoded, nil
}

// verifyFlowCode maps code verification onto the uniform service-boundary
// error and counts the failed attempt.
func (s *AuthService) verifyFlowCode(ctx context.Context, presented, codeHash string, expiresAt time.Time, attempts int, bump func(context.Context) error) error {
	err := s.codes.Verify(presented, codeHash, expiresAt, attempts)
	if err == nil {
		return nil
	}

	if errors.Is(err, common.ErrInvalidCode) {
		if bumpErr := bump(ctx); bumpErr != nil {
			util.Warn("Failed to count verification attempt", zap.Error(bumpErr))
		}
		return common.ErrInvalidOrExpired
	}
	if errors.Is(err, common.ErrExpired) || errors.Is(err, common.ErrTooManyAttempts) {
		return common.ErrInvalidOrExpired
	}

	return err
}

func (s *AuthService) loadActiveUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.DisabledAt != nil {
		return nil, common.ErrPermissionDenied
	}
	return user, nil
}
