package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teamhub/internal/audit"
	"teamhub/internal/common"
	"teamhub/internal/hashing"
	"teamhub/internal/model"
	"teamhub/internal/util"
)

// ValidateSessionToken authenticates a bearer token: decode, load the
// session (cache first), match the secret against the stored hash, and
// reject revoked sessions. Every failure collapses to ErrInvalidToken.
func (s *AuthService) ValidateSessionToken(ctx context.Context, bearer string) (*model.Session, error) {
	decoded, err := s.tokens.DecodeSession(bearer)
	if err != nil {
		return nil, common.ErrInvalidToken
	}

	session, err := s.sessionCache.GetSession(decoded.ID)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			util.Warn("Session cache lookup failed",
				zap.String("session_id", decoded.ID),
				zap.Error(err))
		}
		session, err = s.sessions.GetSessionByID(ctx, decoded.ID)
		if err != nil {
			return nil, common.ErrInvalidToken
		}
		if cacheErr := s.sessionCache.CacheSession(session); cacheErr != nil {
			util.Warn("Failed to refill session cache",
				zap.String("session_id", session.ID),
				zap.Error(cacheErr))
		}
	}

	if !hashing.VerifySecret(decoded.Secret, session.SecretHash) {
		return nil, common.ErrInvalidToken
	}
	if session.Revoked() {
		return nil, common.ErrInvalidToken
	}

	return session, nil
}

// IssueAnonymousToken mints a short-lived pre-auth token. The grant lives
// only in Redis and expires with its TTL.
func (s *AuthService) IssueAnonymousToken(ctx context.Context) (string, error) {
	secret, err := s.tokens.NewSecret()
	if err != nil {
		return "", err
	}

	grantID := uuid.New().String()
	if err := s.anonTokens.PutToken(grantID, hashing.HashSecret(secret), s.authCfg.AnonTokenTTL); err != nil {
		return "", err
	}

	return s.tokens.EncodeAnonymous(grantID, secret)
}

// ValidateAnonymousToken checks a pre-auth token against its stored grant.
func (s *AuthService) ValidateAnonymousToken(ctx context.Context, bearer string) (string, error) {
	decoded, err := s.tokens.DecodeAnonymous(bearer)
	if err != nil {
		return "", common.ErrInvalidToken
	}

	hash, err := s.anonTokens.GetTokenHash(decoded.ID)
	if err != nil {
		return "", common.ErrInvalidToken
	}

	if !hashing.VerifySecret(decoded.Secret, hash) {
		return "", common.ErrInvalidToken
	}

	return decoded.ID, nil
}

// RevokeSession revokes one of the caller's sessions. Revoking an already
// revoked session succeeds; revoking someone else's is denied without
// confirming the session exists.
func (s *AuthService) RevokeSession(ctx context.Context, callerUserID string, input RevokeSessionInput) error {
	session, err := s.sessions.GetSessionByID(ctx, input.SessionID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrPermissionDenied
		}
		return err
	}
	if session.UserID != callerUserID {
		return common.ErrPermissionDenied
	}

	if err := s.sessions.RevokeSession(ctx, session.ID, s.now().UTC()); err != nil {
		return err
	}
	if err := s.sessionCache.InvalidateSession(session.ID); err != nil {
		util.Warn("Failed to invalidate session cache",
			zap.String("session_id", session.ID),
			zap.Error(err))
	}

	s.events.Record(ctx, audit.EventSessionRevoked, callerUserID, session.ID, nil)

	return nil
}

// RevokeOtherSessions signs the user out everywhere except the current
// session.
func (s *AuthService) RevokeOtherSessions(ctx context.Context, userID, currentSessionID string) error {
	if err := s.sessions.RevokeAllSessions(ctx, userID, currentSessionID, s.now().UTC()); err != nil {
		return err
	}

	sessions, err := s.sessions.ListSessionsByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, session := range sessions {
		if session.ID == currentSessionID {
			continue
		}
		if err := s.sessionCache.InvalidateSession(session.ID); err != nil {
			util.Warn("Failed to invalidate session cache",
				zap.String("session_id", session.ID),
				zap.Error(err))
		}
	}

	return nil
}

// ListSessions returns all of the user's sessions, active and revoked.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]*model.Session, error) {
	return s.sessions.ListSessionsByUser(ctx, userID)
}

// GetMe loads the authenticated user's own record.
func (s *AuthService) GetMe(ctx context.Context, userID string) (*model.User, error) {
	return s.loadActiveUser(ctx, userID)
}

// DisableAccount marks the account for deferred deletion and revokes every
// session immediately.
func (s *AuthService) DisableAccount(ctx context.Context, userID string) error {
	user, err := s.loadActiveUser(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.users.DisableUser(ctx, user, s.now().UTC()); err != nil {
		return err
	}

	if err := s.RevokeOtherSessions(ctx, userID, ""); err != nil {
		util.Warn("Failed to revoke sessions of disabled account",
			zap.String("user_id", userID),
			zap.Error(err))
	}

	s.events.Record(ctx, audit.EventAccountDisabled, userID, "", nil)

	util.Info("Account disabled", zap.String("user_id", userID))
	return nil
}
