package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"teamhub/internal/audit"
	"teamhub/internal/common"
	"teamhub/internal/model"
	"teamhub/internal/util"
)

// SignIn starts a passwordless sign-in by emailing a one-time code to the
// account's address. A new sign-in supersedes any pending one for the same
// user.
func (s *AuthService) SignIn(ctx context.Context, input SignInInput) (*model.PendingSession, error) {
	handle := strings.TrimSpace(input.EmailOrUsername)
	if handle == "" {
		return nil, common.ErrInvalidInput
	}

	var user *model.User
	var err error
	if strings.Contains(handle, "@") {
		user, err = s.users.GetUserByEmail(ctx, util.NormalizeEmail(handle))
	} else {
		user, err = s.users.GetUserByUsername(ctx, util.NormalizeUsername(handle))
	}
	if err != nil {
		return nil, err
	}
	if user.DisabledAt != nil {
		return nil, common.ErrPermissionDenied
	}

	code, codeHash, expiresAt, err := s.codes.Issue()
	if err != nil {
		return nil, err
	}

	pending := &model.PendingSession{
		UserID:    user.ID,
		CodeHash:  codeHash,
		TwoFa:     user.TwoFaActive(),
		ExpiresAt: expiresAt,
	}

	if err := s.pendings.CreatePendingSession(ctx, pending); err != nil {
		return nil, err
	}

	previous, err := s.flows.SwapPendingSession(user.ID, pending.ID, s.codes.TTL())
	if err != nil {
		util.Warn("Failed to index pending sign-in",
			zap.String("pending_session_id", pending.ID),
			zap.Error(err))
	} else if previous != "" && previous != pending.ID {
		if _, err := s.pendings.ConsumePendingSession(ctx, previous); err != nil {
			util.Warn("Failed to retire superseded sign-in",
				zap.String("pending_session_id", previous),
				zap.Error(err))
		}
	}

	if err := s.mail.SendSignInCode(user.Email, code); err != nil {
		util.Error("Failed to send sign-in code",
			zap.String("pending_session_id", pending.ID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: could not deliver code", common.ErrInternal)
	}

	s.events.Record(ctx, audit.EventSignInStarted, user.ID, "", nil)

	util.Info("Sign-in started",
		zap.String("pending_session_id", pending.ID),
		zap.String("user_id", user.ID),
		zap.Bool("two_fa", pending.TwoFa))

	return pending, nil
}

// CompleteSignIn redeems the emailed code. For accounts with 2FA enabled it
// returns a TwoFa result and keeps the pending record alive for the TOTP
// challenge; otherwise it consumes the record and issues the session.
func (s *AuthService) CompleteSignIn(ctx context.Context, input CompleteSignInInput) (*SignedIn, error) {
	pending, err := s.pendings.GetPendingSession(ctx, input.PendingSessionID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrInvalidOrExpired
		}
		return nil, err
	}

	err = s.verifyFlowCode(ctx, input.Code, pending.CodeHash, pending.ExpiresAt, pending.Attempts,
		func(ctx context.Context) error {
			return s.pendings.BumpPendingSessionAttempts(ctx, pending.ID, pending.Attempts)
		})
	if err != nil {
		s.events.Record(ctx, audit.EventSignInFailed, pending.UserID, "", map[string]string{
			"stage": "code",
		})
		return nil, err
	}

	if pending.TwoFa {
		// The emailed code is proven; the flow now waits on the TOTP
		// challenge and is consumed there.
		return &SignedIn{TwoFa: true}, nil
	}

	return s.finishSignIn(ctx, pending)
}

// CompleteTwoFaChallenge finishes a 2FA sign-in by validating the TOTP code
// against the account's secret, then consumes the pending record.
func (s *AuthService) CompleteTwoFaChallenge(ctx context.Context, input CompleteTwoFaChallengeInput) (*SignedIn, error) {
	pending, err := s.pendings.GetPendingSession(ctx, input.PendingSessionID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrInvalidOrExpired
		}
		return nil, err
	}

	if !pending.TwoFa {
		return nil, common.ErrPermissionDenied
	}
	if pending.Attempts >= s.codes.MaxAttempts() || s.now().UTC().After(pending.ExpiresAt) {
		return nil, common.ErrInvalidOrExpired
	}

	user, err := s.loadActiveUser(ctx, pending.UserID)
	if err != nil {
		return nil, err
	}

	if err := s.twoFa.Challenge(ctx, user, input.Code); err != nil {
		if errors.Is(err, common.ErrTwoFaMismatch) {
			if bumpErr := s.pendings.BumpPendingSessionAttempts(ctx, pending.ID, pending.Attempts); bumpErr != nil {
				util.Warn("Failed to count challenge attempt", zap.Error(bumpErr))
			}
			s.events.Record(ctx, audit.EventTwoFaFailed, user.ID, "", map[string]string{
				"stage": "challenge",
			})
		}
		return nil, err
	}

	return s.finishSignIn(ctx, pending)
}

func (s *AuthService) finishSignIn(ctx context.Context, pending *model.PendingSession) (*SignedIn, error) {
	applied, err := s.pendings.ConsumePendingSession(ctx, pending.ID)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, common.ErrInvalidOrExpired
	}

	user, err := s.loadActiveUser(ctx, pending.UserID)
	if err != nil {
		return nil, err
	}

	if err := s.flows.ClearPendingSession(user.ID); err != nil {
		util.Warn("Failed to clear sign-in index", zap.Error(err))
	}

	session, encoded, err := s.issueSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.events.Record(ctx, audit.EventSignInCompleted, user.ID, session.ID, nil)

	util.Info("Sign-in completed",
		zap.String("user_id", user.ID),
		zap.String("session_id", session.ID))

	return &SignedIn{
		Me:      user,
		Session: session,
		Token:   encoded,
	}, nil
}
