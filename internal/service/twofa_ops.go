package service

import (
	"context"

	"go.uber.org/zap"

	"teamhub/internal/audit"
	"teamhub/internal/util"
)

// TwoFaSetup carries the one-time provisioning values shown to the user
// while they add the secret to their authenticator app.
type TwoFaSetup struct {
	Secret     string `json:"secret"`
	OtpauthURL string `json:"otpauth_url"`
}

// SetupTwoFa generates a TOTP secret for the account and stores it in
// pending-setup state. Calling it again before confirmation replaces the
// pending secret.
func (s *AuthService) SetupTwoFa(ctx context.Context, userID string) (*TwoFaSetup, error) {
	user, err := s.loadActiveUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	secret, url, err := s.twoFa.BeginSetup(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateTwoFa(ctx, user); err != nil {
		return nil, err
	}

	util.Info("2FA setup started", zap.String("user_id", user.ID))

	return &TwoFaSetup{
		Secret:     secret,
		OtpauthURL: url,
	}, nil
}

// CompleteTwoFaSetup confirms the pending secret with one valid TOTP code
// and enables 2FA on the account. Every other session is signed out so they
// all re-authenticate under the new requirement.
func (s *AuthService) CompleteTwoFaSetup(ctx context.Context, userID, currentSessionID, code string) error {
	user, err := s.loadActiveUser(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.twoFa.ConfirmSetup(ctx, user, code); err != nil {
		return err
	}

	if err := s.users.UpdateTwoFa(ctx, user); err != nil {
		return err
	}

	if err := s.RevokeOtherSessions(ctx, user.ID, currentSessionID); err != nil {
		util.Warn("Failed to revoke sessions after enabling 2FA",
			zap.String("user_id", user.ID),
			zap.Error(err))
	}

	s.events.Record(ctx, audit.EventTwoFaEnabled, user.ID, "", nil)

	util.Info("2FA enabled", zap.String("user_id", user.ID))
	return nil
}

// DisableTwoFa turns 2FA off. A currently valid TOTP code is required as
// proof of possession, and every other session is revoked.
func (s *AuthService) DisableTwoFa(ctx context.Context, userID, currentSessionID, code string) error {
	user, err := s.loadActiveUser(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.twoFa.Disable(ctx, user, code); err != nil {
		return err
	}

	if err := s.users.UpdateTwoFa(ctx, user); err != nil {
		return err
	}

	if err := s.RevokeOtherSessions(ctx, user.ID, currentSessionID); err != nil {
		util.Warn("Failed to revoke sessions after disabling 2FA",
			zap.String("user_id", user.ID),
			zap.Error(err))
	}

	s.events.Record(ctx, audit.EventTwoFaDisabled, user.ID, "", nil)

	util.Info("2FA disabled", zap.String("user_id", user.ID))
	return nil
}
