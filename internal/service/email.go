package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"teamhub/internal/audit"
	"teamhub/internal/common"
	"teamhub/internal/model"
	"teamhub/internal/util"
)

// RequestEmailChange starts moving the account to a new address. The code
// goes to the NEW address: completing the flow proves the user controls it.
func (s *AuthService) RequestEmailChange(ctx context.Context, userID string, input RequestEmailChangeInput) (*model.PendingEmail, error) {
	user, err := s.loadActiveUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	newEmail := util.NormalizeEmail(input.NewEmail)
	if !util.IsValidEmail(newEmail) {
		return nil, common.ErrInvalidEmail
	}
	if newEmail == user.Email {
		return nil, common.ErrInvalidInput
	}

	if taken, err := s.users.IsEmailTaken(ctx, newEmail); err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	} else if taken {
		return nil, common.ErrEmailTaken
	}

	code, codeHash, expiresAt, err := s.codes.Issue()
	if err != nil {
		return nil, err
	}

	pending := &model.PendingEmail{
		UserID:    user.ID,
		NewEmail:  newEmail,
		CodeHash:  codeHash,
		ExpiresAt: expiresAt,
	}

	if err := s.pendings.CreatePendingEmail(ctx, pending); err != nil {
		return nil, err
	}

	previous, err := s.flows.SwapPendingEmail(user.ID, pending.ID, s.codes.TTL())
	if err != nil {
		util.Warn("Failed to index pending email change",
			zap.String("pending_email_id", pending.ID),
			zap.Error(err))
	} else if previous != "" && previous != pending.ID {
		if _, err := s.pendings.ConsumePendingEmail(ctx, previous); err != nil {
			util.Warn("Failed to retire superseded email change",
				zap.String("pending_email_id", previous),
				zap.Error(err))
		}
	}

	if err := s.mail.SendEmailChangeCode(newEmail, code); err != nil {
		util.Error("Failed to send email change code",
			zap.String("pending_email_id", pending.ID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: could not deliver code", common.ErrInternal)
	}

	util.Info("Email change started",
		zap.String("pending_email_id", pending.ID),
		zap.String("user_id", user.ID))

	return pending, nil
}

// VerifyEmail redeems the code sent to the new address and commits the
// change. Every session except the acting one is revoked, and the old
// address gets a notification after the switch.
func (s *AuthService) VerifyEmail(ctx context.Context, userID, currentSessionID string, input VerifyEmailInput) (*model.User, error) {
	pending, err := s.pendings.GetPendingEmail(ctx, input.PendingEmailID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrInvalidOrExpired
		}
		return nil, err
	}

	// Only the flow's owner may complete it.
	if pending.UserID != userID {
		return nil, common.ErrPermissionDenied
	}

	err = s.verifyFlowCode(ctx, input.Code, pending.CodeHash, pending.ExpiresAt, pending.Attempts,
		func(ctx context.Context) error {
			return s.pendings.BumpPendingEmailAttempts(ctx, pending.ID, pending.Attempts)
		})
	if err != nil {
		return nil, err
	}

	applied, err := s.pendings.ConsumePendingEmail(ctx, pending.ID)
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

	oldEmail := user.Email
	if err := s.users.UpdateEmail(ctx, user, pending.NewEmail); err != nil {
		return nil, err
	}

	if err := s.flows.ClearPendingEmail(user.ID); err != nil {
		util.Warn("Failed to clear email change index", zap.Error(err))
	}

	if err := s.RevokeOtherSessions(ctx, user.ID, currentSessionID); err != nil {
		util.Warn("Failed to revoke sessions after email change",
			zap.String("user_id", user.ID),
			zap.Error(err))
	}

	if err := s.mail.SendEmailChangedNotice(oldEmail, user.Email); err != nil {
		// The change is already committed; the notice is best-effort.
		util.Warn("Failed to send email change notice",
			zap.String("user_id", user.ID),
			zap.Error(err))
	}

	s.events.Record(ctx, audit.EventEmailChanged, user.ID, "", nil)

	util.Info("Email change completed", zap.String("user_id", user.ID))

	return user, nil
}
