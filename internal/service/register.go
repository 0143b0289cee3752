package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teamhub/internal/audit"
	"teamhub/internal/common"
	"teamhub/internal/model"
	"teamhub/internal/util"
)

// Register starts a passwordless registration: validates and reserves
// nothing yet, emails a one-time code, and leaves a pending record behind.
// Starting a new registration for the same email supersedes the previous
// pending one.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*model.PendingUser, error) {
	email := util.NormalizeEmail(input.Email)
	username := util.NormalizeUsername(input.Username)

	if !util.IsValidEmail(email) {
		return nil, common.ErrInvalidEmail
	}
	if !util.IsValidUsername(username) {
		return nil, common.ErrInvalidUsername
	}

	if taken, err := s.users.IsUsernameTaken(ctx, username); err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	} else if taken {
		return nil, common.ErrUsernameTaken
	}

	// An email that already belongs to a full account gets the same
	// success-shaped response as everyone else, with a notice mail in place
	// of a code. The response must not disclose that the account exists.
	if taken, err := s.users.IsEmailTaken(ctx, email); err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	} else if taken {
		return s.registerDecoy(ctx, email, username)
	}

	code, codeHash, expiresAt, err := s.codes.Issue()
	if err != nil {
		return nil, err
	}

	pending := &model.PendingUser{
		Email:     email,
		Username:  username,
		CodeHash:  codeHash,
		ExpiresAt: expiresAt,
	}

	if err := s.pendings.CreatePendingUser(ctx, pending); err != nil {
		return nil, err
	}

	// Point the one-flow-per-email index at the new record and retire
	// whatever it replaced.
	previous, err := s.flows.SwapPendingUser(email, pending.ID, s.codes.TTL())
	if err != nil {
		util.Warn("Failed to index pending registration",
			zap.String("pending_user_id", pending.ID),
			zap.Error(err))
	} else if previous != "" && previous != pending.ID {
		if _, err := s.pendings.ConsumePendingUser(ctx, previous); err != nil {
			util.Warn("Failed to retire superseded registration",
				zap.String("pending_user_id", previous),
				zap.Error(err))
		}
	}

	if err := s.mail.SendRegistrationCode(email, username, code); err != nil {
		util.Error("Failed to send registration code",
			zap.String("pending_user_id", pending.ID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: could not deliver code", common.ErrInternal)
	}

	util.Info("Registration started",
		zap.String("pending_user_id", pending.ID),
		zap.String("username", username))

	return pending, nil
}

// registerDecoy answers a registration attempt for an email that already has
// an account. Nothing is persisted, so completing the returned pending id
// fails with the same uniform error as any unknown flow.
func (s *AuthService) registerDecoy(ctx context.Context, email, username string) (*model.PendingUser, error) {
	if err := s.mail.SendAccountExistsNotice(email); err != nil {
		util.Error("Failed to send account-exists notice", zap.Error(err))
		return nil, fmt.Errorf("%w: could not deliver code", common.ErrInternal)
	}

	now := s.now().UTC()
	return &model.PendingUser{
		ID:        uuid.New().String(),
		Email:     email,
		Username:  username,
		ExpiresAt: now.Add(s.codes.TTL()),
		CreatedAt: now,
	}, nil
}

// CompleteRegistration redeems the emailed code, creates the account, and
// signs the new user in. The pending record is consumed atomically so a
// duplicate submission cannot create two accounts.
func (s *AuthService) CompleteRegistration(ctx context.Context, input CompleteRegistrationInput) (*Registered, error) {
	pending, err := s.pendings.GetPendingUser(ctx, input.PendingUserID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrInvalidOrExpired
		}
		return nil, err
	}

	err = s.verifyFlowCode(ctx, input.Code, pending.CodeHash, pending.ExpiresAt, pending.Attempts,
		func(ctx context.Context) error {
			return s.pendings.BumpPendingUserAttempts(ctx, pending.ID, pending.Attempts)
		})
	if err != nil {
		return nil, err
	}

	// Exactly one concurrent completion gets past this point.
	applied, err := s.pendings.ConsumePendingUser(ctx, pending.ID)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, common.ErrInvalidOrExpired
	}

	user := &model.User{
		Email:       pending.Email,
		Username:    pending.Username,
		TwoFaStatus: model.TwoFaDisabled,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	if err := s.flows.ClearPendingUser(pending.Email); err != nil {
		util.Warn("Failed to clear registration index", zap.Error(err))
	}

	session, encoded, err := s.issueSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.events.Record(ctx, audit.EventUserRegistered, user.ID, session.ID, map[string]string{
		"username": user.Username,
	})

	util.Info("Registration completed",
		zap.String("user_id", user.ID),
		zap.String("username", user.Username))

	return &Registered{
		Me:      user,
		Session: session,
		Token:   encoded,
	}, nil
}
