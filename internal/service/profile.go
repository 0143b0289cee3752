package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"teamhub/internal/audit"
	"teamhub/internal/common"
	"teamhub/internal/model"
	"teamhub/internal/util"
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 400
)

// UpdateMyProfile changes the account's display name and description. Email
// and username changes go through their own verified flows.
func (s *AuthService) UpdateMyProfile(ctx context.Context, userID string, input UpdateProfileInput) (*model.User, error) {
	user, err := s.loadActiveUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	description := strings.TrimSpace(input.Description)

	if len(name) > maxNameLength || len(description) > maxDescriptionLength {
		return nil, common.ErrInvalidInput
	}
	if util.ContainsSuspicious(name) || util.ContainsSuspicious(description) {
		return nil, common.ErrInvalidInput
	}

	user.Name = name
	user.Description = description

	if err := s.users.UpdateProfile(ctx, user); err != nil {
		return nil, err
	}

	s.events.Record(ctx, audit.EventProfileUpdated, user.ID, "", nil)

	util.Info("Profile updated", zap.String("user_id", user.ID))

	return user, nil
}
