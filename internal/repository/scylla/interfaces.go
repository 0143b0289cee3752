package scylla

import (
	"context"
	"time"

	"teamhub/internal/model"
)

// UserStore is the persistence surface the service layer depends on for
// account records.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, userID string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	IsEmailTaken(ctx context.Context, email string) (bool, error)
	IsUsernameTaken(ctx context.Context, username string) (bool, error)
	UpdateTwoFa(ctx context.Context, user *model.User) error
	UpdateEmail(ctx context.Context, user *model.User, newEmail string) error
	UpdateProfile(ctx context.Context, user *model.User) error
	DisableUser(ctx context.Context, user *model.User, at time.Time) error
}

// PendingStore persists the three single-use verification flows. Consume
// methods delete the row through a lightweight transaction so that exactly
// one of several racing callers wins.
type PendingStore interface {
	CreatePendingUser(ctx context.Context, pending *model.PendingUser) error
	GetPendingUser(ctx context.Context, pendingID string) (*model.PendingUser, error)
	ConsumePendingUser(ctx context.Context, pendingID string) (bool, error)
	BumpPendingUserAttempts(ctx context.Context, pendingID string, prevAttempts int) error

	CreatePendingSession(ctx context.Context, pending *model.PendingSession) error
	GetPendingSession(ctx context.Context, pendingID string) (*model.PendingSession, error)
	ConsumePendingSession(ctx context.Context, pendingID string) (bool, error)
	BumpPendingSessionAttempts(ctx context.Context, pendingID string, prevAttempts int) error

	CreatePendingEmail(ctx context.Context, pending *model.PendingEmail) error
	GetPendingEmail(ctx context.Context, pendingID string) (*model.PendingEmail, error)
	ConsumePendingEmail(ctx context.Context, pendingID string) (bool, error)
	BumpPendingEmailAttempts(ctx context.Context, pendingID string, prevAttempts int) error
}

// SessionStore persists issued sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *model.Session) error
	GetSessionByID(ctx context.Context, sessionID string) (*model.Session, error)
	RevokeSession(ctx context.Context, sessionID string, at time.Time) error
	ListSessionsByUser(ctx context.Context, userID string) ([]*model.Session, error)
	RevokeAllSessions(ctx context.Context, userID string, except string, at time.Time) error
}
