package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"teamhub/internal/common"
	"teamhub/internal/model"
	"teamhub/internal/util"
)

// SessionRepository stores issued sessions in two tables: the main table
// keyed by session_id and a per-user index for bulk revocation.
type SessionRepository struct {
	client *ScyllaClient
}

func NewSessionRepository(client *ScyllaClient, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		client: client,
	}
}

func (r *SessionRepository) CreateSession(ctx context.Context, session *model.Session) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	session.CreatedAt = time.Now().UTC()

	batch := r.client.Batch(gocql.LoggedBatch)
	batch.Query(r.client.Prepared.CreateSession.Statement(),
		session.ID, session.UserID, session.SecretHash, session.CreatedAt, session.RevokedAt)
	batch.Query(`INSERT INTO sessions_by_user (user_id, session_id) VALUES (?, ?)`,
		session.UserID, session.ID)

	if err := r.client.ExecuteBatch(batch.WithContext(ctx)); err != nil {
		util.Error("Failed to create session",
			zap.String("session_id", session.ID),
			zap.String("user_id", session.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create session: %w", err)
	}

	util.Info("Session created",
		zap.String("session_id", session.ID),
		zap.String("user_id", session.UserID))

	return nil
}

func (r *SessionRepository) GetSessionByID(ctx context.Context, sessionID string) (*model.Session, error) {
	session := &model.Session{}
	var revokedAt time.Time

	query := r.client.Prepared.GetSessionByID.Bind(sessionID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&session.ID, &session.UserID, &session.SecretHash, &session.CreatedAt, &revokedAt)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if !revokedAt.IsZero() {
		t := revokedAt
		session.RevokedAt = &t
	}

	return session, nil
}

// RevokeSession stamps revoked_at through a lightweight transaction so the
// first revocation timestamp sticks. Revoking twice is not an error.
func (r *SessionRepository) RevokeSession(ctx context.Context, sessionID string, at time.Time) error {
	applied, err := r.client.ApplyCAS(r.client.Query(`
        UPDATE sessions SET revoked_at = ? WHERE session_id = ? IF revoked_at = null`,
		at, sessionID).WithContext(ctx))
	if err != nil {
		util.Error("Failed to revoke session",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	util.Info("Session revoked",
		zap.String("session_id", sessionID),
		zap.Bool("first_revocation", applied))

	return nil
}

func (r *SessionRepository) ListSessionsByUser(ctx context.Context, userID string) ([]*model.Session, error) {
	iter := r.client.Prepared.ListSessionsByUser.Bind(userID).WithContext(ctx).Iter()

	var sessionIDs []string
	var sessionID string
	for iter.Scan(&sessionID) {
		sessionIDs = append(sessionIDs, sessionID)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]*model.Session, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		session, err := r.GetSessionByID(ctx, id)
		if err != nil {
			if err == common.ErrNotFound {
				continue
			}
			return nil, err
		}
		sessions = append(sessions, session)
	}

	return sessions, nil
}

// RevokeAllSessions revokes every session of the user, sparing at most the
// one named by except.
func (r *SessionRepository) RevokeAllSessions(ctx context.Context, userID string, except string, at time.Time) error {
	sessions, err := r.ListSessionsByUser(ctx, userID)
	if err != nil {
		return err
	}

	revoked := 0
	for _, session := range sessions {
		if session.ID == except || session.Revoked() {
			continue
		}
		if err := r.RevokeSession(ctx, session.ID, at); err != nil {
			return err
		}
		revoked++
	}

	util.Info("User sessions revoked",
		zap.String("user_id", userID),
		zap.Int("revoked", revoked))

	return nil
}
