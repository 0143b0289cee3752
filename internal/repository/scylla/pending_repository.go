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

// pendingRowGrace keeps pending rows around past their logical expiry so an
// expired flow reports expiry instead of plain not-found.
const pendingRowGrace = time.Hour

// PendingRepository stores the three single-use verification flows. All three
// tables are keyed by pending_id alone, and consumption is a DELETE IF EXISTS
// so exactly one concurrent completion can win.
type PendingRepository struct {
	client *ScyllaClient
}

func NewPendingRepository(client *ScyllaClient, logger *zap.Logger) *PendingRepository {
	return &PendingRepository{
		client: client,
	}
}

// -------------------- PENDING USERS --------------------

func (r *PendingRepository) CreatePendingUser(ctx context.Context, pending *model.PendingUser) error {
	if pending.ID == "" {
		pending.ID = uuid.New().String()
	}
	pending.CreatedAt = time.Now().UTC()

	query := r.client.Prepared.CreatePendingUser.Bind(
		pending.ID, pending.Email, pending.Username, pending.CodeHash,
		pending.ExpiresAt, pending.Attempts, pending.CreatedAt,
		rowTTL(pending.ExpiresAt)).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create pending user",
			zap.String("pending_user_id", pending.ID),
			zap.Error(err))
		return fmt.Errorf("failed to create pending user: %w", err)
	}

	util.Info("Pending user created",
		zap.String("pending_user_id", pending.ID),
		zap.Time("expires_at", pending.ExpiresAt))

	return nil
}

func (r *PendingRepository) GetPendingUser(ctx context.Context, pendingID string) (*model.PendingUser, error) {
	pending := &model.PendingUser{}

	query := r.client.Prepared.GetPendingUser.Bind(pendingID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&pending.ID, &pending.Email, &pending.Username, &pending.CodeHash,
		&pending.ExpiresAt, &pending.Attempts, &pending.CreatedAt)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pending user: %w", err)
	}

	return pending, nil
}

func (r *PendingRepository) ConsumePendingUser(ctx context.Context, pendingID string) (bool, error) {
	return r.consume(ctx, "pending_users", pendingID)
}

func (r *PendingRepository) BumpPendingUserAttempts(ctx context.Context, pendingID string, prevAttempts int) error {
	return r.bumpAttempts(ctx, "pending_users", pendingID, prevAttempts)
}

// -------------------- PENDING SESSIONS --------------------

func (r *PendingRepository) CreatePendingSession(ctx context.Context, pending *model.PendingSession) error {
	if pending.ID == "" {
		pending.ID = uuid.New().String()
	}
	pending.CreatedAt = time.Now().UTC()

	query := r.client.Prepared.CreatePendingSession.Bind(
		pending.ID, pending.UserID, pending.CodeHash, pending.TwoFa,
		pending.ExpiresAt, pending.Attempts, pending.CreatedAt,
		rowTTL(pending.ExpiresAt)).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create pending session",
			zap.String("pending_session_id", pending.ID),
			zap.String("user_id", pending.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create pending session: %w", err)
	}

	util.Info("Pending session created",
		zap.String("pending_session_id", pending.ID),
		zap.String("user_id", pending.UserID),
		zap.Bool("two_fa", pending.TwoFa))

	return nil
}

func (r *PendingRepository) GetPendingSession(ctx context.Context, pendingID string) (*model.PendingSession, error) {
	pending := &model.PendingSession{}

	query := r.client.Prepared.GetPendingSession.Bind(pendingID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&pending.ID, &pending.UserID, &pending.CodeHash, &pending.TwoFa,
		&pending.ExpiresAt, &pending.Attempts, &pending.CreatedAt)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pending session: %w", err)
	}

	return pending, nil
}

func (r *PendingRepository) ConsumePendingSession(ctx context.Context, pendingID string) (bool, error) {
	return r.consume(ctx, "pending_sessions", pendingID)
}

func (r *PendingRepository) BumpPendingSessionAttempts(ctx context.Context, pendingID string, prevAttempts int) error {
	return r.bumpAttempts(ctx, "pending_sessions", pendingID, prevAttempts)
}

// -------------------- PENDING EMAILS --------------------

func (r *PendingRepository) CreatePendingEmail(ctx context.Context, pending *model.PendingEmail) error {
	if pending.ID == "" {
		pending.ID = uuid.New().String()
	}
	pending.CreatedAt = time.Now().UTC()

	query := r.client.Prepared.CreatePendingEmail.Bind(
		pending.ID, pending.UserID, pending.NewEmail, pending.CodeHash,
		pending.ExpiresAt, pending.Attempts, pending.CreatedAt,
		rowTTL(pending.ExpiresAt)).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create pending email",
			zap.String("pending_email_id", pending.ID),
			zap.String("user_id", pending.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create pending email: %w", err)
	}

	util.Info("Pending email created",
		zap.String("pending_email_id", pending.ID),
		zap.String("user_id", pending.UserID))

	return nil
}

func (r *PendingRepository) GetPendingEmail(ctx context.Context, pendingID string) (*model.PendingEmail, error) {
	pending := &model.PendingEmail{}

	query := r.client.Prepared.GetPendingEmail.Bind(pendingID).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&pending.ID, &pending.UserID, &pending.NewEmail, &pending.CodeHash,
		&pending.ExpiresAt, &pending.Attempts, &pending.CreatedAt)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pending email: %w", err)
	}

	return pending, nil
}

func (r *PendingRepository) ConsumePendingEmail(ctx context.Context, pendingID string) (bool, error) {
	return r.consume(ctx, "pending_emails", pendingID)
}

func (r *PendingRepository) BumpPendingEmailAttempts(ctx context.Context, pendingID string, prevAttempts int) error {
	return r.bumpAttempts(ctx, "pending_emails", pendingID, prevAttempts)
}

// -------------------- SHARED --------------------

// consume deletes the pending row through a lightweight transaction. The
// returned bool is true for exactly one caller; everyone else finds the row
// already gone.
func (r *PendingRepository) consume(ctx context.Context, table, pendingID string) (bool, error) {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE pending_id = ? IF EXISTS`, table)

	applied, err := r.client.ApplyCAS(r.client.Query(stmt, pendingID).WithContext(ctx))
	if err != nil {
		util.Error("Failed to consume pending row",
			zap.String("table", table),
			zap.String("pending_id", pendingID),
			zap.Error(err))
		return false, fmt.Errorf("failed to consume pending row: %w", err)
	}

	util.Info("Pending row consumed",
		zap.String("table", table),
		zap.String("pending_id", pendingID),
		zap.Bool("applied", applied))

	return applied, nil
}

// bumpAttempts increments the attempt counter with a compare-and-set on the
// previous value. A lost race just means another failed attempt already
// counted, so not-applied is not an error.
func (r *PendingRepository) bumpAttempts(ctx context.Context, table, pendingID string, prevAttempts int) error {
	stmt := fmt.Sprintf(`UPDATE %s SET attempts = ? WHERE pending_id = ? IF attempts = ?`, table)

	_, err := r.client.ApplyCAS(r.client.Query(stmt, prevAttempts+1, pendingID, prevAttempts).WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to bump attempts: %w", err)
	}

	return nil
}

func rowTTL(expiresAt time.Time) int {
	ttl := time.Until(expiresAt) + pendingRowGrace
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return int(ttl.Seconds())
}
