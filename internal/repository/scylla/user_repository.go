package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"teamhub/internal/bucketing"
	"teamhub/internal/common"
	"teamhub/internal/model"
	"teamhub/internal/util"
)

// UserRepository stores accounts across three tables: the bucketed main
// table plus email and username lookup tables. Uniqueness of both lookup
// keys is enforced with INSERT IF NOT EXISTS claims.
type UserRepository struct {
	client  *ScyllaClient
	buckets *bucketing.Manager
}

func NewUserRepository(client *ScyllaClient, buckets *bucketing.Manager, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		client:  client,
		buckets: buckets,
	}
}

func (r *UserRepository) CreateUser(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.Bucket = r.buckets.UserBucket(user.ID)

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	// Claim both lookup keys first. Claims are per-partition LWTs, so they
	// cannot ride in one batch with the main-table insert.
	applied, err := r.client.ApplyCAS(r.client.Query(`
        INSERT INTO users_by_email (email, user_bucket, user_id)
        VALUES (?, ?, ?) IF NOT EXISTS`,
		user.Email, user.Bucket, user.ID).WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to claim email: %w", err)
	}
	if !applied {
		return common.ErrEmailTaken
	}

	applied, err = r.client.ApplyCAS(r.client.Query(`
        INSERT INTO users_by_username (username, user_bucket, user_id)
        VALUES (?, ?, ?) IF NOT EXISTS`,
		user.Username, user.Bucket, user.ID).WithContext(ctx))
	if err != nil || !applied {
		// Roll back the email claim so the address is not stranded.
		if delErr := r.client.Query(`DELETE FROM users_by_email WHERE email = ?`,
			user.Email).WithContext(ctx).Exec(); delErr != nil {
			util.Error("Failed to roll back email claim",
				zap.String("email", user.Email),
				zap.Error(delErr))
		}
		if err != nil {
			return fmt.Errorf("failed to claim username: %w", err)
		}
		return common.ErrUsernameTaken
	}

	query := r.client.Prepared.CreateUser.Bind(
		user.Bucket, user.ID, user.Email, user.Username, user.Name, user.Description,
		string(user.TwoFaStatus), user.TwoFaSecretEnc, user.TwoFaSecretDEK, user.TwoFaKeyID,
		user.CreatedAt, user.UpdatedAt, user.DisabledAt).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create user",
			zap.String("user_id", user.ID),
			zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}

	util.Info("User created",
		zap.String("user_id", user.ID),
		zap.String("username", user.Username),
		zap.Int("user_bucket", user.Bucket))

	return nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	bucket := r.buckets.UserBucket(userID)
	return r.scanUser(r.client.Prepared.GetUserByID.Bind(bucket, userID).WithContext(ctx))
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	bucket, userID, err := r.lookup(ctx, r.client.Prepared.LookupUserByEmail, email)
	if err != nil {
		return nil, err
	}
	return r.scanUser(r.client.Prepared.GetUserByID.Bind(bucket, userID).WithContext(ctx))
}

func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	bucket, userID, err := r.lookup(ctx, r.client.Prepared.LookupUserByUsername, username)
	if err != nil {
		return nil, err
	}
	return r.scanUser(r.client.Prepared.GetUserByID.Bind(bucket, userID).WithContext(ctx))
}

func (r *UserRepository) IsEmailTaken(ctx context.Context, email string) (bool, error) {
	_, _, err := r.lookup(ctx, r.client.Prepared.LookupUserByEmail, email)
	if err == common.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *UserRepository) IsUsernameTaken(ctx context.Context, username string) (bool, error) {
	_, _, err := r.lookup(ctx, r.client.Prepared.LookupUserByUsername, username)
	if err == common.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *UserRepository) UpdateTwoFa(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now().UTC()

	query := r.client.Prepared.UpdateUserTwoFa.Bind(
		string(user.TwoFaStatus), user.TwoFaSecretEnc, user.TwoFaSecretDEK,
		user.TwoFaKeyID, user.UpdatedAt,
		user.Bucket, user.ID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update user 2FA state",
			zap.String("user_id", user.ID),
			zap.Error(err))
		return fmt.Errorf("failed to update user 2fa state: %w", err)
	}

	util.Info("User 2FA state updated",
		zap.String("user_id", user.ID),
		zap.String("twofa_status", string(user.TwoFaStatus)))

	return nil
}

// UpdateEmail repoints the email lookup key and rewrites the main row. The
// new address is claimed before the old one is released.
func (r *UserRepository) UpdateEmail(ctx context.Context, user *model.User, newEmail string) error {
	applied, err := r.client.ApplyCAS(r.client.Query(`
        INSERT INTO users_by_email (email, user_bucket, user_id)
        VALUES (?, ?, ?) IF NOT EXISTS`,
		newEmail, user.Bucket, user.ID).WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to claim new email: %w", err)
	}
	if !applied {
		return common.ErrEmailTaken
	}

	oldEmail := user.Email
	now := time.Now().UTC()

	batch := r.client.Batch(gocql.LoggedBatch)
	batch.Query(r.client.Prepared.UpdateUserEmail.Statement(),
		newEmail, now, user.Bucket, user.ID)
	batch.Query(`DELETE FROM users_by_email WHERE email = ?`, oldEmail)

	if err := r.client.ExecuteBatch(batch.WithContext(ctx)); err != nil {
		if delErr := r.client.Query(`DELETE FROM users_by_email WHERE email = ?`,
			newEmail).WithContext(ctx).Exec(); delErr != nil {
			util.Error("Failed to roll back new email claim",
				zap.String("user_id", user.ID),
				zap.Error(delErr))
		}
		util.Error("Failed to update user email",
			zap.String("user_id", user.ID),
			zap.Error(err))
		return fmt.Errorf("failed to update user email: %w", err)
	}

	user.Email = newEmail
	user.UpdatedAt = now

	util.Info("User email updated", zap.String("user_id", user.ID))
	return nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now().UTC()

	query := r.client.Prepared.UpdateUserProfile.Bind(
		user.Name, user.Description, user.UpdatedAt,
		user.Bucket, user.ID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update user profile",
			zap.String("user_id", user.ID),
			zap.Error(err))
		return fmt.Errorf("failed to update user profile: %w", err)
	}

	return nil
}

// DisableUser marks the account for deferred deletion. Lookup rows stay in
// place so the email and username cannot be re-registered meanwhile.
func (r *UserRepository) DisableUser(ctx context.Context, user *model.User, at time.Time) error {
	query := r.client.Prepared.DisableUser.Bind(
		at, at, user.Bucket, user.ID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to disable user",
			zap.String("user_id", user.ID),
			zap.Error(err))
		return fmt.Errorf("failed to disable user: %w", err)
	}

	user.DisabledAt = &at
	user.UpdatedAt = at

	util.Info("User disabled", zap.String("user_id", user.ID))
	return nil
}

func (r *UserRepository) lookup(ctx context.Context, prepared *gocql.Query, key string) (int, string, error) {
	var bucket int
	var userID string

	err := r.client.ScanWithRetry(prepared.Bind(key).WithContext(ctx), &bucket, &userID)
	if err != nil {
		if err == gocql.ErrNotFound {
			return 0, "", common.ErrNotFound
		}
		return 0, "", fmt.Errorf("failed to look up user: %w", err)
	}

	return bucket, userID, nil
}

func (r *UserRepository) scanUser(query *gocql.Query) (*model.User, error) {
	user := &model.User{}
	var status string
	var disabledAt time.Time

	err := r.client.ScanWithRetry(query,
		&user.Bucket, &user.ID, &user.Email, &user.Username, &user.Name, &user.Description,
		&status, &user.TwoFaSecretEnc, &user.TwoFaSecretDEK, &user.TwoFaKeyID,
		&user.CreatedAt, &user.UpdatedAt, &disabledAt)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.TwoFaStatus = model.TwoFaStatus(status)
	if !disabledAt.IsZero() {
		t := disabledAt
		user.DisabledAt = &t
	}

	return user, nil
}
