package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"teamhub/internal/config"
	"teamhub/internal/util"
)

// PreparedStatements holds the statements the repositories reuse on the hot
// paths. One-off maintenance queries go through Session.Query directly.
type PreparedStatements struct {
	CreateUser           *gocql.Query
	GetUserByID          *gocql.Query
	LookupUserByEmail    *gocql.Query
	LookupUserByUsername *gocql.Query
	UpdateUserTwoFa      *gocql.Query
	UpdateUserEmail      *gocql.Query
	UpdateUserProfile    *gocql.Query
	DisableUser          *gocql.Query

	CreatePendingUser    *gocql.Query
	GetPendingUser       *gocql.Query
	CreatePendingSession *gocql.Query
	GetPendingSession    *gocql.Query
	CreatePendingEmail   *gocql.Query
	GetPendingEmail      *gocql.Query

	CreateSession      *gocql.Query
	GetSessionByID     *gocql.Query
	ListSessionsByUser *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 "/root/certs/ca.pem",
			CertPath:               "/root/certs/server.pem",
			KeyPath:                "/root/certs/server.key",
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateUser = s.Session.Query(`
        INSERT INTO users (
            user_bucket, user_id, email, username, display_name, description,
            twofa_status, twofa_secret_enc, twofa_secret_dek, twofa_key_id,
            created_at, updated_at, disabled_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetUserByID = s.Session.Query(`
        SELECT user_bucket, user_id, email, username, display_name, description,
            twofa_status, twofa_secret_enc, twofa_secret_dek, twofa_key_id,
            created_at, updated_at, disabled_at
        FROM users WHERE user_bucket = ? AND user_id = ?`)

	prepared.LookupUserByEmail = s.Session.Query(`
        SELECT user_bucket, user_id FROM users_by_email WHERE email = ?`)

	prepared.LookupUserByUsername = s.Session.Query(`
        SELECT user_bucket, user_id FROM users_by_username WHERE username = ?`)

	prepared.UpdateUserTwoFa = s.Session.Query(`
        UPDATE users SET twofa_status = ?, twofa_secret_enc = ?, twofa_secret_dek = ?,
            twofa_key_id = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`)

	prepared.UpdateUserEmail = s.Session.Query(`
        UPDATE users SET email = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`)

	prepared.UpdateUserProfile = s.Session.Query(`
        UPDATE users SET display_name = ?, description = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`)

	prepared.DisableUser = s.Session.Query(`
        UPDATE users SET disabled_at = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`)

	prepared.CreatePendingUser = s.Session.Query(`
        INSERT INTO pending_users (pending_id, email, username, code_hash, expires_at, attempts, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?) USING TTL ?`)

	prepared.GetPendingUser = s.Session.Query(`
        SELECT pending_id, email, username, code_hash, expires_at, attempts, created_at
        FROM pending_users WHERE pending_id = ?`)

	prepared.CreatePendingSession = s.Session.Query(`
        INSERT INTO pending_sessions (pending_id, user_id, code_hash, twofa, expires_at, attempts, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?) USING TTL ?`)

	prepared.GetPendingSession = s.Session.Query(`
        SELECT pending_id, user_id, code_hash, twofa, expires_at, attempts, created_at
        FROM pending_sessions WHERE pending_id = ?`)

	prepared.CreatePendingEmail = s.Session.Query(`
        INSERT INTO pending_emails (pending_id, user_id, new_email, code_hash, expires_at, attempts, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?) USING TTL ?`)

	prepared.GetPendingEmail = s.Session.Query(`
        SELECT pending_id, user_id, new_email, code_hash, expires_at, attempts, created_at
        FROM pending_emails WHERE pending_id = ?`)

	prepared.CreateSession = s.Session.Query(`
        INSERT INTO sessions (session_id, user_id, secret_hash, created_at, revoked_at)
        VALUES (?, ?, ?, ?, ?)`)

	prepared.GetSessionByID = s.Session.Query(`
        SELECT session_id, user_id, secret_hash, created_at, revoked_at
        FROM sessions WHERE session_id = ?`)

	prepared.ListSessionsByUser = s.Session.Query(`
        SELECT session_id FROM sessions_by_user WHERE user_id = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created successfully")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) Batch(typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

// ApplyCAS runs a lightweight-transaction query and reports whether the
// condition held. Exactly one of several racing callers sees applied=true.
func (s *ScyllaClient) ApplyCAS(query *gocql.Query) (bool, error) {
	applied, err := query.MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, err
	}
	return applied, nil
}
