package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"teamhub/internal/client"
	"teamhub/internal/common"
	"teamhub/internal/model"
	"teamhub/internal/util"
)

const sessionPrefix = "session:"

// SessionCache fronts the session table on the token-validation hot path.
// Entries are write-through and invalidated on revocation, so a stale hit
// can only last until the invalidation lands.
type SessionCache struct {
	client *client.RedisClient
	ttl    time.Duration
}

func NewSessionCache(client *client.RedisClient, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SessionCache{client: client, ttl: ttl}
}

// cachedSession is the storage shape of a cache entry. The API-facing
// Session never serializes its secret hash, but validation against a cache
// hit needs it, so the cache round-trips its own DTO.
type cachedSession struct {
	ID         string     `json:"session_id"`
	UserID     string     `json:"user_id"`
	SecretHash string     `json:"secret_hash"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

func (c *SessionCache) CacheSession(session *model.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(&cachedSession{
		ID:         session.ID,
		UserID:     session.UserID,
		SecretHash: session.SecretHash,
		CreatedAt:  session.CreatedAt,
		RevokedAt:  session.RevokedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	key := sessionPrefix + session.ID
	if err := c.client.Set(ctx, key, payload, c.ttl); err != nil {
		util.Error("Failed to cache session",
			zap.String("session_id", session.ID),
			zap.Error(err))
		return fmt.Errorf("failed to cache session: %w", err)
	}

	return nil
}

func (c *SessionCache) GetSession(sessionID string) (*model.Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := c.client.Get(ctx, sessionPrefix+sessionID)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, common.ErrNotFound
		}
		util.Error("Failed to get session from cache",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get session from cache: %w", err)
	}

	entry := &cachedSession{}
	if err := json.Unmarshal([]byte(raw), entry); err != nil {
		// A corrupt entry behaves like a miss; storage is authoritative.
		util.Warn("Dropping corrupt session cache entry",
			zap.String("session_id", sessionID),
			zap.Error(err))
		_ = c.InvalidateSession(sessionID)
		return nil, common.ErrNotFound
	}

	return &model.Session{
		ID:         entry.ID,
		UserID:     entry.UserID,
		SecretHash: entry.SecretHash,
		CreatedAt:  entry.CreatedAt,
		RevokedAt:  entry.RevokedAt,
	}, nil
}

func (c *SessionCache) InvalidateSession(sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, sessionPrefix+sessionID); err != nil {
		util.Error("Failed to invalidate session cache entry",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return fmt.Errorf("failed to invalidate session: %w", err)
	}

	util.Debug("Session cache entry invalidated",
		zap.String("session_id", sessionID))

	return nil
}
