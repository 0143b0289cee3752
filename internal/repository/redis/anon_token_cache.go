package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"teamhub/internal/client"
	"teamhub/internal/common"
	"teamhub/internal/util"
)

const anonTokenPrefix = "anontoken:"

// AnonTokenCache stores the secret hashes of anonymous tokens handed out for
// pre-auth flows. These are short-lived and exist only in Redis; expiry is
// the TTL, revocation is a delete.
type AnonTokenCache struct {
	client *client.RedisClient
}

func NewAnonTokenCache(client *client.RedisClient) *AnonTokenCache {
	return &AnonTokenCache{client: client}
}

func (c *AnonTokenCache) PutToken(grantID, secretHash string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := anonTokenPrefix + grantID
	if err := c.client.Set(ctx, key, secretHash, ttl); err != nil {
		util.Error("Failed to store anonymous token",
			zap.String("grant_id", grantID),
			zap.Error(err))
		return fmt.Errorf("failed to store anonymous token: %w", err)
	}

	util.Debug("Anonymous token stored",
		zap.String("grant_id", grantID),
		zap.Duration("ttl", ttl))

	return nil
}

// GetTokenHash returns the stored secret hash, or ErrNotFound once the grant
// has expired or was deleted.
func (c *AnonTokenCache) GetTokenHash(grantID string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hash, err := c.client.Get(ctx, anonTokenPrefix+grantID)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return "", common.ErrNotFound
		}
		util.Error("Failed to get anonymous token",
			zap.String("grant_id", grantID),
			zap.Error(err))
		return "", fmt.Errorf("failed to get anonymous token: %w", err)
	}

	return hash, nil
}

func (c *AnonTokenCache) DeleteToken(grantID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, anonTokenPrefix+grantID); err != nil {
		util.Error("Failed to delete anonymous token",
			zap.String("grant_id", grantID),
			zap.Error(err))
		return fmt.Errorf("failed to delete anonymous token: %w", err)
	}

	return nil
}
