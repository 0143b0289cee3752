package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"teamhub/internal/client"
	"teamhub/internal/util"
)

const (
	pendingUserPrefix    = "pendinguser:email:"
	pendingSessionPrefix = "pendingsession:user:"
	pendingEmailPrefix   = "pendingemail:user:"
)

// swapScript atomically repoints a flow key and returns the previously
// indexed pending id, so the caller can retire the superseded flow. A Lua
// false reply would surface as redis.Nil, hence the empty-string fallback.
const swapScript = `
local old = redis.call('GET', KEYS[1])
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return old or ''`

// FlowIndex enforces at most one live verification flow per subject: one
// pending registration per email, one pending sign-in and one pending email
// change per user. Repointing the index supersedes the previous flow.
type FlowIndex struct {
	client *client.RedisClient
}

func NewFlowIndex(client *client.RedisClient) *FlowIndex {
	return &FlowIndex{client: client}
}

// SwapPendingUser indexes a new registration flow for the email and returns
// the id of the flow it replaced, or "" if none was live.
func (c *FlowIndex) SwapPendingUser(email, pendingID string, ttl time.Duration) (string, error) {
	return c.swap(pendingUserPrefix+email, pendingID, ttl)
}

func (c *FlowIndex) ClearPendingUser(email string) error {
	return c.clear(pendingUserPrefix + email)
}

// SwapPendingSession indexes a new sign-in flow for the user.
func (c *FlowIndex) SwapPendingSession(userID, pendingID string, ttl time.Duration) (string, error) {
	return c.swap(pendingSessionPrefix+userID, pendingID, ttl)
}

func (c *FlowIndex) ClearPendingSession(userID string) error {
	return c.clear(pendingSessionPrefix + userID)
}

// SwapPendingEmail indexes a new email-change flow for the user.
func (c *FlowIndex) SwapPendingEmail(userID, pendingID string, ttl time.Duration) (string, error) {
	return c.swap(pendingEmailPrefix+userID, pendingID, ttl)
}

func (c *FlowIndex) ClearPendingEmail(userID string) error {
	return c.clear(pendingEmailPrefix + userID)
}

func (c *FlowIndex) swap(key, pendingID string, ttl time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := c.client.Eval(ctx, swapScript, []string{key}, pendingID, ttl.Milliseconds())
	if err != nil {
		util.Error("Failed to swap flow index",
			zap.String("key", key),
			zap.Error(err))
		return "", fmt.Errorf("failed to swap flow index: %w", err)
	}

	previous, _ := result.(string)
	if previous != "" {
		util.Debug("Superseded live flow",
			zap.String("key", key),
			zap.String("previous_id", previous))
	}

	return previous, nil
}

func (c *FlowIndex) clear(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, key); err != nil && !errors.Is(err, client.ErrKeyNotFound) {
		util.Error("Failed to clear flow index",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to clear flow index: %w", err)
	}

	return nil
}
