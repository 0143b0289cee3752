package redis

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamhub/internal/client"
	"teamhub/internal/common"
	"teamhub/internal/model"
)

func newTestSessionCache(t *testing.T, ttl time.Duration) (*SessionCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewSessionCache(client.NewRedisClientFromAddr(mr.Addr()), ttl), mr
}

func TestCacheAndGetSession(t *testing.T) {
	cache, _ := newTestSessionCache(t, time.Minute)

	session := &model.Session{
		ID:         "sess-1",
		UserID:     "user-1",
		SecretHash: "hash",
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, cache.CacheSession(session))

	got, err := cache.GetSession("sess-1")
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, session.UserID, got.UserID)
	assert.Equal(t, session.SecretHash, got.SecretHash)
	assert.Nil(t, got.RevokedAt)
}

func TestGetSessionMiss(t *testing.T) {
	cache, _ := newTestSessionCache(t, time.Minute)

	_, err := cache.GetSession("missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetSessionExpired(t *testing.T) {
	cache, mr := newTestSessionCache(t, time.Minute)

	require.NoError(t, cache.CacheSession(&model.Session{ID: "sess-1", UserID: "user-1"}))
	mr.FastForward(2 * time.Minute)

	_, err := cache.GetSession("sess-1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCorruptEntryBehavesLikeMiss(t *testing.T) {
	cache, mr := newTestSessionCache(t, time.Minute)

	mr.Set(sessionPrefix+"sess-1", "{not json")

	_, err := cache.GetSession("sess-1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	// The corrupt entry was dropped too.
	assert.False(t, mr.Exists(sessionPrefix+"sess-1"))
}

func TestInvalidateSession(t *testing.T) {
	cache, _ := newTestSessionCache(t, time.Minute)

	require.NoError(t, cache.CacheSession(&model.Session{ID: "sess-1", UserID: "user-1"}))
	require.NoError(t, cache.InvalidateSession("sess-1"))

	_, err := cache.GetSession("sess-1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	// Idempotent.
	assert.NoError(t, cache.InvalidateSession("sess-1"))
}

func TestAnonTokenCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := NewAnonTokenCache(client.NewRedisClientFromAddr(mr.Addr()))

	require.NoError(t, cache.PutToken("grant-1", "secret-hash", time.Minute))

	hash, err := cache.GetTokenHash("grant-1")
	require.NoError(t, err)
	assert.Equal(t, "secret-hash", hash)

	_, err = cache.GetTokenHash("grant-2")
	assert.ErrorIs(t, err, common.ErrNotFound)

	mr.FastForward(2 * time.Minute)
	_, err = cache.GetTokenHash("grant-1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, cache.PutToken("grant-3", "other-hash", time.Minute))
	require.NoError(t, cache.DeleteToken("grant-3"))
	_, err = cache.GetTokenHash("grant-3")
	assert.ErrorIs(t, err, common.ErrNotFound)
}
