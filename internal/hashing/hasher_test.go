package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamhub/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Pepper:            "test-pepper",
			PepperVersion:     1,
		},
	}
}

func TestHashCodeRoundTrip(t *testing.T) {
	h := NewHasher(testConfig())

	result, err := h.HashCode("482913")
	require.NoError(t, err)

	ok, err := h.VerifyCode("482913", result)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyCode("482914", result)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashCodeSaltsDiffer(t *testing.T) {
	h := NewHasher(testConfig())

	a, err := h.HashCode("482913")
	require.NoError(t, err)
	b, err := h.HashCode("482913")
	require.NoError(t, err)

	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestVerifyAcrossInstances(t *testing.T) {
	// The pepper comes from configuration, so a hash produced by one
	// instance must verify on another with the same config.
	cfg := testConfig()
	writer := NewHasher(cfg)
	reader := NewHasher(cfg)

	result, err := writer.HashCode("271828")
	require.NoError(t, err)

	parsed, err := ParseHashResult(result.Encode())
	require.NoError(t, err)

	ok, err := reader.VerifyCode("271828", parsed)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyWithPreviousPepper(t *testing.T) {
	oldCfg := testConfig()
	old := NewHasher(oldCfg)

	result, err := old.HashCode("314159")
	require.NoError(t, err)

	rotated := testConfig()
	rotated.Hashing.Pepper = "new-pepper"
	rotated.Hashing.PepperPrevious = "test-pepper"
	rotated.Hashing.PepperVersion = 2

	h := NewHasher(rotated)

	ok, err := h.VerifyCode("314159", result)
	require.NoError(t, err)
	assert.True(t, ok, "hash from the previous pepper version should still verify")

	fresh, err := h.HashCode("314159")
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.PepperVersion)
}

func TestVerifyUnknownPepperVersion(t *testing.T) {
	h := NewHasher(testConfig())

	result, err := h.HashCode("161803")
	require.NoError(t, err)
	result.PepperVersion = 9

	_, err = h.VerifyCode("161803", result)
	assert.Error(t, err)
}

func TestParseHashResult(t *testing.T) {
	h := NewHasher(testConfig())
	result, err := h.HashCode("123456")
	require.NoError(t, err)

	parsed, err := ParseHashResult(result.Encode())
	require.NoError(t, err)
	assert.Equal(t, result.Hash, parsed.Hash)
	assert.Equal(t, result.Salt, parsed.Salt)
	assert.Equal(t, result.PepperVersion, parsed.PepperVersion)

	_, err = ParseHashResult("garbage")
	assert.ErrorIs(t, err, ErrInvalidHash)

	_, err = ParseHashResult("md5$1$salt$hash")
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

func TestHashSecret(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")

	encoded := HashSecret(secret)
	assert.NotEmpty(t, encoded)
	assert.True(t, VerifySecret(secret, encoded))

	other := []byte("f123456789abcdef0123456789abcdef")
	assert.False(t, VerifySecret(other, encoded))
	assert.False(t, VerifySecret(secret, "not-base64!!"))
}
