// Package otp issues and verifies the short-lived numeric codes delivered by
// email during registration, sign-in, and email verification.
package otp

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"time"

	"teamhub/internal/common"
	"teamhub/internal/config"
	"teamhub/internal/hashing"
)

// Manager generates fixed-length decimal codes from a cryptographically
// secure source and verifies presented codes against their stored hash.
// Clock and randomness are injectable for tests.
type Manager struct {
	hasher      *hashing.Hasher
	length      int
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
	rand        io.Reader
}

func NewManager(hasher *hashing.Hasher, cfg config.AuthConfig) *Manager {
	return &Manager{
		hasher:      hasher,
		length:      cfg.CodeLength,
		ttl:         cfg.CodeTTL,
		maxAttempts: cfg.CodeMaxAttempts,
		now:         time.Now,
		rand:        rand.Reader,
	}
}

// WithClock overrides the time source. Test helper.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Issue returns a fresh plaintext code, its encoded hash for storage, and
// the expiry deadline. The plaintext exists only for mail delivery and must
// never be persisted or logged.
func (m *Manager) Issue() (code string, encodedHash string, expiresAt time.Time, err error) {
	code, err = m.generate()
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("failed to generate code: %w", err)
	}

	result, err := m.hasher.HashCode(code)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("failed to hash code: %w", err)
	}

	return code, result.Encode(), m.now().UTC().Add(m.ttl), nil
}

// Verify checks a presented code against the stored hash. The attempt cap is
// checked first: once exceeded, even the correct code is rejected and the
// flow must be restarted. Expiry beats code comparison so an expired flow
// leaks nothing about the code.
func (m *Manager) Verify(presented, encodedHash string, expiresAt time.Time, attempts int) error {
	if attempts >= m.maxAttempts {
		return common.ErrTooManyAttempts
	}

	if m.now().UTC().After(expiresAt) {
		return common.ErrExpired
	}

	result, err := hashing.ParseHashResult(encodedHash)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInternal, err)
	}

	ok, err := m.hasher.VerifyCode(presented, result)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	if !ok {
		return common.ErrInvalidCode
	}

	return nil
}

// MaxAttempts exposes the configured cap for flow bookkeeping.
func (m *Manager) MaxAttempts() int {
	return m.maxAttempts
}

// TTL exposes the configured code lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

func (m *Manager) generate() (string, error) {
	space := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(m.length)), nil)
	n, err := rand.Int(m.rand, space)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", m.length, n), nil
}
