package hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"

	"teamhub/internal/config"
)

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrIncompatibleVersion = errors.New("incompatible hash algorithm")
)

const algorithm = "argon2id-v1"

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher produces salted, peppered argon2id hashes for one-time codes. The
// pepper comes from configuration so every instance, and every restart,
// verifies the same hashes; rotation keeps the previous pepper verifiable
// while in-flight flows drain.
type Hasher struct {
	params        Argon2Params
	pepperVersion int
	peppers       map[int]string
	mu            sync.RWMutex
}

// HashResult is the storable outcome of hashing. Encode serializes it to a
// single column-friendly string.
type HashResult struct {
	Hash          string
	Salt          string
	PepperVersion int
	Algorithm     string
}

// Encode renders the result as "algorithm$pepperVersion$salt$hash".
func (r *HashResult) Encode() string {
	return strings.Join([]string{r.Algorithm, strconv.Itoa(r.PepperVersion), r.Salt, r.Hash}, "$")
}

// ParseHashResult is the inverse of Encode.
func ParseHashResult(s string) (*HashResult, error) {
	parts := strings.Split(s, "$")
	if len(parts) != 4 {
		return nil, ErrInvalidHash
	}
	if parts[0] != algorithm {
		return nil, ErrIncompatibleVersion
	}
	version, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, ErrInvalidHash
	}
	return &HashResult{
		Algorithm:     parts[0],
		PepperVersion: version,
		Salt:          parts[2],
		Hash:          parts[3],
	}, nil
}

func NewHasher(cfg *config.Config) *Hasher {
	h := &Hasher{
		params: Argon2Params{
			Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
			Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
			Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
			SaltLength:  32,
			KeyLength:   32,
		},
		pepperVersion: cfg.Hashing.PepperVersion,
		peppers:       map[int]string{cfg.Hashing.PepperVersion: cfg.Hashing.Pepper},
	}

	if cfg.Hashing.PepperPrevious != "" && cfg.Hashing.PepperVersion > 1 {
		h.peppers[cfg.Hashing.PepperVersion-1] = cfg.Hashing.PepperPrevious
	}

	return h
}

// HashCode hashes a one-time code.
func (h *Hasher) HashCode(code string) (*HashResult, error) {
	return h.hashWithPepper(code, "code")
}

// VerifyCode checks a presented one-time code against a stored hash in
// constant time.
func (h *Hasher) VerifyCode(code string, result *HashResult) (bool, error) {
	return h.verifyWithPepper(code, result, "code")
}

func (h *Hasher) hashWithPepper(data, context string) (*HashResult, error) {
	h.mu.RLock()
	version := h.pepperVersion
	pepper := h.peppers[version]
	h.mu.RUnlock()

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	// Context keys the hash to its purpose
	contextualData := data + pepper + context

	hash := argon2.IDKey(
		[]byte(contextualData),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return &HashResult{
		Hash:          base64.RawURLEncoding.EncodeToString(hash),
		Salt:          base64.RawURLEncoding.EncodeToString(salt),
		PepperVersion: version,
		Algorithm:     algorithm,
	}, nil
}

func (h *Hasher) verifyWithPepper(data string, result *HashResult, context string) (bool, error) {
	h.mu.RLock()
	pepper, ok := h.peppers[result.PepperVersion]
	h.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("pepper version %d not available", result.PepperVersion)
	}

	salt, err := base64.RawURLEncoding.DecodeString(result.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}

	expectedHash, err := base64.RawURLEncoding.DecodeString(result.Hash)
	if err != nil {
		return false, ErrInvalidHash
	}

	contextualData := data + pepper + context

	computedHash := argon2.IDKey(
		[]byte(contextualData),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		uint32(len(expectedHash)),
	)

	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1, nil
}

// HashSecret hashes a session or anonymous token secret. The secret is 32
// bytes of raw entropy, so an unsalted SHA-256 is sufficient and keeps token
// validation off the argon2 cost curve.
func HashSecret(secret []byte) string {
	sum := sha256.Sum256(secret)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifySecret checks a presented token secret against a stored hash in
// constant time.
func VerifySecret(secret []byte, encodedHash string) bool {
	expected, err := base64.RawURLEncoding.DecodeString(encodedHash)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(secret)
	return subtle.ConstantTimeCompare(sum[:], expected) == 1
}
