// Package token encodes and decodes the opaque bearer tokens handed to
// clients. A token carries a kind tag, an entity id, and a random secret;
// only the hash of the secret is ever stored, so decoding proves nothing by
// itself — the caller must still match the secret against storage.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/google/uuid"

	"teamhub/internal/common"
)

const (
	kindSession   byte = 0x01
	kindAnonymous byte = 0x02

	// SecretLength is the byte length of the random half of every token.
	SecretLength = 32

	rawLength = 1 + 16 + SecretLength
)

// Decoded is the parsed form of a well-formed token.
type Decoded struct {
	ID     string // UUID of the session (or anonymous grant)
	Secret []byte
}

// Codec performs the stateless half of token handling.
type Codec struct {
	rand io.Reader
}

func NewCodec() *Codec {
	return &Codec{rand: rand.Reader}
}

// NewSecret draws a fresh token secret.
func (c *Codec) NewSecret() ([]byte, error) {
	secret := make([]byte, SecretLength)
	if _, err := io.ReadFull(c.rand, secret); err != nil {
		return nil, fmt.Errorf("failed to generate token secret: %w", err)
	}
	return secret, nil
}

// EncodeSession builds a session bearer token.
func (c *Codec) EncodeSession(sessionID string, secret []byte) (string, error) {
	return encode(kindSession, sessionID, secret)
}

// EncodeAnonymous builds an anonymous bearer token for pre-auth flows.
func (c *Codec) EncodeAnonymous(grantID string, secret []byte) (string, error) {
	return encode(kindAnonymous, grantID, secret)
}

// DecodeSession parses a session token. Malformed input, a wrong kind tag,
// and a bad length all collapse to ErrInvalidToken.
func (c *Codec) DecodeSession(token string) (*Decoded, error) {
	return decode(kindSession, token)
}

// DecodeAnonymous parses an anonymous token.
func (c *Codec) DecodeAnonymous(token string) (*Decoded, error) {
	return decode(kindAnonymous, token)
}

func encode(kind byte, id string, secret []byte) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("invalid token id: %w", err)
	}
	if len(secret) != SecretLength {
		return "", fmt.Errorf("invalid secret length: %d", len(secret))
	}

	raw := make([]byte, 0, rawLength)
	raw = append(raw, kind)
	raw = append(raw, parsed[:]...)
	raw = append(raw, secret...)

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decode(kind byte, token string) (*Decoded, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, common.ErrInvalidToken
	}
	if len(raw) != rawLength || raw[0] != kind {
		return nil, common.ErrInvalidToken
	}

	id, err := uuid.FromBytes(raw[1:17])
	if err != nil {
		return nil, common.ErrInvalidToken
	}

	secret := make([]byte, SecretLength)
	copy(secret, raw[17:])

	return &Decoded{ID: id.String(), Secret: secret}, nil
}
