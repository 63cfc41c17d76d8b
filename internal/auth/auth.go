// Package auth derives and checks the registration token presented by clients.
//
// The token is the lowercase hex SHA-256 digest of the shared secret followed by
// the identity. It never expires and is the same for every role of an identity.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

// ErrTokenMismatch is returned when a supplied token does not match the identity.
var ErrTokenMismatch = errors.New("auth token mismatch")

// Verifier computes tokens from a fixed shared secret. It holds no other state
// and is safe for concurrent use.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier bound to secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("auth secret is required")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// ExpectedToken returns the token a client must present for identity.
func (v *Verifier) ExpectedToken(identity string) string {
	h := sha256.New()
	h.Write(v.secret)
	h.Write([]byte(identity))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify returns ErrTokenMismatch unless token is the expected token for identity.
func (v *Verifier) Verify(identity, token string) error {
	expected := v.ExpectedToken(identity)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(token)) != 1 {
		return ErrTokenMismatch
	}
	return nil
}
