// Package crypto provides payload signing for outgoing webhook deliveries.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrEmptySecret is returned when a signer is created without a secret.
	ErrEmptySecret = errors.New("signing secret must not be empty")
	// ErrInvalidSignature is returned when signature verification fails.
	ErrInvalidSignature = errors.New("invalid signature")
)

// HMACSigner signs webhook payloads with HMAC-SHA256. Receivers verify the
// signature against the shared secret to authenticate deliveries.
type HMACSigner struct {
	secret []byte
}

// NewHMACSigner creates a payload signer from a shared secret.
func NewHMACSigner(secret []byte) (*HMACSigner, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	return &HMACSigner{
		secret: secret,
	}, nil
}

// Sign returns the hex-encoded HMAC-SHA256 signature of the payload.
func (s *HMACSigner) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a hex-encoded signature against the payload.
func (s *HMACSigner) Verify(payload []byte, signature string) error {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: malformed hex encoding", ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return ErrInvalidSignature
	}

	return nil
}
