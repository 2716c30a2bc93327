// Package crypto provides the process-wide signing primitive used by the
// capability, delegation and provenance services.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinKeySize is the smallest accepted HMAC key.
const MinKeySize = 16

// kdfInfo binds derived keys to this protocol so the operator secret can be
// shared with other systems without producing interchangeable MACs.
var kdfInfo = []byte("aiep-signing-key-v1")

// Signer produces and checks detached signatures over byte payloads.
// Implementations must be safe for concurrent use.
type Signer interface {
	Sign(payload []byte) []byte
	Verify(payload, sig []byte) bool
	KeyID() string
}

// HMACSigner is an HMAC-SHA256 Signer. The key is copied at construction and
// never modified afterwards.
type HMACSigner struct {
	key   []byte
	keyID string
}

// NewHMACSigner wraps raw key material.
func NewHMACSigner(key []byte) (*HMACSigner, error) {
	if len(key) < MinKeySize {
		return nil, fmt.Errorf("signing key too short: %d bytes, need at least %d", len(key), MinKeySize)
	}
	k := make([]byte, len(key))
	copy(k, key)
	fp := sha256.Sum256(k)
	return &HMACSigner{key: k, keyID: hex.EncodeToString(fp[:8])}, nil
}

// NewSignerFromSecret derives a 32-byte key from an operator secret with
// HKDF-SHA256 and returns a signer over it.
func NewSignerFromSecret(secret []byte) (*HMACSigner, error) {
	key, err := DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	return NewHMACSigner(key)
}

// DeriveKey expands secret into a 32-byte signing key.
func DeriveKey(secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty signing secret")
	}
	r := hkdf.New(sha256.New, secret, nil, kdfInfo)
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return key, nil
}

func (s *HMACSigner) Sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return mac.Sum(nil)
}

// Verify recomputes the MAC and compares in constant time.
func (s *HMACSigner) Verify(payload, sig []byte) bool {
	return hmac.Equal(s.Sign(payload), sig)
}

func (s *HMACSigner) KeyID() string {
	return s.keyID
}

// SignHex signs payload and hex-encodes the result.
func SignHex(s Signer, payload []byte) string {
	return hex.EncodeToString(s.Sign(payload))
}

// VerifyHex decodes a hex signature and verifies it. Undecodable input is a
// failed verification, not an error.
func VerifyHex(s Signer, payload []byte, sigHex string) bool {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	return s.Verify(payload, sig)
}
