// File: internal/infra/security/encryption_service.go
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"quiz-subscription-engine/internal/domain/ports/adapter"
)

var _ adapter.Sealer = (*EncryptionService)(nil)

const sealPrefix = "v1:"

var ErrMalformedSeal = errors.New("malformed sealed payload")

// EncryptionService seals webhook payloads kept for audit with AES-GCM.
// Output format: "v1:" + base64(nonce || ciphertext).
type EncryptionService struct {
	gcm cipher.AEAD
}

// NewEncryptionService accepts a raw 16/24/32 byte key or the same key hex or base64 encoded.
func NewEncryptionService(key string) (*EncryptionService, error) {
	k, err := decodeKey(strings.TrimSpace(key))
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &EncryptionService{gcm: gcm}, nil
}

func decodeKey(key string) ([]byte, error) {
	valid := func(b []byte) bool { n := len(b); return n == 16 || n == 24 || n == 32 }
	if b, err := hex.DecodeString(key); err == nil && valid(b) {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(key); err == nil && valid(b) {
		return b, nil
	}
	if b := []byte(key); valid(b) {
		return b, nil
	}
	return nil, fmt.Errorf("encryption key must decode to 16, 24, or 32 bytes; got %d characters", len(key))
}

func (e *EncryptionService) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}
	ct := e.gcm.Seal(nonce, nonce, plaintext, nil)
	return sealPrefix + base64.StdEncoding.EncodeToString(ct), nil
}

func (e *EncryptionService) Open(sealed string) ([]byte, error) {
	if !strings.HasPrefix(sealed, sealPrefix) {
		return nil, ErrMalformedSeal
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealPrefix))
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	ns := e.gcm.NonceSize()
	if len(data) < ns {
		return nil, ErrMalformedSeal
	}
	nonce, ct := data[:ns], data[ns:]
	pt, err := e.gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", err)
	}
	return pt, nil
}
