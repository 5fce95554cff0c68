package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// sealedPrefix marks a stored webhook secret as sealed. Values without it
// were stored before an ENCRYPTION_KEY was configured.
const sealedPrefix = "v1:"

var ErrSecretTooShort = errors.New("sealed secret too short")

// SecretBox seals webhook signing secrets with AES-256-GCM. The session id is
// authenticated alongside each secret, so a sealed value copied onto another
// session's row will not open.
type SecretBox struct {
	aead cipher.AEAD
}

func NewSecretBox(hexKey string) (*SecretBox, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes (64 hex chars), got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &SecretBox{aead: aead}, nil
}

func (b *SecretBox) Seal(sessionID, secret string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(secret), []byte(sessionID))
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (b *SecretBox) Open(sessionID, stored string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode sealed secret: %w", err)
	}
	n := b.aead.NonceSize()
	if len(raw) < n+b.aead.Overhead() {
		return "", ErrSecretTooShort
	}
	plain, err := b.aead.Open(nil, raw[:n], raw[n:], []byte(sessionID))
	if err != nil {
		return "", fmt.Errorf("open secret of session %s: %w", sessionID, err)
	}
	return string(plain), nil
}

// IsSealed reports whether stored came out of Seal.
func IsSealed(stored string) bool {
	return strings.HasPrefix(stored, sealedPrefix)
}
