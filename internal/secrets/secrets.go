package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

// SealedPrefix marks a line of the key file that holds a sealed value.
const SealedPrefix = "sealed:"

var (
	newGCM = cipher.NewGCM
	random = rand.Reader

	ErrInvalidSecret = errors.New("KEY_FILE_SECRET must be 32 bytes or base64-encoded 32 bytes")
	ErrInvalidSealed = errors.New("invalid sealed value")
)

// ParseKey accepts a raw 32-byte secret or its base64 encoding. An empty
// value yields a nil key, which disables sealing.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return nil, ErrInvalidSecret
	}
	return decoded, nil
}

func aead(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return newGCM(block)
}

// Seal encrypts plaintext with AES-GCM and returns SealedPrefix followed by
// base64(nonce || ciphertext).
func Seal(key []byte, plaintext string) (string, error) {
	gcm, err := aead(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(random, nonce); err != nil {
		return "", err
	}
	combined := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(combined), nil
}

// IsSealed reports whether value was produced by Seal.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

func Open(key []byte, sealed string) (string, error) {
	if !IsSealed(sealed) {
		return "", ErrInvalidSealed
	}
	gcm, err := aead(key)
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, SealedPrefix))
	if err != nil {
		return "", ErrInvalidSealed
	}
	if len(data) < gcm.NonceSize() {
		return "", ErrInvalidSealed
	}
	plain, err := gcm.Open(nil, data[:gcm.NonceSize()], data[gcm.NonceSize():], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
