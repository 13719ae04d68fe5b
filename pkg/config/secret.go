package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	sealedPrefix = "enc:"
	keySize      = 32
	nonceSize    = 24
)

// SecretBox seals encrypted account values with a local symmetric key.
type SecretBox struct {
	key [keySize]byte
}

// LoadOrCreateKey reads the key at path, creating it with mode 0600 when
// missing.
func LoadOrCreateKey(path string) (*SecretBox, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(raw) != keySize {
			return nil, fmt.Errorf("key file %s: expected %d bytes, got %d", path, keySize, len(raw))
		}
		b := &SecretBox{}
		copy(b.key[:], raw)
		return b, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	b := &SecretBox{}
	if _, err := io.ReadFull(rand.Reader, b.key[:]); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, b.key[:], 0o600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	return b, nil
}

// NewSecretBox returns a box with a fresh random key. It is used to hand a
// one-time encrypted copy of an account to a remote host.
func NewSecretBox() (*SecretBox, error) {
	b := &SecretBox{}
	if _, err := io.ReadFull(rand.Reader, b.key[:]); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return b, nil
}

// DecodeSecretBox returns the box of a key produced by EncodedKey.
func DecodeSecretBox(encoded string) (*SecretBox, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("invalid key: expected %d bytes, got %d", keySize, len(raw))
	}
	b := &SecretBox{}
	copy(b.key[:], raw)
	return b, nil
}

// EncodedKey returns the key, base64 encoded.
func (b *SecretBox) EncodedKey() string {
	return base64.StdEncoding.EncodeToString(b.key[:])
}

// IsSealed reports whether v is a sealed value.
func IsSealed(v any) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, sealedPrefix)
}

// Seal encrypts plain and returns "enc:<base64(nonce|box)>".
func (b *SecretBox) Seal(plain string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plain), &nonce, &b.key)
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal.
func (b *SecretBox) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return "", errors.New("value is not sealed")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("invalid sealed value: %w", err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", errors.New("sealed value is truncated")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", errors.New("failed to decrypt value, wrong key?")
	}
	return string(plain), nil
}
