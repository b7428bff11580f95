// Package crypto seals and opens broker tokens kept in the environment.
// The sealed form is iv:tag:ciphertext, all hex, AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// IsSealed reports whether v looks like a sealed token
func IsSealed(v string) bool {
	parts := strings.Split(v, ":")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		if _, err := hex.DecodeString(p); err != nil {
			return false
		}
	}
	return true
}

// OpenToken decrypts a sealed token with a 64-hex-char key
func OpenToken(sealed, keyHex string) (string, error) {
	parts := strings.Split(sealed, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("invalid sealed token format: expected iv:tag:ciphertext")
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("failed to decode IV: %w", err)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("failed to decode tag: %w", err)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	gcm, err := newGCM(keyHex, len(iv))
	if err != nil {
		return "", err
	}

	// GCM expects the tag appended to the ciphertext
	plaintext, err := gcm.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// SealToken encrypts token with a fresh random IV
func SealToken(token, keyHex string) (string, error) {
	gcm, err := newGCM(keyHex, 12)
	if err != nil {
		return "", err
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(token), nil)
	n := len(sealed) - gcm.Overhead()
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(sealed[n:]) + ":" + hex.EncodeToString(sealed[:n]), nil
}

func newGCM(keyHex string, nonceSize int) (cipher.AEAD, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes (64 hex chars), got %d bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// LoadKey reads the encryption key from a Docker secret file or TOKEN_KEY
func LoadKey() (string, error) {
	if data, err := os.ReadFile("/run/secrets/token_key"); err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if key := strings.TrimSpace(os.Getenv("TOKEN_KEY")); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("token key not found: check /run/secrets/token_key or TOKEN_KEY env var")
}
