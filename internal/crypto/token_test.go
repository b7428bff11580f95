package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"io"
	"strings"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		t.Fatal(err)
	}
	return hex.EncodeToString(key)
}

func TestSealOpenToken(t *testing.T) {
	key := testKey(t)

	sealed, err := SealToken("bearer_abc123", key)
	if err != nil {
		t.Fatalf("SealToken failed: %v", err)
	}
	if !IsSealed(sealed) {
		t.Errorf("Expected %q to be recognized as sealed", sealed)
	}
	if strings.Contains(sealed, "bearer_abc123") {
		t.Error("Sealed token leaks plaintext")
	}

	opened, err := OpenToken(sealed, key)
	if err != nil {
		t.Fatalf("OpenToken failed: %v", err)
	}
	if opened != "bearer_abc123" {
		t.Errorf("Expected bearer_abc123, got %s", opened)
	}

	if _, err := OpenToken(sealed, testKey(t)); err == nil {
		t.Error("Expected failure with the wrong key")
	}
}

// a 16-byte IV is accepted when opening
func TestOpenToken_LongIV(t *testing.T) {
	key := testKey(t)
	raw, _ := hex.DecodeString(key)

	block, err := aes.NewCipher(raw)
	if err != nil {
		t.Fatal(err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 16)
	if err != nil {
		t.Fatal(err)
	}
	iv := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		t.Fatal(err)
	}
	out := gcm.Seal(nil, iv, []byte("token"), nil)
	n := len(out) - gcm.Overhead()
	sealed := hex.EncodeToString(iv) + ":" + hex.EncodeToString(out[n:]) + ":" + hex.EncodeToString(out[:n])

	opened, err := OpenToken(sealed, key)
	if err != nil || opened != "token" {
		t.Errorf("Expected token, got %q err=%v", opened, err)
	}
}

func TestOpenToken_InvalidKey(t *testing.T) {
	short := hex.EncodeToString(make([]byte, 31))
	if _, err := OpenToken("00:00:00", short); err == nil {
		t.Error("Expected error for invalid key length")
	}
}

func TestIsSealed(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"plain-token", false},
		{"ab:cd:ef", true},
		{"ab:cd", false},
		{"ab::ef", false},
		{"zz:cd:ef", false},
	}
	for _, tt := range tests {
		if got := IsSealed(tt.in); got != tt.want {
			t.Errorf("IsSealed(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
