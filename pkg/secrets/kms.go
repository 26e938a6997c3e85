// Package secrets provides envelope-encrypted secret storage: each
// value is sealed with its own data key, and the data key is wrapped
// by the key-encryption key. Rotating the KEK only requires
// re-wrapping data keys, never re-encrypting payloads.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// KMS wraps and unwraps data-encryption keys. The local implementation
// holds the KEK in process memory; a cloud KMS can be slotted in
// behind the same interface.
type KMS interface {
	Wrap(dek []byte) (wrapped []byte, kekID string, err error)
	Unwrap(wrapped []byte, kekID string) ([]byte, error)
}

// localKMS seals data keys with a single AES-256-GCM key-encryption
// key loaded from the environment.
type localKMS struct {
	aead  cipher.AEAD
	kekID string
}

// NewLocalKMS builds a KMS from a hex-encoded 32-byte key.
func NewLocalKMS(kekHex string) (KMS, error) {
	key, err := hex.DecodeString(kekHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode KEK: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("KEK must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize KEK cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize KEK AEAD: %w", err)
	}

	// The key id is a fingerprint, not the key: it lets stored rows
	// name which KEK wrapped them across rotations.
	sum := sha256.Sum256(key)
	return &localKMS{
		aead:  aead,
		kekID: "local:" + hex.EncodeToString(sum[:4]),
	}, nil
}

// NewLocalKMSFromEnv reads KEK_HEX.
func NewLocalKMSFromEnv() (KMS, error) {
	kekHex := os.Getenv("KEK_HEX")
	if kekHex == "" {
		return nil, fmt.Errorf("KEK_HEX is required for secret storage")
	}
	return NewLocalKMS(kekHex)
}

func (k *localKMS) Wrap(dek []byte) ([]byte, string, error) {
	sealed, err := seal(k.aead, dek)
	if err != nil {
		return nil, "", fmt.Errorf("failed to wrap data key: %w", err)
	}
	return sealed, k.kekID, nil
}

func (k *localKMS) Unwrap(wrapped []byte, kekID string) ([]byte, error) {
	if kekID != k.kekID {
		return nil, fmt.Errorf("data key wrapped by unknown KEK %q", kekID)
	}
	dek, err := open(k.aead, wrapped)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap data key: %w", err)
	}
	return dek, nil
}

// seal encrypts plaintext with a fresh nonce prepended to the output.
func seal(aead cipher.AEAD, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// open reverses seal.
func open(aead cipher.AEAD, sealed []byte) ([]byte, error) {
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}
