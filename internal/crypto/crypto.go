// Package crypto encrypts provider tokens before they are written to the
// user_connections table.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize = 32 // AES-256

	pbkdf2Iterations = 1024
)

// TextEncryptor reversibly encrypts strings. Ciphertext is only readable by an
// encryptor built from the same key material.
type TextEncryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Encryptor provides AES-256-GCM encryption and decryption for secrets.
type Encryptor struct {
	gcm cipher.AEAD
}

var _ TextEncryptor = (*Encryptor)(nil)

// NewEncryptor creates an Encryptor with the given 32-byte key.
// If the key is empty, a no-op encryptor is returned that stores values as plaintext.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) == 0 {
		return &Encryptor{}, nil
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("crypto: encryption key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return &Encryptor{gcm: gcm}, nil
}

// NewPasswordEncryptor derives the AES key from a password and a hex-encoded
// salt with PBKDF2-SHA256. The same password and salt always yield the same key,
// so tokens written by one process can be read by the next.
func NewPasswordEncryptor(password, hexSalt string) (*Encryptor, error) {
	if password == "" {
		return nil, fmt.Errorf("crypto: password must not be empty")
	}
	salt, err := hex.DecodeString(hexSalt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	if len(salt) < 8 {
		return nil, fmt.Errorf("crypto: salt must be at least 8 bytes, got %d", len(salt))
	}

	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keySize, sha256.New)
	return NewEncryptor(key)
}

// NoOp returns an encryptor that passes text through unchanged.
func NoOp() *Encryptor {
	return &Encryptor{}
}

// IsNoOp reports whether values are stored as plaintext.
func (e *Encryptor) IsNoOp() bool {
	return e.gcm == nil
}

// Encrypt encrypts plaintext and returns a base64-encoded ciphertext.
// A fresh nonce is drawn per call, so equal inputs encrypt differently.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if e.gcm == nil {
		return plaintext, nil
	}
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: generating nonce: %w", err)
	}
	sealed := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt decrypts a base64-encoded ciphertext.
func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	if e.gcm == nil {
		return ciphertext, nil
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding base64: %w", err)
	}
	nonceSize := e.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("crypto: ciphertext too short")
	}
	nonce, ct := data[:nonceSize], data[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypting: %w", err)
	}
	return string(plaintext), nil
}
