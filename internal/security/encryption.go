package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// SealedPrefix marks a value produced by ContentCipher.Seal
const SealedPrefix = "enc:v1:"

var (
	// ErrEmptyPassphrase is returned when no passphrase is configured
	ErrEmptyPassphrase = errors.New("encryption passphrase cannot be empty")
	// ErrDecrypt is returned when a sealed value fails authentication
	ErrDecrypt = errors.New("decryption failed - possible tampering detected")
)

// EncryptionConfig defines the key derivation and AES-GCM parameters
type EncryptionConfig struct {
	// SCRYPT parameters (OWASP recommended minimum)
	SCryptN      int // CPU/memory cost parameter
	SCryptR      int // Block size parameter
	SCryptP      int // Parallelization parameter
	SCryptKeyLen int // Key length in bytes (32 for AES-256)

	NonceSize int // 96-bit nonce size for GCM
}

// DefaultEncryptionConfig returns OWASP ASVS compliant parameters
func DefaultEncryptionConfig() *EncryptionConfig {
	return &EncryptionConfig{
		SCryptN:      32768,
		SCryptR:      8,
		SCryptP:      1,
		SCryptKeyLen: 32,
		NonceSize:    12,
	}
}

// ValidateEncryptionConfig validates encryption configuration parameters
func ValidateEncryptionConfig(config *EncryptionConfig) error {
	if config == nil {
		return errors.New("encryption config cannot be nil")
	}
	if config.SCryptN < 2 || config.SCryptN&(config.SCryptN-1) != 0 {
		return errors.New("SCryptN must be a power of two greater than 1")
	}
	if config.SCryptR < 1 {
		return errors.New("SCryptR must be at least 1")
	}
	if config.SCryptP < 1 {
		return errors.New("SCryptP must be at least 1")
	}
	if config.SCryptKeyLen != 32 {
		return errors.New("SCryptKeyLen must be 32 for AES-256")
	}
	if config.NonceSize != 12 {
		return errors.New("NonceSize must be 12 for AES-GCM")
	}
	return nil
}

// ContentCipher seals and opens short text values. It is safe for
// concurrent use.
type ContentCipher struct {
	aead cipher.AEAD
}

// NewContentCipher derives the key from passphrase. The salt is fixed per
// deployment so every process derives the same key; a nil config uses
// DefaultEncryptionConfig.
func NewContentCipher(passphrase string, config *EncryptionConfig) (*ContentCipher, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	if config == nil {
		config = DefaultEncryptionConfig()
	}
	if err := ValidateEncryptionConfig(config); err != nil {
		return nil, err
	}

	salt := sha256.Sum256([]byte("MINDWELL-CONTENT-V1"))
	key, err := scrypt.Key([]byte(passphrase), salt[:], config.SCryptN, config.SCryptR, config.SCryptP, config.SCryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, config.NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &ContentCipher{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh nonce
func (c *ContentCipher) Seal(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Values without SealedPrefix are
// returned unchanged.
func (c *ContentCipher) Open(value string) (string, error) {
	encoded, ok := strings.CutPrefix(value, SealedPrefix)
	if !ok {
		return value, nil
	}

	raw, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	n := c.aead.NonceSize()
	if len(raw) < n+c.aead.Overhead() {
		return "", ErrDecrypt
	}

	plaintext, err := c.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}

// IsSealed reports whether value was produced by Seal
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}
