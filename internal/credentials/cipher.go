// Package credentials seals and opens source login secrets with AES-256-GCM.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ternarybob/bidharvest/internal/models"
)

const (
	keyLength   = 32
	nonceLength = 16
	tagLength   = 16
)

// ErrNoKey is returned when sealing or opening without a configured key
var ErrNoKey = errors.New("credential encryption key is not configured")

// Cipher implements interfaces.CredentialSealer and interfaces.CredentialDecrypter.
// Secrets are hex encoded with the authentication tag stored apart from the ciphertext.
type Cipher struct {
	key []byte
}

// NewCipher parses a 64 character hex key. An empty key yields a cipher that
// refuses every operation, so open sources still work without one.
func NewCipher(hexKey string) (*Cipher, error) {
	if hexKey == "" {
		return &Cipher{}, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	if len(key) != keyLength {
		return nil, fmt.Errorf("encryption key must be %d bytes (%d hex characters)", keyLength, keyLength*2)
	}
	return &Cipher{key: key}, nil
}

// GenerateKey returns a fresh random key in hex
func GenerateKey() (string, error) {
	key := make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// Seal encrypts plaintext under a fresh random nonce
func (c *Cipher) Seal(plaintext string) (models.SealedSecret, error) {
	gcm, err := c.aead(nonceLength)
	if err != nil {
		return models.SealedSecret{}, err
	}
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return models.SealedSecret{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	split := len(sealed) - tagLength
	return models.SealedSecret{
		Ciphertext: hex.EncodeToString(sealed[:split]),
		IV:         hex.EncodeToString(nonce),
		AuthTag:    hex.EncodeToString(sealed[split:]),
	}, nil
}

// Decrypt opens a sealed secret. Any tampering with ciphertext, iv or tag fails.
func (c *Cipher) Decrypt(ciphertext, iv, authTag string) (string, error) {
	body, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("ciphertext is not valid hex: %w", err)
	}
	nonce, err := hex.DecodeString(iv)
	if err != nil {
		return "", fmt.Errorf("iv is not valid hex: %w", err)
	}
	tag, err := hex.DecodeString(authTag)
	if err != nil {
		return "", fmt.Errorf("auth tag is not valid hex: %w", err)
	}
	if len(nonce) == 0 {
		return "", errors.New("iv is empty")
	}
	if len(tag) != tagLength {
		return "", fmt.Errorf("auth tag must be %d bytes", tagLength)
	}

	gcm, err := c.aead(len(nonce))
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, nonce, append(body, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return string(plain), nil
}

func (c *Cipher) aead(nonceSize int) (cipher.AEAD, error) {
	if len(c.key) == 0 {
		return nil, ErrNoKey
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}
