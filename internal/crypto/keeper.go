package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// Keeper seals and opens mailbox credentials with AES-GCM so IMAP/SMTP
// passwords are never stored in the clear. The sealed format is
// [nonce][ciphertext][auth tag]; a fresh random nonce per seal means the
// same password never produces the same bytes twice.
type Keeper struct {
	key []byte
}

// NewKeeper builds a Keeper from a base64-encoded 256-bit key, typically
// sourced from OUTREACH_ENCRYPTION_KEY_BASE64.
func NewKeeper(base64Key string) (*Keeper, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}

	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes (256 bits), got %d bytes", len(key))
	}

	return &Keeper{key: key}, nil
}

// Seal encrypts a credential for at-rest storage.
func (k *Keeper) Seal(credential string) ([]byte, error) {
	gcm, err := k.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, []byte(credential), nil), nil
}

// Open decrypts a sealed credential. It fails if the bytes are corrupted or
// were sealed under a different key.
func (k *Keeper) Open(sealed []byte) (string, error) {
	gcm, err := k.aead()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("sealed credential too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	credential, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential: %w", err)
	}

	return string(credential), nil
}

func (k *Keeper) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return gcm, nil
}
