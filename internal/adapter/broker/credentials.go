package broker

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"tradeflow/internal/domain"
)

// CredentialVault seals and opens per-user broker credentials with
// AES-GCM. Credentials are decrypted per broker call and never cached
// as a shared client across users.
type CredentialVault struct {
	key []byte
}

// NewCredentialVault creates a vault from a hex-encoded 32-byte key.
func NewCredentialVault(hexKey string) (*CredentialVault, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode credentials key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("credentials key must be 32 bytes, got %d", len(key))
	}
	return &CredentialVault{key: key}, nil
}

// Seal encrypts a credential pair. The nonce is prepended to the
// ciphertext.
func (v *CredentialVault) Seal(creds domain.BrokerCredentialPair) ([]byte, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credentials: %w", err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a sealed credential pair.
func (v *CredentialVault) Open(sealed []byte) (domain.BrokerCredentialPair, error) {
	var creds domain.BrokerCredentialPair

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return creds, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return creds, fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(sealed) < gcm.NonceSize() {
		return creds, fmt.Errorf("sealed credentials too short")
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return creds, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return creds, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}

	return creds, nil
}
