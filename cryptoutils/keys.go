package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/groupshare/interfaces"
	"golang.org/x/crypto/argon2"
)

// NewGroupKey returns a fresh random 32-byte group key.
func NewGroupKey() ([]byte, error) {
	key := make([]byte, interfaces.GroupKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate group key: %w", err)
	}
	return key, nil
}

// EncodeGroupKey returns the standard base64 form the ledger stores.
func EncodeGroupKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeGroupKey decodes a base64 group key and checks its length.
func DecodeGroupKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidKey, err)
	}
	if len(key) != interfaces.GroupKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", interfaces.ErrInvalidKey, len(key), interfaces.GroupKeySize)
	}
	return key, nil
}

// FileHash is the hex SHA-256 of a plaintext, as recorded on the ledger.
func FileHash(plaintext []byte) string {
	sum := sha256.Sum256(plaintext)
	return hex.EncodeToString(sum[:])
}

// Argon2id parameters for passphrase-derived group keys.
const (
	kdfTime    = 3
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	// MinSaltSize is the shortest salt DeriveGroupKey accepts.
	MinSaltSize = 16
)

// DeriveGroupKey derives a 32-byte group key from a passphrase with Argon2id.
// The same passphrase and salt always yield the same key.
func DeriveGroupKey(passphrase, salt []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", interfaces.ErrInvalidKey)
	}
	if len(salt) < MinSaltSize {
		return nil, fmt.Errorf("%w: salt must be at least %d bytes", interfaces.ErrInvalidKey, MinSaltSize)
	}
	return argon2.IDKey(passphrase, salt, kdfTime, kdfMemory, kdfThreads, interfaces.GroupKeySize), nil
}

// ParseSigningKey validates and parses a ledger signing key: exactly 64 hex
// characters, optionally 0x-prefixed. The format is checked before any
// network call uses the key.
func ParseSigningKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if len(hexKey) != 64 {
		return nil, fmt.Errorf("%w: signing key must be 64 hex characters, got %d", interfaces.ErrInvalidCredentials, len(hexKey))
	}
	if _, err := hex.DecodeString(hexKey); err != nil {
		return nil, fmt.Errorf("%w: signing key is not hex", interfaces.ErrInvalidCredentials)
	}

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidCredentials, err)
	}
	return key, nil
}
