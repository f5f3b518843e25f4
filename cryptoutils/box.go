package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/ruteri/groupshare/interfaces"
)

// IVSize is the length of the IV prefixed to every encrypted blob.
const IVSize = aes.BlockSize

// Encrypt encrypts plaintext under a 32-byte group key with AES-256-CBC.
// Plaintext is PKCS#7 padded to the block size and a fresh random IV is drawn
// for every call. The returned blob is IV || ciphertext.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	if len(key) != interfaces.GroupKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", interfaces.ErrInvalidKey, len(key), interfaces.GroupKeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	padded := pad(plaintext, aes.BlockSize)

	blob := make([]byte, IVSize+len(padded))
	iv := blob[:IVSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(blob[IVSize:], padded)
	return blob, nil
}

// Decrypt reverses Encrypt. It fails with ErrMalformedBlob when the blob is
// shorter than an IV or the ciphertext is not block aligned, and with ErrPadding
// when the recovered padding is inconsistent. A padding failure most often means
// the wrong key; it is not proof of tampering.
func Decrypt(blob, key []byte) ([]byte, error) {
	if len(key) != interfaces.GroupKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", interfaces.ErrInvalidKey, len(key), interfaces.GroupKeySize)
	}
	if len(blob) < IVSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the IV", interfaces.ErrMalformedBlob, len(blob))
	}

	iv, ciphertext := blob[:IVSize], blob[IVSize:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a positive multiple of %d", interfaces.ErrMalformedBlob, len(ciphertext), aes.BlockSize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return unpad(plaintext, aes.BlockSize)
}

// pad appends PKCS#7 padding. A full block is added when data is already aligned.
func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

// unpad strips PKCS#7 padding. The byte comparison does not short-circuit on
// the first mismatch.
func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, interfaces.ErrPadding
	}

	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, interfaces.ErrPadding
	}

	var diff byte
	for _, b := range data[len(data)-n:] {
		diff |= b ^ byte(n)
	}
	if subtle.ConstantTimeByteEq(diff, 0) != 1 {
		return nil, interfaces.ErrPadding
	}

	return data[:len(data)-n], nil
}
