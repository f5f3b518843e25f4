// Package cryptoutils provides the symmetric encryption used to protect group files.
//
// Every file shared in a group is encrypted under that group's current 32-byte key
// with AES-256 in CBC mode. The package has no external calls and caches no keys:
// every operation receives its key explicitly from the caller.
//
// # Key Functions
//
// # Encrypt - Pads plaintext with PKCS#7 and encrypts it under a fresh random IV
//
// # Decrypt - Splits the IV, decrypts, and strips the padding
//
// # Encryption Format
//
// The encrypted blob follows this binary format:
//
//	[iv (16 bytes)][ciphertext]
//
// Where:
//   - IV: random per call, never reused
//   - Ciphertext: plaintext PKCS#7-padded to a 16-byte boundary, AES-CBC encrypted
//
// Blobs are base64-encoded wherever they travel as text.
//
// # Security Considerations
//
//   - CBC provides no integrity. A padding error most often means the wrong key
//     (for example a key fetched after a rotation) and must not be read as a
//     tamper-evidence guarantee.
//   - File integrity is checked separately against the plaintext SHA-256
//     recorded on the ledger (see FileHash).
//
// # Key Material
//
// Group keys are random (NewGroupKey) or derived from a passphrase with Argon2id
// (DeriveGroupKey). The ledger stores them base64-encoded (EncodeGroupKey,
// DecodeGroupKey). ParseSigningKey validates the ledger signing key format.
//
// # Usage Example
//
//	key, _ := cryptoutils.NewGroupKey()
//	blob, err := cryptoutils.Encrypt([]byte("hello world"), key)
//	if err != nil {
//	    log.Fatalf("Failed to encrypt: %v", err)
//	}
//
//	plaintext, err := cryptoutils.Decrypt(blob, key)
//	if errors.Is(err, interfaces.ErrPadding) {
//	    // probably a stale key
//	}
package cryptoutils
