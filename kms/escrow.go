package kms

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/hashicorp/vault/shamir"
	"github.com/ruteri/groupshare/interfaces"
)

// ErrInvalidShares is returned when escrow shares cannot be combined into a
// group key.
var ErrInvalidShares = errors.New("invalid key shares")

// SplitGroupKey splits a group key into parts Shamir shares, any threshold of
// which recover it. Shares are base64 encoded for transport to custodians.
func SplitGroupKey(key []byte, parts, threshold int) ([]string, error) {
	if len(key) != interfaces.GroupKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", interfaces.ErrInvalidKey, interfaces.GroupKeySize, len(key))
	}
	if threshold < 2 || parts < threshold || parts > 255 {
		return nil, fmt.Errorf("invalid escrow parameters: threshold %d of %d parts", threshold, parts)
	}

	raw, err := shamir.Split(key, parts, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split key: %w", err)
	}

	shares := make([]string, len(raw))
	for i, share := range raw {
		shares[i] = base64.StdEncoding.EncodeToString(share)
		wipeBytes(share)
	}
	return shares, nil
}

// CombineGroupKey recovers a group key from base64 shares. Fewer shares than
// the threshold yield a wrong key of the right length, which is only detected
// when decryption fails.
func CombineGroupKey(shares []string) ([]byte, error) {
	if len(shares) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 shares, got %d", ErrInvalidShares, len(shares))
	}

	raw := make([][]byte, len(shares))
	for i, s := range shares {
		share, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: share %d is not base64: %v", ErrInvalidShares, i, err)
		}
		raw[i] = share
	}
	defer func() {
		for _, share := range raw {
			wipeBytes(share)
		}
	}()

	key, err := shamir.Combine(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShares, err)
	}
	if len(key) != interfaces.GroupKeySize {
		return nil, fmt.Errorf("%w: recovered %d bytes", ErrInvalidShares, len(key))
	}
	return key, nil
}

func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
