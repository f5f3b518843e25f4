package storage

import (
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/ruteri/groupshare/interfaces"
)

// DefaultCIDPrefix is the CIDv0 prefix returned by IPFS pinning services.
const DefaultCIDPrefix = "Qm"

// ValidateCID rejects identifiers that do not carry the expected prefix or do
// not decode as a CID. It never touches the network.
func ValidateCID(id interfaces.CID, prefix string) error {
	s := string(id)
	if s == "" {
		return fmt.Errorf("%w: empty", interfaces.ErrInvalidContentID)
	}
	if prefix != "" && !strings.HasPrefix(s, prefix) {
		return fmt.Errorf("%w: %q does not start with %q", interfaces.ErrInvalidContentID, s, prefix)
	}
	if _, err := cid.Decode(s); err != nil {
		return fmt.Errorf("%w: %q: %v", interfaces.ErrInvalidContentID, s, err)
	}
	return nil
}

// ComputeCID computes a CIDv0 (SHA2-256, dag-pb) for the given data.
func ComputeCID(data []byte) (interfaces.CID, error) {
	hash, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return interfaces.CID(cid.NewCidV0(hash).String()), nil
}
