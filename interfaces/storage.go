package interfaces

import (
	"context"
	"fmt"
	"net/url"
)

// ContentStore is a remote content-addressed blob store.
type ContentStore interface {
	// Upload stores the blob and returns its CID once the content is retrievable.
	Upload(ctx context.Context, blob []byte, name string) (CID, error)

	// Retrieve fetches the blob addressed by cid.
	Retrieve(ctx context.Context, cid CID) ([]byte, error)

	// ValidateCID rejects identifiers this store can never serve. It never
	// touches the network.
	ValidateCID(cid CID) error

	// Name returns identifier for logging.
	Name() string
}

// StoreLocation is a parsed content store URI.
//
//	pinata://api.pinata.cloud
//	ipfs://127.0.0.1:5001
//	s3://bucket/prefix?region=us-east-1
//	file:///var/lib/groupshare/blobs
type StoreLocation struct {
	Raw    string
	Scheme string
	Host   string
	Path   string
	Query  url.Values
}

// NewStoreLocation parses and validates a content store URI.
func NewStoreLocation(uri string) (StoreLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StoreLocation{}, fmt.Errorf("invalid store URI: %w", err)
	}

	switch parsed.Scheme {
	case "pinata", "ipfs", "s3", "file":
	default:
		return StoreLocation{}, fmt.Errorf("unsupported store scheme: %q", parsed.Scheme)
	}

	return StoreLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
	}, nil
}

// String returns the original URI string.
func (loc StoreLocation) String() string {
	return loc.Raw
}
