package interfaces

import "context"

// KeyProvider hands out group keys to members of a group.
// Denied requests match ErrAccessDenied or ErrNoSuchGroup.
type KeyProvider interface {
	// FetchKey returns the current key of group.
	FetchKey(ctx context.Context, group, user string) (*GroupKey, error)

	// FetchKeyVersion returns the key of group with the given version.
	FetchKeyVersion(ctx context.Context, group, user string, version uint64) (*GroupKey, error)
}
