// Package kms provides group key management on top of the group ledger.
//
// The ledger holds every group key and enforces who may read it. KeyManager is
// the only path through which the transfer pipeline obtains a key:
//
//	// FetchKey returns the current key of a group for one of its members.
//	FetchKey(ctx, group, user) (*interfaces.GroupKey, error)
//
//	// FetchKeyVersion returns an older key, still gated by current membership.
//	FetchKeyVersion(ctx, group, user, version) (*interfaces.GroupKey, error)
//
// Denied requests are returned as *interfaces.AccessError. The error matches
// interfaces.ErrAccessDenied and carries a hint telling the caller to request
// membership from the group owner, or matches interfaces.ErrNoSuchGroup when
// the group is not registered.
//
// # Group lifecycle
//
// ProvisionGroup registers a group and stores its first key, AddMember and
// RevokeMember change membership, and RotateKey replaces the key on demand.
// Revoking a member rotates the key on the ledger in the same call, so a
// revoked user can no longer obtain the key that protects new uploads.
//
// The membership pre-checks performed by these operations only make the
// returned errors precise (ErrGroupAlreadyExists, ErrAlreadyMember,
// ErrNotAMember). The ledger enforces the actual invariants, and a concurrent
// change between pre-check and call surfaces as a ledger rejection.
//
// # Key escrow
//
// SplitGroupKey splits a group key into Shamir shares for offline custody and
// CombineGroupKey recovers it, e.g. to re-provision a group on a new ledger.
package kms
