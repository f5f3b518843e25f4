package kms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/groupshare/cryptoutils"
	"github.com/ruteri/groupshare/interfaces"
)

// AccessHint is the remediation attached to denied key requests.
const AccessHint = "request membership from the group owner"

// KeyManager mediates all access to group keys. It never caches a key or an
// authorization result: every request is answered by the ledger.
type KeyManager struct {
	ledger interfaces.GroupLedger
	log    *slog.Logger
}

// NewKeyManager creates a key manager backed by ledger.
func NewKeyManager(ledger interfaces.GroupLedger, log *slog.Logger) *KeyManager {
	if log == nil {
		log = slog.Default()
	}
	return &KeyManager{ledger: ledger, log: log}
}

// FetchKey returns the current key of group if user is a member.
// A denied request is an *interfaces.AccessError matching ErrAccessDenied; a
// missing group matches ErrNoSuchGroup instead.
func (k *KeyManager) FetchKey(ctx context.Context, group, user string) (*interfaces.GroupKey, error) {
	key, err := k.ledger.GetGroupKey(ctx, group, user)
	if err != nil {
		return nil, accessError(group, user, err)
	}
	return key, nil
}

// FetchKeyVersion returns a historical key of group. Access is gated by
// current membership, like FetchKey.
func (k *KeyManager) FetchKeyVersion(ctx context.Context, group, user string, version uint64) (*interfaces.GroupKey, error) {
	key, err := k.ledger.GetGroupKeyVersion(ctx, group, user, version)
	if err != nil {
		return nil, accessError(group, user, err)
	}
	return key, nil
}

func accessError(group, user string, err error) error {
	switch {
	case errors.Is(err, interfaces.ErrNoSuchGroup):
		return &interfaces.AccessError{Kind: interfaces.ErrNoSuchGroup, Group: group, User: user, Err: err}
	case errors.Is(err, interfaces.ErrUnauthorized):
		return &interfaces.AccessError{Kind: interfaces.ErrAccessDenied, Group: group, User: user, Hint: AccessHint, Err: err}
	default:
		return err
	}
}

// ProvisionGroup registers group and stores its first key. A fresh random key
// is generated when key is nil.
func (k *KeyManager) ProvisionGroup(ctx context.Context, group string, key []byte) error {
	if group == "" {
		return errors.New("group id is required")
	}
	if key == nil {
		var err error
		if key, err = cryptoutils.NewGroupKey(); err != nil {
			return err
		}
	} else if len(key) != interfaces.GroupKeySize {
		return fmt.Errorf("%w: got %d bytes, want %d", interfaces.ErrInvalidKey, len(key), interfaces.GroupKeySize)
	}

	// The ledger re-checks; a concurrent registration surfaces as its rejection.
	exists, err := k.ledger.GroupExists(ctx, group)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", interfaces.ErrGroupAlreadyExists, group)
	}

	if _, err := k.ledger.RegisterGroup(ctx, group); err != nil {
		return err
	}
	if _, err := k.ledger.StoreGroupKey(ctx, group, key); err != nil {
		k.log.Error("Group registered without a key",
			slog.String("groupID", group),
			"err", err)
		return fmt.Errorf("group %s registered but storing its key failed: %w", group, err)
	}

	k.log.Info("Provisioned group", slog.String("groupID", group))
	return nil
}

// AddMember authorizes user in group.
func (k *KeyManager) AddMember(ctx context.Context, group, user string) error {
	member, err := k.ledger.IsAuthorized(ctx, group, user)
	if err != nil {
		return err
	}
	if member {
		return fmt.Errorf("%w: %s in %s", interfaces.ErrAlreadyMember, user, group)
	}

	if _, err := k.ledger.AddMember(ctx, group, user); err != nil {
		return err
	}

	k.log.Info("Added group member",
		slog.String("groupID", group),
		slog.String("userID", user))
	return nil
}

// RevokeMember removes user from group. The ledger rotates the group key as
// part of the same call.
func (k *KeyManager) RevokeMember(ctx context.Context, group, user string) error {
	member, err := k.ledger.IsAuthorized(ctx, group, user)
	if err != nil {
		return err
	}
	if !member {
		return fmt.Errorf("%w: %s in %s", interfaces.ErrNotAMember, user, group)
	}

	if _, err := k.ledger.RevokeMember(ctx, group, user); err != nil {
		return err
	}

	k.log.Info("Revoked group member, group key rotated",
		slog.String("groupID", group),
		slog.String("userID", user))
	return nil
}

// RotateKey replaces the group key, generating a random one when key is nil.
// Files encrypted before the rotation stay readable through their recorded
// key version.
func (k *KeyManager) RotateKey(ctx context.Context, group string, key []byte) error {
	if key == nil {
		var err error
		if key, err = cryptoutils.NewGroupKey(); err != nil {
			return err
		}
	}
	if _, err := k.ledger.StoreGroupKey(ctx, group, key); err != nil {
		return err
	}

	k.log.Info("Rotated group key", slog.String("groupID", group))
	return nil
}
