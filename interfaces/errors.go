package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey is returned when a group key is not exactly 32 bytes after decoding.
	ErrInvalidKey = errors.New("invalid group key")

	// ErrMalformedBlob is returned when an encrypted blob is too short or not block aligned.
	ErrMalformedBlob = errors.New("malformed encrypted blob")

	// ErrPadding is returned when PKCS#7 padding is inconsistent after decryption.
	// It usually means the wrong key was used; it is not a tamper-evidence guarantee.
	ErrPadding = errors.New("invalid padding")

	// ErrInvalidCredentials is returned when signing or store credentials are malformed.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var (
	// ErrInvalidContentID is returned for a CID that fails validation or that the
	// store rejects with a 4xx response. Never retried.
	ErrInvalidContentID = errors.New("invalid content identifier")

	// ErrStoreUnavailable is returned when retries against the content store are exhausted.
	ErrStoreUnavailable = errors.New("content store unavailable")

	// ErrStoreRejected is returned when the pinning service refuses an upload
	// for a non-transient reason (authentication, malformed request).
	ErrStoreRejected = errors.New("content store rejected request")

	// ErrEmptyContent is returned when the store answers 200 with an empty body.
	ErrEmptyContent = errors.New("content store returned empty content")

	// ErrPinValidation is returned when an accepted upload is not retrievable.
	ErrPinValidation = errors.New("pin validation failed")

	// ErrContentNotFound is returned when requested content does not exist in the store.
	ErrContentNotFound = errors.New("content not found")
)

var (
	// ErrLedgerRejected is returned when the ledger refuses a call. Not retryable.
	ErrLedgerRejected = errors.New("ledger rejected call")

	// ErrLedgerTimeout is returned when finality was not observed in time.
	// The state change may still have applied.
	ErrLedgerTimeout = errors.New("ledger finality timeout")

	// ErrLedgerUnavailable is returned when the ledger RPC cannot be reached.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrUnauthorized is returned by the ledger when a user is not a member of the group.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoSuchGroup is returned when the group is not registered on the ledger.
	ErrNoSuchGroup = errors.New("no such group")

	// ErrNoGroupKey is returned when a group exists but has no key stored.
	ErrNoGroupKey = errors.New("group has no key")

	// ErrGroupAlreadyExists is returned when provisioning a registered group.
	ErrGroupAlreadyExists = errors.New("group already exists")

	// ErrAlreadyMember is returned when adding a user that is already a member.
	ErrAlreadyMember = errors.New("user is already a member")

	// ErrNotAMember is returned when revoking a user that is not a member.
	ErrNotAMember = errors.New("user is not a member")
)

var (
	// ErrAccessDenied is returned to callers that are not authorized for a group.
	ErrAccessDenied = errors.New("access denied")

	// ErrDecryptionFailed is returned when a retrieved blob cannot be decrypted.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// LedgerError describes a failed ledger interaction.
// Kind is one of ErrLedgerRejected, ErrLedgerTimeout or ErrLedgerUnavailable.
type LedgerError struct {
	Kind   error
	Method string
	TxHash string
	Reason string
	Err    error
}

func (e *LedgerError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Method, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.TxHash != "" {
		msg += " (tx " + e.TxHash + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause.
func (e *LedgerError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// AccessError is a caller-facing authorization failure with remediation guidance.
// Kind is ErrAccessDenied or ErrNoSuchGroup.
type AccessError struct {
	Kind  error
	Group string
	User  string
	Hint  string
	Err   error
}

func (e *AccessError) Error() string {
	msg := fmt.Sprintf("%v: user %q, group %q", e.Kind, e.User, e.Group)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

// Unwrap exposes both the kind and the underlying ledger error.
func (e *AccessError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
