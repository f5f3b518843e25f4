package interfaces

import "context"

// LedgerBackend is the raw request surface of the authoritative ledger.
type LedgerBackend interface {
	// Call performs a state-changing, fee-bearing invocation and blocks until
	// finality or the backend's finality timeout. A ledger-side refusal is
	// reported as a Receipt with ReceiptFailure; transport problems and
	// timeouts are returned as *LedgerError.
	Call(ctx context.Context, method string, args CallArgs, fee Fee) (*Receipt, error)

	// View performs a read-only query and returns the JSON encoded result.
	View(ctx context.Context, method string, args CallArgs) ([]byte, error)
}

// GroupLedger exposes the typed group-management and transfer-record operations.
type GroupLedger interface {
	RegisterGroup(ctx context.Context, group string) (*Receipt, error)
	AddMember(ctx context.Context, group, user string) (*Receipt, error)
	// RevokeMember removes the user and rotates the group key in the same call.
	RevokeMember(ctx context.Context, group, user string) (*Receipt, error)
	StoreGroupKey(ctx context.Context, group string, key []byte) (*Receipt, error)

	// GetGroupKey returns the current key. Fails with ErrUnauthorized for non-members.
	GetGroupKey(ctx context.Context, group, user string) (*GroupKey, error)
	// GetGroupKeyVersion returns a historical key, gated by current membership.
	GetGroupKeyVersion(ctx context.Context, group, user string, version uint64) (*GroupKey, error)
	IsAuthorized(ctx context.Context, group, user string) (bool, error)
	GroupExists(ctx context.Context, group string) (bool, error)

	// RecordTransaction writes a TransferRecord and returns its transaction id.
	RecordTransaction(ctx context.Context, record TransferRecord) (string, error)
	ListTransactions(ctx context.Context, group, user string) ([]TransferRecord, error)
}
