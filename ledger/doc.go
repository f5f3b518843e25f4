// Package ledger provides the client of the authoritative group ledger.
//
// The ledger is the single source of truth for groups, membership, group keys
// and transfer records. It is consumed through two request shapes defined by
// interfaces.LedgerBackend:
//
//   - Call: state-changing and fee-bearing. Blocks until finality or the
//     finality timeout. A refusal is a Receipt with ReceiptFailure.
//   - View: read-only, answered from the latest block.
//
// Client layers the typed interfaces.GroupLedger operations on a backend and
// turns failed receipts into *interfaces.LedgerError values:
//
//	ErrLedgerRejected    refused by the ledger (not retryable)
//	ErrLedgerTimeout     finality not observed in time; the call may have applied
//	ErrLedgerUnavailable the RPC endpoint could not be used
//
// Reasons reported by the ledger ("Group not found", "Unauthorized", ...) are
// additionally mapped to sentinels such as ErrNoSuchGroup and ErrUnauthorized.
//
// # Backends
//
// EVMBackend talks to a GroupRegistry contract (GroupRegistryABI) through
// go-ethereum bindings. recordTransaction returns its transaction id through
// the TransactionRecorded event.
//
// MemoryBackend applies the same rules in-process: only the owner may write,
// revoking a member rotates the group key, and every key a group has had is
// kept so that older files remain readable by current members.
package ledger
