// Package interfaces defines the core interfaces and types for the group transfer pipeline.
// It provides the contract between the crypto, storage, ledger, key management and
// orchestration layers without implementation details.
package interfaces

import (
	"encoding/json"
	"math/big"
)

// CID is a content identifier returned by the content-addressed store.
// It addresses the encrypted blob, never the plaintext.
type CID string

// String returns the CID as a plain string.
func (c CID) String() string {
	return string(c)
}

// GroupKeySize is the length of a raw group key in bytes.
const GroupKeySize = 32

// GroupKey is the symmetric key shared by all current members of a group.
// Version increases by one every time the key is replaced (stored or rotated).
type GroupKey struct {
	Key     []byte
	Version uint64
}

// TransferRecord is the ledger's immutable record of one successful upload.
// FileHash is the hex SHA-256 of the plaintext, CID addresses the ciphertext.
type TransferRecord struct {
	GroupID       string `json:"groupId"`
	UserID        string `json:"userId"`
	FileHash      string `json:"fileHash"`
	CID           CID    `json:"cid"`
	TransactionID string `json:"transactionId"`
	KeyVersion    uint64 `json:"keyVersion"`
	Sequence      uint64 `json:"sequence"`
}

// ReceiptStatus discriminates the outcome of a state-changing ledger call.
type ReceiptStatus int

const (
	// ReceiptSuccess means the call reached finality and applied.
	ReceiptSuccess ReceiptStatus = iota + 1
	// ReceiptFailure means the ledger refused or reverted the call.
	ReceiptFailure
)

// String returns the status name.
func (s ReceiptStatus) String() string {
	switch s {
	case ReceiptSuccess:
		return "success"
	case ReceiptFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Receipt is the outcome of a state-changing ledger call.
type Receipt struct {
	Status ReceiptStatus
	// TxHash identifies the submitted transaction, empty if nothing was submitted.
	TxHash string
	// Block is the block (or ordering position) the call was finalized in.
	Block uint64
	// Result is the JSON encoded return value of the called method, if any.
	Result json.RawMessage
	// FailureReason is the ledger-reported reason when Status is ReceiptFailure.
	FailureReason string
}

// Succeeded reports whether the call applied.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == ReceiptSuccess
}

// Fee is the budget attached to a state-changing ledger call.
type Fee struct {
	// Deposit is the amount attached to the call (wei for EVM ledgers).
	Deposit *big.Int
	// GasLimit caps execution cost; zero lets the backend estimate it.
	GasLimit uint64
}

// CallArgs is the fixed-schema argument record for every ledger method.
// Methods read only the fields they declare.
type CallArgs struct {
	GroupID    string `json:"groupId"`
	UserID     string `json:"userId,omitempty"`
	Key        string `json:"key,omitempty"`
	KeyVersion uint64 `json:"keyVersion,omitempty"`
	FileHash   string `json:"fileHash,omitempty"`
	CID        string `json:"cid,omitempty"`
}

// Ledger method names, shared by every LedgerBackend.
const (
	MethodRegisterGroup           = "registerGroup"
	MethodAddGroupMember          = "addGroupMember"
	MethodRevokeGroupMember       = "revokeGroupMember"
	MethodStoreGroupKey           = "storeGroupKey"
	MethodRecordTransaction       = "recordTransaction"
	MethodGroupExists             = "groupExists"
	MethodIsAuthorized            = "isAuthorized"
	MethodGetGroupKey             = "getGroupKey"
	MethodGetGroupKeyVersion      = "getGroupKeyVersion"
	MethodGetTransactionsForGroup = "getTransactionsForGroup"
)

// Ledger failure reasons. Backends report these verbatim so callers never
// have to pattern-match free-form status strings.
const (
	ReasonGroupNotFound       = "Group not found"
	ReasonGroupExists         = "Group exists"
	ReasonUnauthorized        = "Unauthorized"
	ReasonUserNotAuthorized   = "User not authorized"
	ReasonAlreadyMember       = "User already a member"
	ReasonNotAMember          = "User not a member"
	ReasonNoKeySet            = "No key set"
	ReasonUnknownKeyVersion   = "Unknown key version"
	ReasonOnlyOwner           = "Only group owner"
	ReasonInsufficientDeposit = "Insufficient deposit"
	ReasonInvalidKey          = "Invalid key"
)

// GroupKeyView is the JSON shape of getGroupKey / getGroupKeyVersion results.
type GroupKeyView struct {
	Key     string `json:"key"`
	Version uint64 `json:"version"`
}

// RecordResult is the JSON shape of the recordTransaction result payload.
type RecordResult struct {
	TransactionID string `json:"transactionId"`
	Sequence      uint64 `json:"sequence"`
}
