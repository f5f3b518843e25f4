package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/groupshare/cryptoutils"
	"github.com/ruteri/groupshare/interfaces"
	"github.com/ruteri/groupshare/metrics"
)

// Client implements interfaces.GroupLedger on top of a LedgerBackend.
// Failed receipts become *interfaces.LedgerError values whose reason is also
// mapped to a sentinel (ErrNoSuchGroup, ErrUnauthorized, ...), so callers
// never inspect reason strings.
type Client struct {
	backend interfaces.LedgerBackend
	fee     interfaces.Fee
	log     *slog.Logger
}

// NewClient creates a client that attaches fee to every state-changing call.
func NewClient(backend interfaces.LedgerBackend, fee interfaces.Fee, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{backend: backend, fee: fee, log: log}
}

// reasonErrors maps ledger failure reasons to sentinel errors.
var reasonErrors = []struct {
	reason string
	err    error
}{
	{interfaces.ReasonGroupNotFound, interfaces.ErrNoSuchGroup},
	{interfaces.ReasonGroupExists, interfaces.ErrGroupAlreadyExists},
	{interfaces.ReasonAlreadyMember, interfaces.ErrAlreadyMember},
	{interfaces.ReasonNotAMember, interfaces.ErrNotAMember},
	{interfaces.ReasonNoKeySet, interfaces.ErrNoGroupKey},
	{interfaces.ReasonUserNotAuthorized, interfaces.ErrUnauthorized},
	{interfaces.ReasonUnauthorized, interfaces.ErrUnauthorized},
	{interfaces.ReasonInvalidKey, interfaces.ErrInvalidKey},
}

func reasonError(reason string) error {
	for _, re := range reasonErrors {
		if strings.Contains(reason, re.reason) {
			return re.err
		}
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, args interfaces.CallArgs) (*interfaces.Receipt, error) {
	receipt, err := c.backend.Call(ctx, method, args, c.fee)
	if err != nil {
		err = c.classify(method, err)
		metrics.IncLedgerCall(method, callStatus(err))
		c.log.Warn("Ledger call failed",
			slog.String("method", method),
			slog.String("groupID", args.GroupID),
			"err", err)
		return nil, err
	}

	if !receipt.Succeeded() {
		metrics.IncLedgerCall(method, "rejected")
		c.log.Debug("Ledger call rejected",
			slog.String("method", method),
			slog.String("groupID", args.GroupID),
			slog.String("reason", receipt.FailureReason),
			slog.String("txHash", receipt.TxHash))
		return receipt, &interfaces.LedgerError{
			Kind:   interfaces.ErrLedgerRejected,
			Method: method,
			TxHash: receipt.TxHash,
			Reason: receipt.FailureReason,
			Err:    reasonError(receipt.FailureReason),
		}
	}

	metrics.IncLedgerCall(method, "success")
	c.log.Debug("Ledger call finalized",
		slog.String("method", method),
		slog.String("groupID", args.GroupID),
		slog.String("txHash", receipt.TxHash),
		slog.Uint64("block", receipt.Block))
	return receipt, nil
}

func (c *Client) view(ctx context.Context, method string, args interfaces.CallArgs, out interface{}) error {
	data, err := c.backend.View(ctx, method, args)
	if err != nil {
		err = c.classify(method, err)
		metrics.IncLedgerCall(method, callStatus(err))
		return err
	}
	metrics.IncLedgerCall(method, "success")

	if err := json.Unmarshal(data, out); err != nil {
		return &interfaces.LedgerError{Kind: interfaces.ErrLedgerUnavailable, Method: method, Err: fmt.Errorf("undecodable result: %w", err)}
	}
	return nil
}

// classify makes sure every backend error is a *LedgerError with its reason
// sentinel attached.
func (c *Client) classify(method string, err error) error {
	var le *interfaces.LedgerError
	if errors.As(err, &le) {
		if le.Kind == interfaces.ErrLedgerRejected && le.Err == nil {
			enriched := *le
			enriched.Err = reasonError(le.Reason)
			return &enriched
		}
		return le
	}
	return &interfaces.LedgerError{Kind: interfaces.ErrLedgerUnavailable, Method: method, Err: err}
}

func callStatus(err error) string {
	switch {
	case errors.Is(err, interfaces.ErrLedgerRejected):
		return "rejected"
	case errors.Is(err, interfaces.ErrLedgerTimeout):
		return "timeout"
	default:
		return "unavailable"
	}
}

// RegisterGroup registers a new group owned by the signer.
func (c *Client) RegisterGroup(ctx context.Context, group string) (*interfaces.Receipt, error) {
	return c.call(ctx, interfaces.MethodRegisterGroup, interfaces.CallArgs{GroupID: group})
}

// AddMember authorizes user in group.
func (c *Client) AddMember(ctx context.Context, group, user string) (*interfaces.Receipt, error) {
	return c.call(ctx, interfaces.MethodAddGroupMember, interfaces.CallArgs{GroupID: group, UserID: user})
}

// RevokeMember removes user from group. The ledger rotates the group key in
// the same call.
func (c *Client) RevokeMember(ctx context.Context, group, user string) (*interfaces.Receipt, error) {
	return c.call(ctx, interfaces.MethodRevokeGroupMember, interfaces.CallArgs{GroupID: group, UserID: user})
}

// StoreGroupKey replaces the group key. The key is checked locally before submission.
func (c *Client) StoreGroupKey(ctx context.Context, group string, key []byte) (*interfaces.Receipt, error) {
	if len(key) != interfaces.GroupKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", interfaces.ErrInvalidKey, len(key), interfaces.GroupKeySize)
	}
	return c.call(ctx, interfaces.MethodStoreGroupKey, interfaces.CallArgs{
		GroupID: group,
		Key:     cryptoutils.EncodeGroupKey(key),
	})
}

// GetGroupKey returns the current group key if user is a member.
func (c *Client) GetGroupKey(ctx context.Context, group, user string) (*interfaces.GroupKey, error) {
	return c.groupKey(ctx, interfaces.MethodGetGroupKey, interfaces.CallArgs{GroupID: group, UserID: user})
}

// GetGroupKeyVersion returns a historical group key if user is a current member.
func (c *Client) GetGroupKeyVersion(ctx context.Context, group, user string, version uint64) (*interfaces.GroupKey, error) {
	return c.groupKey(ctx, interfaces.MethodGetGroupKeyVersion, interfaces.CallArgs{GroupID: group, UserID: user, KeyVersion: version})
}

func (c *Client) groupKey(ctx context.Context, method string, args interfaces.CallArgs) (*interfaces.GroupKey, error) {
	var view interfaces.GroupKeyView
	if err := c.view(ctx, method, args, &view); err != nil {
		return nil, err
	}

	key, err := cryptoutils.DecodeGroupKey(view.Key)
	if err != nil {
		return nil, &interfaces.LedgerError{Kind: interfaces.ErrLedgerUnavailable, Method: method, Err: err}
	}
	return &interfaces.GroupKey{Key: key, Version: view.Version}, nil
}

// IsAuthorized reports whether user is a member of group.
func (c *Client) IsAuthorized(ctx context.Context, group, user string) (bool, error) {
	var ok bool
	err := c.view(ctx, interfaces.MethodIsAuthorized, interfaces.CallArgs{GroupID: group, UserID: user}, &ok)
	return ok, err
}

// GroupExists reports whether group is registered.
func (c *Client) GroupExists(ctx context.Context, group string) (bool, error) {
	var ok bool
	err := c.view(ctx, interfaces.MethodGroupExists, interfaces.CallArgs{GroupID: group}, &ok)
	return ok, err
}

// RecordTransaction writes a transfer record and returns the ledger-assigned
// transaction id.
func (c *Client) RecordTransaction(ctx context.Context, record interfaces.TransferRecord) (string, error) {
	receipt, err := c.call(ctx, interfaces.MethodRecordTransaction, interfaces.CallArgs{
		GroupID:    record.GroupID,
		UserID:     record.UserID,
		FileHash:   record.FileHash,
		CID:        string(record.CID),
		KeyVersion: record.KeyVersion,
	})
	if err != nil {
		return "", err
	}

	var result interfaces.RecordResult
	if len(receipt.Result) > 0 {
		if err := json.Unmarshal(receipt.Result, &result); err != nil {
			return "", &interfaces.LedgerError{Kind: interfaces.ErrLedgerUnavailable, Method: interfaces.MethodRecordTransaction, TxHash: receipt.TxHash, Err: err}
		}
	}
	if result.TransactionID == "" {
		return "", &interfaces.LedgerError{
			Kind:   interfaces.ErrLedgerUnavailable,
			Method: interfaces.MethodRecordTransaction,
			TxHash: receipt.TxHash,
			Reason: "finalized without a transaction id",
		}
	}
	return result.TransactionID, nil
}

// ListTransactions returns the transfer records of group in ledger order.
// user must be a member or the ledger owner.
func (c *Client) ListTransactions(ctx context.Context, group, user string) ([]interfaces.TransferRecord, error) {
	var records []interfaces.TransferRecord
	if err := c.view(ctx, interfaces.MethodGetTransactionsForGroup, interfaces.CallArgs{GroupID: group, UserID: user}, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []interfaces.TransferRecord{}
	}
	return records, nil
}
