package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ruteri/groupshare/interfaces"
)

// ErrNoTransactOpts is returned when a transaction is attempted without first setting transaction options.
var ErrNoTransactOpts = errors.New("no authorized transactor available")

// DefaultFinalityTimeout bounds how long Call waits for a receipt.
const DefaultFinalityTimeout = 60 * time.Second

// EVMBackend implements interfaces.LedgerBackend against a GroupRegistry
// contract deployed on an EVM chain.
type EVMBackend struct {
	contract *bind.BoundContract
	abi      abi.ABI
	client   bind.ContractBackend
	backend  bind.DeployBackend
	address  common.Address
	auth     *bind.TransactOpts
	finality time.Duration
	log      *slog.Logger
}

// NewEVMBackend creates a backend for the GroupRegistry contract at address.
// client serves calls and transactions, backend is polled for receipts.
func NewEVMBackend(client bind.ContractBackend, backend bind.DeployBackend, address common.Address, finality time.Duration, log *slog.Logger) (*EVMBackend, error) {
	parsed, err := ParseGroupRegistryABI()
	if err != nil {
		return nil, err
	}
	if finality <= 0 {
		finality = DefaultFinalityTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	return &EVMBackend{
		contract: bind.NewBoundContract(address, parsed, client, client, client),
		abi:      parsed,
		client:   client,
		backend:  backend,
		address:  address,
		finality: finality,
		log:      log,
	}, nil
}

// SetTransactOpts sets the signer used for state-changing calls.
// This must be called before Call.
func (b *EVMBackend) SetTransactOpts(auth *bind.TransactOpts) {
	b.auth = auth
}

// Call submits a transaction and waits for its receipt. Reverts, both at
// estimation and in a mined block, are reported as a failed Receipt.
func (b *EVMBackend) Call(ctx context.Context, method string, args interfaces.CallArgs, fee interfaces.Fee) (*interfaces.Receipt, error) {
	layout, ok := contractParams[method]
	if !ok || b.abi.Methods[method].IsConstant() {
		return nil, &interfaces.LedgerError{Kind: interfaces.ErrLedgerRejected, Method: method, Reason: "unknown state-changing method"}
	}
	if b.auth == nil {
		return nil, &interfaces.LedgerError{Kind: interfaces.ErrLedgerRejected, Method: method, Err: ErrNoTransactOpts}
	}

	opts := *b.auth
	opts.Context = ctx
	opts.Value = fee.Deposit
	opts.GasLimit = fee.GasLimit

	tx, err := b.contract.Transact(&opts, method, layout(args)...)
	if err != nil {
		if reason, ok := rejectionReason(err); ok {
			b.log.Debug("Ledger call rejected before submission",
				slog.String("method", method),
				slog.String("reason", reason))
			return &interfaces.Receipt{Status: interfaces.ReceiptFailure, FailureReason: reason}, nil
		}
		return nil, &interfaces.LedgerError{Kind: interfaces.ErrLedgerUnavailable, Method: method, Err: err}
	}

	txHash := tx.Hash().Hex()
	b.log.Debug("Submitted ledger transaction",
		slog.String("method", method),
		slog.String("txHash", txHash))

	waitCtx, cancel := context.WithTimeout(ctx, b.finality)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, b.backend, tx)
	if err != nil {
		return nil, &interfaces.LedgerError{Kind: interfaces.ErrLedgerTimeout, Method: method, TxHash: txHash, Err: err}
	}

	out := &interfaces.Receipt{
		Status: interfaces.ReceiptSuccess,
		TxHash: txHash,
		Block:  receipt.BlockNumber.Uint64(),
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		out.Status = interfaces.ReceiptFailure
		out.FailureReason = b.revertReason(ctx, tx, receipt)
		return out, nil
	}

	if method == interfaces.MethodRecordTransaction {
		result, err := b.recordResult(receipt)
		if err != nil {
			b.log.Warn("Recorded transaction without a readable event",
				slog.String("txHash", txHash),
				"err", err)
			return out, nil
		}
		out.Result = result
	}

	return out, nil
}

// View performs a read-only contract call and returns its single output as JSON.
func (b *EVMBackend) View(ctx context.Context, method string, args interfaces.CallArgs) ([]byte, error) {
	layout, ok := contractParams[method]
	if !ok {
		return nil, &interfaces.LedgerError{Kind: interfaces.ErrLedgerRejected, Method: method, Reason: "unknown method"}
	}

	opts := &bind.CallOpts{Context: ctx}
	if b.auth != nil {
		opts.From = b.auth.From
	}

	var out []interface{}
	if err := b.contract.Call(opts, &out, method, layout(args)...); err != nil {
		if reason, ok := rejectionReason(err); ok {
			return nil, &interfaces.LedgerError{Kind: interfaces.ErrLedgerRejected, Method: method, Reason: reason}
		}
		return nil, &interfaces.LedgerError{Kind: interfaces.ErrLedgerUnavailable, Method: method, Err: err}
	}
	if len(out) != 1 {
		return nil, &interfaces.LedgerError{Kind: interfaces.ErrLedgerUnavailable, Method: method, Err: fmt.Errorf("expected 1 output, got %d", len(out))}
	}

	return json.Marshal(out[0])
}

// Address returns the contract address.
func (b *EVMBackend) Address() common.Address {
	return b.address
}

func (b *EVMBackend) recordResult(receipt *types.Receipt) (json.RawMessage, error) {
	eventID := b.abi.Events[EventTransactionRecorded].ID

	for _, log := range receipt.Logs {
		if log.Address != b.address || len(log.Topics) == 0 || log.Topics[0] != eventID {
			continue
		}

		var ev transactionRecorded
		if err := b.contract.UnpackLog(&ev, EventTransactionRecorded, *log); err != nil {
			return nil, fmt.Errorf("failed to unpack %s: %w", EventTransactionRecorded, err)
		}
		return json.Marshal(interfaces.RecordResult{TransactionID: ev.TransactionId, Sequence: ev.Sequence})
	}

	return nil, fmt.Errorf("no %s event in receipt", EventTransactionRecorded)
}

// revertReason replays a reverted transaction against the parent block to
// recover the revert string.
func (b *EVMBackend) revertReason(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) string {
	const unknown = "transaction reverted"

	if receipt.BlockNumber == nil || receipt.BlockNumber.Sign() == 0 {
		return unknown
	}

	msg := ethereum.CallMsg{
		From:  b.auth.From,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}
	parent := new(big.Int).Sub(receipt.BlockNumber, big.NewInt(1))

	_, err := b.client.CallContract(ctx, msg, parent)
	if err == nil {
		return unknown
	}
	if reason, ok := rejectionReason(err); ok {
		return reason
	}
	return unknown
}

// rejectionReason extracts a ledger-side refusal from an RPC error.
// Transport failures report false.
func rejectionReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if encoded, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(encoded); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason, true
				}
			}
		}
	}

	msg := err.Error()
	if i := strings.Index(msg, "execution reverted"); i >= 0 {
		reason := strings.TrimSpace(strings.TrimPrefix(msg[i+len("execution reverted"):], ":"))
		if reason == "" {
			reason = "execution reverted"
		}
		return reason, true
	}
	if strings.Contains(msg, "insufficient funds") {
		return interfaces.ReasonInsufficientDeposit, true
	}
	return "", false
}
