package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ruteri/groupshare/cryptoutils"
	"github.com/ruteri/groupshare/interfaces"
)

const (
	BackendEVM    = "evm"
	BackendMemory = "memory"
)

// Options selects and configures a ledger backend.
type Options struct {
	// Backend is BackendEVM or BackendMemory.
	Backend string

	RPCURL   string
	Contract string
	// SigningKey is the hex secp256k1 key that signs state-changing calls.
	SigningKey string
	// ChainID is queried from the RPC endpoint when zero.
	ChainID int64

	FinalityTimeout time.Duration
	// Deposit is the wei amount attached to every call, in decimal.
	Deposit  string
	GasLimit uint64

	// Owner is the ledger owner of a memory backend.
	Owner string
}

// Validate checks the options without contacting the ledger.
func (o Options) Validate() error {
	switch o.Backend {
	case BackendMemory:
		if o.Owner == "" {
			return errors.New("memory ledger needs an owner")
		}
	case BackendEVM:
		if o.RPCURL == "" {
			return errors.New("ledger RPC address is required")
		}
		if !common.IsHexAddress(o.Contract) {
			return fmt.Errorf("invalid contract address: %q", o.Contract)
		}
		if _, err := cryptoutils.ParseSigningKey(o.SigningKey); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported ledger backend: %q", o.Backend)
	}

	if _, err := o.Fee(); err != nil {
		return err
	}
	if o.FinalityTimeout < 0 {
		return errors.New("finality timeout must not be negative")
	}
	return nil
}

// Fee returns the per-call fee budget.
func (o Options) Fee() (interfaces.Fee, error) {
	fee := interfaces.Fee{GasLimit: o.GasLimit}
	if o.Deposit == "" {
		return fee, nil
	}
	deposit, ok := new(big.Int).SetString(o.Deposit, 10)
	if !ok || deposit.Sign() < 0 {
		return fee, fmt.Errorf("invalid deposit %q: must be a non-negative decimal wei amount", o.Deposit)
	}
	fee.Deposit = deposit
	return fee, nil
}

// NewBackend creates the configured ledger backend. The EVM backend dials the
// RPC endpoint and has its signer set.
func NewBackend(ctx context.Context, opts Options, log *slog.Logger) (interfaces.LedgerBackend, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	switch opts.Backend {
	case BackendMemory:
		log.Warn("Using in-memory ledger, state is lost on exit", slog.String("owner", opts.Owner))
		return NewMemoryBackend(opts.Owner), nil
	default:
		return dialEVM(ctx, opts, log)
	}
}

func dialEVM(ctx context.Context, opts Options, log *slog.Logger) (*EVMBackend, error) {
	key, err := cryptoutils.ParseSigningKey(opts.SigningKey)
	if err != nil {
		return nil, err
	}

	client, err := ethclient.DialContext(ctx, opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrLedgerUnavailable, err)
	}

	chainID := big.NewInt(opts.ChainID)
	if opts.ChainID == 0 {
		chainID, err = client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("%w: failed to query chain id: %w", interfaces.ErrLedgerUnavailable, err)
		}
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	backend, err := NewEVMBackend(client, client, common.HexToAddress(opts.Contract), opts.FinalityTimeout, log)
	if err != nil {
		client.Close()
		return nil, err
	}
	backend.SetTransactOpts(auth)

	log.Info("Connected to ledger",
		slog.String("contract", opts.Contract),
		slog.String("signer", auth.From.Hex()),
		slog.String("chainID", chainID.String()))

	return backend, nil
}
