package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ruteri/groupshare/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SetupTestChain creates a simulated chain with one funded account and
// returns the backend and a transactor for that account.
func SetupTestChain(t *testing.T) (*simulated.Backend, *bind.TransactOpts) {
	t.Helper()

	privateKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, big.NewInt(1337))
	require.NoError(t, err)

	balance := new(big.Int)
	balance.SetString("10000000000000000000", 10) // 10 ETH

	backend := simulated.NewBackend(types.GenesisAlloc{
		auth.From: {Balance: balance},
	}, simulated.WithBlockGasLimit(8000000))
	t.Cleanup(func() { backend.Close() })

	return backend, auth
}

// commitEvery mines a block at the given interval until the test ends.
func commitEvery(t *testing.T, backend *simulated.Backend, interval time.Duration) {
	done := make(chan struct{})
	stopped := make(chan struct{})
	t.Cleanup(func() {
		close(done)
		<-stopped
	})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				backend.Commit()
			}
		}
	}()
}

func newTestEVMBackend(t *testing.T, finality time.Duration) (*EVMBackend, *simulated.Backend) {
	t.Helper()
	chain, auth := SetupTestChain(t)

	// No contract is deployed at this address.
	address := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	backend, err := NewEVMBackend(chain.Client(), chain.Client(), address, finality, nil)
	require.NoError(t, err)
	backend.SetTransactOpts(auth)
	return backend, chain
}

func TestEVMBackend_ViewWithoutContract(t *testing.T) {
	backend, _ := newTestEVMBackend(t, time.Second)

	_, err := backend.View(context.Background(), interfaces.MethodGroupExists, interfaces.CallArgs{GroupID: "g"})
	require.ErrorIs(t, err, interfaces.ErrLedgerUnavailable)
}

func TestEVMBackend_CallWithoutSigner(t *testing.T) {
	chain, _ := SetupTestChain(t)
	backend, err := NewEVMBackend(chain.Client(), chain.Client(), common.Address{}, time.Second, nil)
	require.NoError(t, err)

	_, err = backend.Call(context.Background(), interfaces.MethodRegisterGroup, interfaces.CallArgs{GroupID: "g"}, interfaces.Fee{})
	require.ErrorIs(t, err, ErrNoTransactOpts)
	require.ErrorIs(t, err, interfaces.ErrLedgerRejected)
}

func TestEVMBackend_CallRejectsViews(t *testing.T) {
	backend, _ := newTestEVMBackend(t, time.Second)

	_, err := backend.Call(context.Background(), interfaces.MethodGetGroupKey, interfaces.CallArgs{GroupID: "g"}, interfaces.Fee{})
	require.ErrorIs(t, err, interfaces.ErrLedgerRejected)

	_, err = backend.Call(context.Background(), "selfDestruct", interfaces.CallArgs{}, interfaces.Fee{})
	require.ErrorIs(t, err, interfaces.ErrLedgerRejected)
}

func TestEVMBackend_FinalityTimeout(t *testing.T) {
	backend, _ := newTestEVMBackend(t, 200*time.Millisecond)

	start := time.Now()
	_, err := backend.Call(context.Background(), interfaces.MethodRegisterGroup, interfaces.CallArgs{GroupID: "g"}, interfaces.Fee{GasLimit: 200000})
	require.ErrorIs(t, err, interfaces.ErrLedgerTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)

	var le *interfaces.LedgerError
	require.ErrorAs(t, err, &le)
	assert.NotEmpty(t, le.TxHash, "a timed out call must carry its transaction hash")
	assert.Equal(t, interfaces.MethodRegisterGroup, le.Method)
}

func TestEVMBackend_CallFinalized(t *testing.T) {
	backend, chain := newTestEVMBackend(t, 10*time.Second)
	commitEvery(t, chain, 50*time.Millisecond)

	receipt, err := backend.Call(context.Background(), interfaces.MethodRegisterGroup, interfaces.CallArgs{GroupID: "g"}, interfaces.Fee{GasLimit: 200000})
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	assert.NotEmpty(t, receipt.TxHash)
	assert.NotZero(t, receipt.Block)

	// Without a contract there is no TransactionRecorded event, so the
	// client cannot learn the transaction id.
	client := NewClient(backend, interfaces.Fee{GasLimit: 200000}, nil)
	_, err = client.RecordTransaction(context.Background(), interfaces.TransferRecord{GroupID: "g", UserID: "u", CID: "Qm"})
	require.ErrorIs(t, err, interfaces.ErrLedgerUnavailable)
}

func TestEVMBackend_EstimationWithoutContract(t *testing.T) {
	backend, _ := newTestEVMBackend(t, time.Second)

	// Gas estimation checks for contract code first.
	_, err := backend.Call(context.Background(), interfaces.MethodRegisterGroup, interfaces.CallArgs{GroupID: "g"}, interfaces.Fee{})
	require.ErrorIs(t, err, interfaces.ErrLedgerUnavailable)
}

type revertError struct {
	msg  string
	data interface{}
}

func (e *revertError) Error() string          { return e.msg }
func (e *revertError) ErrorData() interface{} { return e.data }

func encodeRevert(t *testing.T, reason string) string {
	t.Helper()
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	require.NoError(t, err)
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	return hexutil.Encode(append(selector, packed...))
}

func TestRejectionReason(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		reason   string
		rejected bool
	}{
		{
			name:     "revert data",
			err:      &revertError{msg: "execution reverted", data: encodeRevert(t, interfaces.ReasonUnauthorized)},
			reason:   interfaces.ReasonUnauthorized,
			rejected: true,
		},
		{
			name:     "revert message",
			err:      errors.New("execution reverted: Group not found"),
			reason:   interfaces.ReasonGroupNotFound,
			rejected: true,
		},
		{
			name:     "bare revert",
			err:      errors.New("execution reverted"),
			reason:   "execution reverted",
			rejected: true,
		},
		{
			name:     "insufficient funds",
			err:      errors.New("insufficient funds for gas * price + value"),
			reason:   interfaces.ReasonInsufficientDeposit,
			rejected: true,
		},
		{
			name:     "transport",
			err:      errors.New("dial tcp 127.0.0.1:8545: connect: connection refused"),
			rejected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, rejected := rejectionReason(tt.err)
			assert.Equal(t, tt.rejected, rejected)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestContractParamsMatchABI(t *testing.T) {
	parsed, err := ParseGroupRegistryABI()
	require.NoError(t, err)

	args := interfaces.CallArgs{GroupID: "g", UserID: "u", Key: "k", KeyVersion: 1, FileHash: "h", CID: "c"}
	for method, layout := range contractParams {
		m, ok := parsed.Methods[method]
		require.True(t, ok, "method %s missing from ABI", method)

		_, err := m.Inputs.Pack(layout(args)...)
		assert.NoError(t, err, "arguments of %s do not pack", method)
	}
	assert.Len(t, contractParams, len(parsed.Methods))
}

func TestOptions(t *testing.T) {
	key := "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"memory", Options{Backend: BackendMemory, Owner: "owner"}, false},
		{"memory without owner", Options{Backend: BackendMemory}, true},
		{"evm", Options{Backend: BackendEVM, RPCURL: "http://localhost:8545", Contract: "0x00000000000000000000000000000000000000aa", SigningKey: key}, false},
		{"evm with prefixed key", Options{Backend: BackendEVM, RPCURL: "http://localhost:8545", Contract: "0x00000000000000000000000000000000000000aa", SigningKey: "0x" + key}, false},
		{"evm without rpc", Options{Backend: BackendEVM, Contract: "0x00000000000000000000000000000000000000aa", SigningKey: key}, true},
		{"evm bad contract", Options{Backend: BackendEVM, RPCURL: "http://localhost:8545", Contract: "0x1234", SigningKey: key}, true},
		{"evm bad key", Options{Backend: BackendEVM, RPCURL: "http://localhost:8545", Contract: "0x00000000000000000000000000000000000000aa", SigningKey: "abc"}, true},
		{"bad deposit", Options{Backend: BackendMemory, Owner: "o", Deposit: "-1"}, true},
		{"negative finality", Options{Backend: BackendMemory, Owner: "o", FinalityTimeout: -time.Second}, true},
		{"unknown backend", Options{Backend: "postgres"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	fee, err := Options{Deposit: "1000000000", GasLimit: 300000}.Fee()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000000000), fee.Deposit)
	assert.Equal(t, uint64(300000), fee.GasLimit)
}

func TestNewBackend_Memory(t *testing.T) {
	backend, err := NewBackend(context.Background(), Options{Backend: BackendMemory, Owner: "owner"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, backend)
}
