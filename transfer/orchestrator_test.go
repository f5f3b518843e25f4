package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ruteri/groupshare/cryptoutils"
	"github.com/ruteri/groupshare/interfaces"
	"github.com/ruteri/groupshare/kms"
	"github.com/ruteri/groupshare/ledger"
	"github.com/ruteri/groupshare/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// faultyBackend fails selected ledger methods.
type faultyBackend struct {
	interfaces.LedgerBackend
	method  string
	receipt *interfaces.Receipt
	err     error
}

func (f *faultyBackend) Call(ctx context.Context, method string, args interfaces.CallArgs, fee interfaces.Fee) (*interfaces.Receipt, error) {
	if method == f.method {
		return f.receipt, f.err
	}
	return f.LedgerBackend.Call(ctx, method, args, fee)
}

func (f *faultyBackend) View(ctx context.Context, method string, args interfaces.CallArgs) ([]byte, error) {
	if method == f.method {
		return nil, f.err
	}
	return f.LedgerBackend.View(ctx, method, args)
}

// countingBackend counts ledger reads and writes.
type countingBackend struct {
	interfaces.LedgerBackend
	calls int
}

func (c *countingBackend) Call(ctx context.Context, method string, args interfaces.CallArgs, fee interfaces.Fee) (*interfaces.Receipt, error) {
	c.calls++
	return c.LedgerBackend.Call(ctx, method, args, fee)
}

func (c *countingBackend) View(ctx context.Context, method string, args interfaces.CallArgs) ([]byte, error) {
	c.calls++
	return c.LedgerBackend.View(ctx, method, args)
}

// cancellingStore cancels the saga right after a successful upload.
type cancellingStore struct {
	interfaces.ContentStore
	cancel context.CancelFunc
}

func (s *cancellingStore) Upload(ctx context.Context, blob []byte, name string) (interfaces.CID, error) {
	cid, err := s.ContentStore.Upload(ctx, blob, name)
	s.cancel()
	return cid, err
}

type testEnv struct {
	backend *ledger.MemoryBackend
	client  *ledger.Client
	keys    *kms.KeyManager
	store   interfaces.ContentStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	backend := ledger.NewMemoryBackend("owner")
	client := ledger.NewClient(backend, interfaces.Fee{}, nil)
	keys := kms.NewKeyManager(client, nil)
	store, err := storage.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, keys.ProvisionGroup(ctx, "g", nil))
	require.NoError(t, keys.AddMember(ctx, "g", "alice"))
	require.NoError(t, keys.AddMember(ctx, "g", "bob"))

	return &testEnv{backend: backend, client: client, keys: keys, store: store}
}

func (e *testEnv) orchestrator(ledgerBackend interfaces.LedgerBackend) *Orchestrator {
	l := interfaces.GroupLedger(e.client)
	if ledgerBackend != nil {
		l = ledger.NewClient(ledgerBackend, interfaces.Fee{}, nil)
	}
	return NewOrchestrator(e.keys, e.store, l, 5*time.Second, nil)
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	o := env.orchestrator(nil)

	up, err := o.Upload(ctx, "g", "alice", []byte("hello world"), "f.txt")
	require.NoError(t, err)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", up.FileHash)
	assert.NotEmpty(t, up.CID)
	assert.NotEmpty(t, up.TransactionID)
	assert.Equal(t, uint64(1), up.KeyVersion)

	got, err := o.Retrieve(ctx, RetrieveRequest{Group: "g", User: "bob", CID: up.CID})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), got.Plaintext)
	assert.Equal(t, up.FileHash, got.FileHash)
	assert.Equal(t, Verified, got.Verification)
	require.NotNil(t, got.Record)
	assert.Equal(t, up.TransactionID, got.Record.TransactionID)

	records, err := o.ListTransfers(ctx, "g", "alice")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, up.CID, records[0].CID)
}

func TestOrchestrator_OrphanOnRejectedRecord(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	o := env.orchestrator(&faultyBackend{
		LedgerBackend: env.backend,
		method:        interfaces.MethodRecordTransaction,
		receipt:       &interfaces.Receipt{Status: interfaces.ReceiptFailure, FailureReason: interfaces.ReasonInsufficientDeposit},
	})

	_, err := o.Upload(ctx, "g", "alice", []byte("hello world"), "f.txt")
	require.Error(t, err)

	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ClassPartialSaga, te.Class)
	assert.Equal(t, StepLedgerRecord, te.Step)
	require.NotEmpty(t, te.CID)
	require.ErrorIs(t, err, interfaces.ErrLedgerRejected)

	// The blob exists but is not recorded.
	_, err = env.store.Retrieve(ctx, te.CID)
	require.NoError(t, err)

	records, err := env.client.ListTransactions(ctx, "g", "alice")
	require.NoError(t, err)
	for _, r := range records {
		assert.NotEqual(t, te.CID, r.CID)
	}

	matching, err := env.orchestrator(nil).Reconcile(ctx, "g", "alice", te.CID)
	require.NoError(t, err)
	assert.Empty(t, matching)
}

func TestOrchestrator_AmbiguousOnLedgerTimeout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	o := env.orchestrator(&faultyBackend{
		LedgerBackend: env.backend,
		method:        interfaces.MethodRecordTransaction,
		err:           &interfaces.LedgerError{Kind: interfaces.ErrLedgerTimeout, Method: interfaces.MethodRecordTransaction, TxHash: "0xfeed"},
	})

	_, err := o.Upload(ctx, "g", "alice", []byte("hello world"), "f.txt")
	require.ErrorIs(t, err, interfaces.ErrLedgerTimeout)

	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ClassAmbiguous, te.Class)
	assert.NotEmpty(t, te.CID)
	assert.Equal(t, "0xfeed", te.TransactionID)
	assert.NotEmpty(t, te.Hint)
}

func TestOrchestrator_CancelledAfterUpload(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := NewOrchestrator(env.keys, &cancellingStore{ContentStore: env.store, cancel: cancel}, env.client, 0, nil)

	_, err := o.Upload(ctx, "g", "alice", []byte("hello world"), "f.txt")
	require.ErrorIs(t, err, context.Canceled)

	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ClassPartialSaga, te.Class)
	assert.NotEmpty(t, te.CID)

	records, err := env.client.ListTransactions(context.Background(), "g", "alice")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestOrchestrator_StoreFailureWritesNoRecord(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	store := new(storage.MockContentStore)
	store.On("Upload", mock.Anything, mock.Anything, "f.txt").
		Return(interfaces.CID(""), interfaces.ErrStoreUnavailable)

	o := NewOrchestrator(env.keys, store, env.client, time.Second, nil)
	_, err := o.Upload(ctx, "g", "alice", []byte("hello world"), "f.txt")

	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StepStoreUpload, te.Step)
	assert.Equal(t, ClassTransient, te.Class)
	assert.Empty(t, te.CID)

	records, err := env.client.ListTransactions(ctx, "g", "alice")
	require.NoError(t, err)
	assert.Empty(t, records)
	store.AssertExpectations(t)
}

func TestOrchestrator_AuthorizationAbortsWithoutSideEffects(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	store := new(storage.MockContentStore)
	o := NewOrchestrator(env.keys, store, env.client, time.Second, nil)

	tests := []struct {
		name    string
		group   string
		wantErr error
	}{
		{"not a member", "g", interfaces.ErrAccessDenied},
		{"missing group", "nope", interfaces.ErrNoSuchGroup},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Upload(ctx, tt.group, "mallory", []byte("data"), "f.txt")
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, ClassAuthorization, ClassOf(err))

			_, err = o.Retrieve(ctx, RetrieveRequest{Group: tt.group, User: "mallory", CID: "QmaozNR7DZHQK1ZcU9p7QdrshMvXqWK6gpu5rmrkPdT3L4"})
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
	store.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything)
}

func TestOrchestrator_RevokedMember(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	o := env.orchestrator(nil)

	up, err := o.Upload(ctx, "g", "alice", []byte("before rotation"), "a.txt")
	require.NoError(t, err)

	require.NoError(t, env.keys.RevokeMember(ctx, "g", "alice"))

	_, err = o.Retrieve(ctx, RetrieveRequest{Group: "g", User: "alice", CID: up.CID})
	require.ErrorIs(t, err, interfaces.ErrAccessDenied)

	// Remaining members still read files encrypted under the old key.
	got, err := o.Retrieve(ctx, RetrieveRequest{Group: "g", User: "bob", CID: up.CID})
	require.NoError(t, err)
	assert.Equal(t, []byte("before rotation"), got.Plaintext)
	assert.Equal(t, uint64(1), got.KeyVersion)

	// New uploads use the rotated key.
	up2, err := o.Upload(ctx, "g", "bob", []byte("after rotation"), "b.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), up2.KeyVersion)
}

func TestOrchestrator_DecryptionFailureHint(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	o := env.orchestrator(nil)

	// A blob encrypted under a key the group never had.
	otherKey, err := cryptoutils.NewGroupKey()
	require.NoError(t, err)
	blob, err := cryptoutils.Encrypt([]byte("secret"), otherKey)
	require.NoError(t, err)
	cid, err := env.store.Upload(ctx, blob, "x")
	require.NoError(t, err)

	_, err = o.Retrieve(ctx, RetrieveRequest{Group: "g", User: "bob", CID: cid})
	require.ErrorIs(t, err, interfaces.ErrDecryptionFailed)

	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StepDecrypt, te.Step)
	assert.Equal(t, ClassIntegrity, te.Class)
	assert.Equal(t, DecryptHint, te.Hint)
	assert.Equal(t, cid, te.CID)
}

func TestOrchestrator_Verification(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	key, err := env.keys.FetchKey(ctx, "g", "alice")
	require.NoError(t, err)
	blob, err := cryptoutils.Encrypt([]byte("payload"), key.Key)
	require.NoError(t, err)
	cid, err := env.store.Upload(ctx, blob, "p")
	require.NoError(t, err)

	o := env.orchestrator(nil)

	got, err := o.Retrieve(ctx, RetrieveRequest{Group: "g", User: "alice", CID: cid})
	require.NoError(t, err)
	assert.Equal(t, Unrecorded, got.Verification)

	_, err = env.client.RecordTransaction(ctx, interfaces.TransferRecord{
		GroupID: "g", UserID: "alice", CID: cid, FileHash: cryptoutils.FileHash([]byte("something else")), KeyVersion: 1,
	})
	require.NoError(t, err)

	got, err = o.Retrieve(ctx, RetrieveRequest{Group: "g", User: "alice", CID: cid})
	require.NoError(t, err)
	assert.Equal(t, Mismatch, got.Verification)
	assert.Equal(t, []byte("payload"), got.Plaintext)

	got, err = o.Retrieve(ctx, RetrieveRequest{Group: "g", User: "alice", CID: cid, SkipVerify: true})
	require.NoError(t, err)
	assert.Equal(t, Skipped, got.Verification)

	// A failing lookup only skips verification.
	flaky := env.orchestrator(&faultyBackend{
		LedgerBackend: env.backend,
		method:        interfaces.MethodGetTransactionsForGroup,
		err:           &interfaces.LedgerError{Kind: interfaces.ErrLedgerUnavailable, Err: errors.New("connection reset")},
	})
	got, err = flaky.Retrieve(ctx, RetrieveRequest{Group: "g", User: "alice", CID: cid})
	require.NoError(t, err)
	assert.Equal(t, Skipped, got.Verification)
}

func TestOrchestrator_RetrieveValidation(t *testing.T) {
	env := newTestEnv(t)
	o := env.orchestrator(nil)

	tests := []struct {
		name string
		req  RetrieveRequest
	}{
		{"missing user", RetrieveRequest{Group: "g", CID: "Qm"}},
		{"missing cid", RetrieveRequest{Group: "g", User: "alice"}},
		{"group mismatch", RetrieveRequest{Group: "g", User: "alice", CID: "Qm", ExpectedGroup: "h"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Retrieve(context.Background(), tt.req)
			var te *TransferError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, StepValidate, te.Step)
			assert.Equal(t, ClassValidation, te.Class)
		})
	}

	_, err := o.Retrieve(context.Background(), RetrieveRequest{Group: "g", User: "alice", CID: "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"})
	assert.Equal(t, ClassValidation, ClassOf(err))
	require.ErrorIs(t, err, interfaces.ErrInvalidContentID)
}

func TestOrchestrator_MalformedCIDMakesNoLedgerCalls(t *testing.T) {
	env := newTestEnv(t)
	counting := &countingBackend{LedgerBackend: env.backend}
	client := ledger.NewClient(counting, interfaces.Fee{}, nil)
	o := NewOrchestrator(kms.NewKeyManager(client, nil), env.store, client, time.Second, nil)

	for _, id := range []interfaces.CID{"not-a-cid", "Qm", "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"} {
		_, err := o.Retrieve(context.Background(), RetrieveRequest{Group: "g", User: "alice", CID: id})
		require.ErrorIs(t, err, interfaces.ErrInvalidContentID, string(id))

		var te *TransferError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, StepValidate, te.Step)
		assert.Equal(t, ClassValidation, te.Class)
	}
	assert.Zero(t, counting.calls)
}

func TestOrchestrator_ContentNotFound(t *testing.T) {
	env := newTestEnv(t)
	o := env.orchestrator(nil)

	// Valid CIDv0 that was never stored.
	_, err := o.Retrieve(context.Background(), RetrieveRequest{Group: "g", User: "alice", CID: "QmaozNR7DZHQK1ZcU9p7QdrshMvXqWK6gpu5rmrkPdT3L4"})
	require.ErrorIs(t, err, interfaces.ErrContentNotFound)

	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StepFetchBlob, te.Step)
	assert.Equal(t, ClassValidation, te.Class)
}

func TestOrchestrator_SagaTimeout(t *testing.T) {
	env := newTestEnv(t)

	store := new(storage.MockContentStore)
	store.On("Upload", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(interfaces.CID(""), interfaces.ErrStoreUnavailable)

	o := NewOrchestrator(env.keys, store, env.client, 50*time.Millisecond, nil)

	start := time.Now()
	_, err := o.Upload(context.Background(), "g", "alice", []byte("slow"), "s.txt")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, ClassTransient, ClassOf(err))
}
