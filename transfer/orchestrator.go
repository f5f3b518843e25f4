package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/groupshare/cryptoutils"
	"github.com/ruteri/groupshare/interfaces"
	"github.com/ruteri/groupshare/metrics"
)

const (
	OpUpload    = "upload"
	OpRetrieve  = "retrieve"
	OpList      = "list"
	OpReconcile = "reconcile"
)

// Verification is the outcome of comparing a retrieved file with its ledger record.
type Verification string

const (
	Verified   Verification = "verified"
	Mismatch   Verification = "mismatch"
	Unrecorded Verification = "unrecorded"
	Skipped    Verification = "skipped"
)

// UploadResult describes a recorded upload.
type UploadResult struct {
	CID           interfaces.CID `json:"cid"`
	TransactionID string         `json:"transactionId"`
	FileHash      string         `json:"fileHash"`
	KeyVersion    uint64         `json:"keyVersion"`
}

// RetrieveRequest names the file to retrieve. ExpectedGroup, when set, must
// equal Group.
type RetrieveRequest struct {
	Group         string
	User          string
	CID           interfaces.CID
	ExpectedGroup string
	// SkipVerify disables the ledger lookup. The current key is used.
	SkipVerify bool
}

// RetrieveResult is a decrypted file and its verification outcome.
type RetrieveResult struct {
	Plaintext    []byte
	FileHash     string
	KeyVersion   uint64
	Verification Verification
	// Record is the ledger record the file was checked against, if any.
	Record *interfaces.TransferRecord
}

// Orchestrator runs the upload and retrieve sagas across the key manager,
// the content store and the ledger. It keeps no state between calls.
type Orchestrator struct {
	keys        interfaces.KeyProvider
	store       interfaces.ContentStore
	ledger      interfaces.GroupLedger
	sagaTimeout time.Duration
	log         *slog.Logger
}

// NewOrchestrator creates an orchestrator. A positive sagaTimeout bounds each
// Upload and Retrieve as a whole.
func NewOrchestrator(keys interfaces.KeyProvider, store interfaces.ContentStore, ledger interfaces.GroupLedger, sagaTimeout time.Duration, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		keys:        keys,
		store:       store,
		ledger:      ledger,
		sagaTimeout: sagaTimeout,
		log:         log,
	}
}

func (o *Orchestrator) saga(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.sagaTimeout > 0 {
		return context.WithTimeout(ctx, o.sagaTimeout)
	}
	return context.WithCancel(ctx)
}

func observe(op string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(ClassOf(err))
	}
	metrics.RecordTransfer(op, outcome, time.Since(start))
}

// Upload encrypts plaintext under the current group key, stores the blob and
// records the transfer on the ledger.
//
// A store failure leaves no ledger record. Once the blob is stored, every
// failure carries its CID: a rejected or never-attempted record is
// ClassPartialSaga (the blob is orphaned), any other record failure is
// ClassAmbiguous and must be reconciled before retrying.
func (o *Orchestrator) Upload(ctx context.Context, group, user string, plaintext []byte, filename string) (res *UploadResult, err error) {
	start := time.Now()
	defer func() { observe(OpUpload, start, err) }()

	fail := func(step Step, class Class, cause error) *TransferError {
		return &TransferError{Op: OpUpload, Step: step, Class: class, Err: cause}
	}

	if group == "" || user == "" {
		return nil, fail(StepValidate, ClassValidation, errors.New("group and user are required"))
	}

	ctx, cancel := o.saga(ctx)
	defer cancel()

	key, err := o.keys.FetchKey(ctx, group, user)
	if err != nil {
		return nil, fail(StepKeyFetch, Classify(err), err)
	}

	fileHash := cryptoutils.FileHash(plaintext)

	blob, err := cryptoutils.Encrypt(plaintext, key.Key)
	if err != nil {
		return nil, fail(StepEncrypt, ClassValidation, err)
	}

	cid, err := o.store.Upload(ctx, blob, filename)
	if err != nil {
		te := fail(StepStoreUpload, Classify(err), err)
		te.FileHash = fileHash
		return nil, te
	}

	log := o.log.With(
		slog.String("groupID", group),
		slog.String("cid", string(cid)))

	if ctxErr := ctx.Err(); ctxErr != nil {
		metrics.IncOrphanedBlob()
		log.Warn("Saga cancelled after upload, blob is orphaned", "err", ctxErr)
		return nil, &TransferError{
			Op: OpUpload, Step: StepLedgerRecord, Class: ClassPartialSaga,
			CID: cid, FileHash: fileHash, Err: ctxErr,
		}
	}

	txID, err := o.ledger.RecordTransaction(ctx, interfaces.TransferRecord{
		GroupID:    group,
		UserID:     user,
		FileHash:   fileHash,
		CID:        cid,
		KeyVersion: key.Version,
	})
	if err != nil {
		te := &TransferError{Op: OpUpload, Step: StepLedgerRecord, CID: cid, FileHash: fileHash, Err: err}
		var le *interfaces.LedgerError
		if errors.As(err, &le) {
			te.TransactionID = le.TxHash
		}

		if errors.Is(err, interfaces.ErrLedgerRejected) {
			te.Class = ClassPartialSaga
			metrics.IncOrphanedBlob()
			log.Warn("Ledger rejected transfer record, blob is orphaned", "err", err)
		} else {
			te.Class = ClassAmbiguous
			te.Hint = "check the group's transfers for this CID before retrying"
			log.Warn("Transfer record outcome unknown", "err", err)
		}
		return nil, te
	}

	log.Info("Uploaded file",
		slog.String("userID", user),
		slog.String("transactionID", txID),
		slog.Uint64("keyVersion", key.Version))

	return &UploadResult{
		CID:           cid,
		TransactionID: txID,
		FileHash:      fileHash,
		KeyVersion:    key.Version,
	}, nil
}

// Retrieve fetches and decrypts a blob. The key version is taken from the
// ledger record of the CID when one exists; a failed lookup only skips
// verification.
func (o *Orchestrator) Retrieve(ctx context.Context, req RetrieveRequest) (res *RetrieveResult, err error) {
	start := time.Now()
	defer func() { observe(OpRetrieve, start, err) }()

	fail := func(step Step, class Class, cause error) *TransferError {
		return &TransferError{Op: OpRetrieve, Step: step, Class: class, CID: req.CID, Err: cause}
	}

	switch {
	case req.Group == "" || req.User == "":
		return nil, fail(StepValidate, ClassValidation, errors.New("group and user are required"))
	case req.CID == "":
		return nil, fail(StepValidate, ClassValidation, interfaces.ErrInvalidContentID)
	case req.ExpectedGroup != "" && req.ExpectedGroup != req.Group:
		return nil, fail(StepValidate, ClassValidation, fmt.Errorf("%w: %q, expected %q", ErrGroupMismatch, req.Group, req.ExpectedGroup))
	}
	if err := o.store.ValidateCID(req.CID); err != nil {
		return nil, fail(StepValidate, ClassValidation, err)
	}

	ctx, cancel := o.saga(ctx)
	defer cancel()

	log := o.log.With(
		slog.String("groupID", req.Group),
		slog.String("cid", string(req.CID)))

	key, err := o.keys.FetchKey(ctx, req.Group, req.User)
	if err != nil {
		return nil, fail(StepKeyFetch, Classify(err), err)
	}

	verification := Skipped
	var record *interfaces.TransferRecord
	if !req.SkipVerify {
		records, err := o.ledger.ListTransactions(ctx, req.Group, req.User)
		if err != nil {
			log.Warn("Could not look up transfer record, skipping verification", "err", err)
		} else if record = latestRecord(records, req.CID); record == nil {
			verification = Unrecorded
		}
	}

	if record != nil && record.KeyVersion != 0 && record.KeyVersion != key.Version {
		key, err = o.keys.FetchKeyVersion(ctx, req.Group, req.User, record.KeyVersion)
		if err != nil {
			return nil, fail(StepKeyFetch, Classify(err), err)
		}
	}

	blob, err := o.store.Retrieve(ctx, req.CID)
	if err != nil {
		return nil, fail(StepFetchBlob, Classify(err), err)
	}

	plaintext, err := cryptoutils.Decrypt(blob, key.Key)
	if err != nil {
		te := fail(StepDecrypt, ClassIntegrity, fmt.Errorf("%w: %w", interfaces.ErrDecryptionFailed, err))
		te.Hint = DecryptHint
		if record != nil {
			te.TransactionID = record.TransactionID
		}
		return nil, te
	}

	fileHash := cryptoutils.FileHash(plaintext)
	if record != nil {
		verification = Verified
		if record.FileHash != fileHash {
			verification = Mismatch
			log.Warn("Retrieved file does not match its ledger record",
				slog.String("recordedHash", record.FileHash),
				slog.String("fileHash", fileHash),
				slog.String("transactionID", record.TransactionID))
		}
	}

	log.Info("Retrieved file",
		slog.String("userID", req.User),
		slog.String("verification", string(verification)),
		slog.Uint64("keyVersion", key.Version))

	return &RetrieveResult{
		Plaintext:    plaintext,
		FileHash:     fileHash,
		KeyVersion:   key.Version,
		Verification: verification,
		Record:       record,
	}, nil
}

// ListTransfers returns the transfer records of group in ledger order.
func (o *Orchestrator) ListTransfers(ctx context.Context, group, user string) ([]interfaces.TransferRecord, error) {
	records, err := o.ledger.ListTransactions(ctx, group, user)
	if err != nil {
		return nil, &TransferError{Op: OpList, Step: StepLedgerList, Class: Classify(err), Err: err}
	}
	return records, nil
}

// Reconcile returns the records of group that reference cid. It resolves
// ClassAmbiguous uploads: an empty result means the record was not written.
func (o *Orchestrator) Reconcile(ctx context.Context, group, user string, cid interfaces.CID) ([]interfaces.TransferRecord, error) {
	records, err := o.ledger.ListTransactions(ctx, group, user)
	if err != nil {
		return nil, &TransferError{Op: OpReconcile, Step: StepLedgerList, Class: Classify(err), CID: cid, Err: err}
	}

	matching := []interfaces.TransferRecord{}
	for _, r := range records {
		if r.CID == cid {
			matching = append(matching, r)
		}
	}
	return matching, nil
}

// latestRecord returns the last record of cid. Duplicate records for one CID
// are possible after a retried upload.
func latestRecord(records []interfaces.TransferRecord, cid interfaces.CID) *interfaces.TransferRecord {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].CID == cid {
			r := records[i]
			return &r
		}
	}
	return nil
}
