package transfer

import (
	"errors"
	"fmt"

	"github.com/ruteri/groupshare/interfaces"
)

// Class tells the caller how to react to a failed transfer.
type Class string

const (
	// ClassValidation: bad input, rejected before or by the remote side. Never retried.
	ClassValidation Class = "validation"
	// ClassAuthorization: not a member or no such group. Never retried.
	ClassAuthorization Class = "authorization"
	// ClassTransient: infrastructure unavailable after local retries.
	ClassTransient Class = "transient"
	// ClassAmbiguous: the ledger record may or may not exist. Reconcile before retrying.
	ClassAmbiguous Class = "ambiguous"
	// ClassPartialSaga: the blob is stored but not recorded. CID is set.
	ClassPartialSaga Class = "partial_saga"
	// ClassIntegrity: stored content is unusable (empty, undecryptable).
	ClassIntegrity Class = "integrity"
)

// Step names a stage of the upload or retrieve saga.
type Step string

const (
	StepValidate     Step = "validate"
	StepKeyFetch     Step = "key_fetch"
	StepHash         Step = "hash"
	StepEncrypt      Step = "encrypt"
	StepStoreUpload  Step = "store_upload"
	StepLedgerRecord Step = "ledger_record"
	StepFetchBlob    Step = "fetch_blob"
	StepDecrypt      Step = "decrypt"
	StepLedgerList   Step = "ledger_list"
)

// ErrGroupMismatch is returned when a retrieval names a group other than the
// one its blob is expected to belong to.
var ErrGroupMismatch = errors.New("group does not match expected group")

// DecryptHint explains the usual cause of a decryption failure.
const DecryptHint = "the blob was most likely encrypted under a different group key, e.g. before a rotation or for another group"

// TransferError reports a failed saga together with every artifact produced
// before the failure.
type TransferError struct {
	Op            string
	Step          Step
	Class         Class
	CID           interfaces.CID
	TransactionID string
	FileHash      string
	Hint          string
	Err           error
}

func (e *TransferError) Error() string {
	msg := fmt.Sprintf("%s failed at %s (%s)", e.Op, e.Step, e.Class)
	if e.CID != "" {
		msg += ", cid " + string(e.CID)
	}
	if e.TransactionID != "" {
		msg += ", transaction " + e.TransactionID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// ClassOf returns the class of err, or "" if it is not a *TransferError.
func ClassOf(err error) Class {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Class
	}
	return ""
}

// Classify maps component errors to a Class. Ledger timeouts are transient
// here; the record step handles them separately.
func Classify(err error) Class {
	switch {
	case errors.Is(err, interfaces.ErrAccessDenied),
		errors.Is(err, interfaces.ErrNoSuchGroup),
		errors.Is(err, interfaces.ErrUnauthorized),
		errors.Is(err, interfaces.ErrNoGroupKey):
		return ClassAuthorization
	case errors.Is(err, interfaces.ErrEmptyContent),
		errors.Is(err, interfaces.ErrMalformedBlob),
		errors.Is(err, interfaces.ErrPadding),
		errors.Is(err, interfaces.ErrDecryptionFailed):
		return ClassIntegrity
	case errors.Is(err, interfaces.ErrInvalidKey),
		errors.Is(err, interfaces.ErrInvalidContentID),
		errors.Is(err, interfaces.ErrContentNotFound),
		errors.Is(err, interfaces.ErrStoreRejected),
		errors.Is(err, interfaces.ErrInvalidCredentials),
		errors.Is(err, interfaces.ErrLedgerRejected),
		errors.Is(err, interfaces.ErrGroupAlreadyExists),
		errors.Is(err, interfaces.ErrAlreadyMember),
		errors.Is(err, interfaces.ErrNotAMember),
		errors.Is(err, ErrGroupMismatch):
		return ClassValidation
	default:
		return ClassTransient
	}
}
