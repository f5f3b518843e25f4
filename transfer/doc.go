// Package transfer composes key management, encryption, content storage and
// the ledger into the two group file operations.
//
// Upload runs these steps in order, each consuming the previous one's output:
//
//	key_fetch -> hash -> encrypt -> store_upload -> ledger_record
//
// Retrieve runs:
//
//	key_fetch -> (ledger_list) -> fetch_blob -> decrypt -> verify
//
// There is no cross-system transaction. Every failure is a *TransferError
// naming the step, a Class, and the artifacts already produced, so the caller
// can tell an outright failure (ClassValidation, ClassAuthorization,
// ClassTransient) from an orphaned blob (ClassPartialSaga) or an unknown
// ledger outcome (ClassAmbiguous). Ambiguous uploads are resolved with
// Reconcile. Retrying blindly may produce a second record for the same CID,
// which is tolerated.
//
// A saga timeout bounds each operation as a whole, not each step.
package transfer
