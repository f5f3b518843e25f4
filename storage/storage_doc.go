// Package storage provides content-addressed blob stores for encrypted group files.
//
// Every store implements interfaces.ContentStore:
//
//	type ContentStore interface {
//	    Upload(ctx context.Context, blob []byte, name string) (CID, error)
//	    Retrieve(ctx context.Context, cid CID) ([]byte, error)
//	    Name() string
//	}
//
// Four implementations are available:
//
//   - PinningClient: an IPFS pinning service (Pinata protocol) plus HTTP gateways
//   - IPFSNodeStore: the HTTP API of a local or remote IPFS node
//   - S3Store: an S3 or S3-compatible bucket, objects keyed by locally computed CIDv0
//   - FileStore: a local directory, for development and tests
//
// # Store URI Format
//
// Stores are selected with a location URI:
//
//	pinata://api.pinata.cloud
//	ipfs://127.0.0.1:5001/?timeout=30s
//	s3://bucket/prefix?region=us-east-1&endpoint=http://127.0.0.1:9000
//	file:///var/lib/groupshare/blobs
//
// # Upload
//
// PinningClient posts the blob as the multipart field "file" and authenticates
// with the pinata_api_key / pinata_secret_api_key headers or a bearer JWT.
// A reported success is not trusted until HEAD {gateway}/{cid} answers 2xx;
// if that pin check fails the upload fails and the CID is not returned.
//
// # Retrieve
//
// CIDs are checked against the configured prefix ("Qm" by default) and decoded
// before any network call. Content is fetched from the primary gateway and, if
// that gateway stays unavailable, from the fallback gateway. A 4xx answer other
// than 429 is ErrInvalidContentID and is neither retried nor sent to the fallback.
// A 200 with an empty body is ErrEmptyContent.
//
// # Retry
//
// Rate limiting (429), server errors (5xx) and transport errors are retried
// with exponential backoff, BaseDelay * 2^attempt, up to RetryPolicy.MaxRetries
// times. The loop stops early when the caller's context is done. Exhausting the
// policy yields ErrStoreUnavailable.
package storage
