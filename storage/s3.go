package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/cenkalti/backoff/v4"
	"github.com/ruteri/groupshare/interfaces"
)

// S3Config configures an S3Store.
type S3Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint selects an S3-compatible service. Empty means AWS.
	Endpoint  string
	AccessKey string
	SecretKey string

	Retry          RetryPolicy
	RequestTimeout time.Duration
}

// S3Store keeps blobs in an S3 bucket under their CIDv0, like FileStore.
// The CID is computed locally, so it does not match the UnixFS CID an IPFS
// node would assign to the same bytes.
type S3Store struct {
	client      *s3.S3
	cfg         S3Config
	log         *slog.Logger
	locationURI string
}

// NewS3Store creates an S3 content store. Credentials are required since
// uploads are always written.
func NewS3Store(cfg S3Config, log *slog.Logger) (*S3Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Bucket == "" {
		return nil, errors.New("S3 bucket is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: S3 store needs an access key and secret", interfaces.ErrInvalidCredentials)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	awsCfg := aws.NewConfig().
		WithRegion(cfg.Region).
		WithCredentials(credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")).
		WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}).
		// Retries are driven by the store's retry policy.
		WithMaxRetries(0)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	uri := fmt.Sprintf("s3://%s/%s?region=%s", cfg.Bucket, cfg.Prefix, cfg.Region)
	if cfg.Endpoint != "" {
		uri += "&endpoint=" + cfg.Endpoint
	}

	return &S3Store{
		client:      s3.New(sess),
		cfg:         cfg,
		log:         log,
		locationURI: uri,
	}, nil
}

// Upload writes the blob under its CID and returns the CID.
func (b *S3Store) Upload(ctx context.Context, blob []byte, name string) (interfaces.CID, error) {
	id, err := ComputeCID(blob)
	if err != nil {
		return "", err
	}
	key := b.objectKey(id)

	_, err = withRetry(ctx, b.cfg.Retry, "upload", b.log, func() (struct{}, error) {
		_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(b.cfg.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(blob),
			ContentType: aws.String("application/octet-stream"),
			Metadata:    map[string]*string{"Filename": aws.String(name)},
		})
		return struct{}{}, classifyS3Error(err, false)
	})
	if err != nil {
		return "", b.storeError(ctx, "upload", err)
	}

	b.log.Debug("Stored content in S3",
		slog.String("bucket", b.cfg.Bucket),
		slog.String("key", key),
		slog.String("cid", string(id)),
		slog.String("name", name))

	return id, nil
}

// Retrieve reads the blob stored under id.
func (b *S3Store) Retrieve(ctx context.Context, id interfaces.CID) ([]byte, error) {
	if err := b.ValidateCID(id); err != nil {
		return nil, err
	}
	start := time.Now()
	key := b.objectKey(id)

	data, err := withRetry(ctx, b.cfg.Retry, "retrieve", b.log, func() ([]byte, error) {
		out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.cfg.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, classifyS3Error(err, true)
		}
		defer out.Body.Close()
		return io.ReadAll(out.Body)
	})
	if err != nil {
		return nil, b.storeError(ctx, "retrieve", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrEmptyContent, id)
	}

	b.log.Debug("Fetched content from S3",
		slog.String("bucket", b.cfg.Bucket),
		slog.String("key", key),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// ValidateCID accepts the CIDv0 identifiers this store computes.
func (b *S3Store) ValidateCID(id interfaces.CID) error {
	return ValidateCID(id, DefaultCIDPrefix)
}

// Name returns a unique identifier for this content store.
func (b *S3Store) Name() string {
	return fmt.Sprintf("s3-%s", b.cfg.Bucket)
}

// LocationURI returns the URI that identifies this content store.
func (b *S3Store) LocationURI() string {
	return b.locationURI
}

func (b *S3Store) objectKey(id interfaces.CID) string {
	if b.cfg.Prefix == "" {
		return string(id)
	}
	return path.Join(b.cfg.Prefix, string(id))
}

func (b *S3Store) storeError(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, interfaces.ErrContentNotFound),
		errors.Is(err, interfaces.ErrInvalidContentID),
		errors.Is(err, interfaces.ErrStoreRejected):
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %s: %w", interfaces.ErrStoreUnavailable, op, ctx.Err())
	default:
		return fmt.Errorf("%w: %s: %w", interfaces.ErrStoreUnavailable, op, err)
	}
}

// classifyS3Error marks 4xx responses as permanent. On retrieval a missing
// object wraps both ErrInvalidContentID and ErrContentNotFound and other 4xx
// wrap ErrInvalidContentID; on upload every 4xx is ErrStoreRejected.
func classifyS3Error(err error, retrieve bool) error {
	if err == nil {
		return nil
	}
	var reqErr awserr.RequestFailure
	if !errors.As(err, &reqErr) {
		return err
	}

	status := reqErr.StatusCode()
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return err
	case status < 400:
		return err
	case !retrieve:
		return backoff.Permanent(fmt.Errorf("%w: %v", interfaces.ErrStoreRejected, err))
	case status == http.StatusNotFound || reqErr.Code() == s3.ErrCodeNoSuchKey:
		return backoff.Permanent(fmt.Errorf("%w: %w: %v", interfaces.ErrInvalidContentID, interfaces.ErrContentNotFound, err))
	default:
		return backoff.Permanent(fmt.Errorf("%w: %v", interfaces.ErrInvalidContentID, err))
	}
}
