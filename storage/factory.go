package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/groupshare/interfaces"
)

// Options selects and configures a content store.
type Options struct {
	// Location is the store URI, see NewContentStore.
	Location string

	APIKey    string
	APISecret string
	JWT       string

	Gateway         string
	FallbackGateway string
	CIDPrefix       string

	Retry          RetryPolicy
	RequestTimeout time.Duration
}

// Validate checks the options without contacting the store.
func (o Options) Validate() error {
	loc, err := interfaces.NewStoreLocation(o.Location)
	if err != nil {
		return err
	}
	switch loc.Scheme {
	case "s3":
		if loc.Host == "" {
			return errors.New("S3 store URI needs a bucket")
		}
		if o.APIKey == "" || o.APISecret == "" {
			return fmt.Errorf("%w: S3 store needs an access key and secret", interfaces.ErrInvalidCredentials)
		}
		return o.Retry.Validate()
	case "pinata":
	default:
		return nil
	}

	if o.JWT == "" && (o.APIKey == "" || o.APISecret == "") {
		return fmt.Errorf("%w: pinning service needs an API key and secret or a JWT", interfaces.ErrInvalidCredentials)
	}
	if err := o.Retry.Validate(); err != nil {
		return err
	}
	for _, u := range []string{o.Gateway, o.FallbackGateway} {
		if u == "" {
			continue
		}
		if err := validateHTTPURL(u); err != nil {
			return err
		}
	}
	return nil
}

// NewContentStore creates a content store from the options' location URI.
//
// Supported schemes:
//   - pinata://api.pinata.cloud[/pinning/pinFileToIPFS][?insecure=true] - pinning service + gateways
//   - ipfs://host[:port][?timeout=30s] - IPFS node HTTP API
//   - s3://bucket[/prefix][?region=r&endpoint=url] - S3 or S3-compatible bucket
//   - file:///absolute/path/ or file://./relative/path/ - local directory (development)
func NewContentStore(opts Options, log *slog.Logger) (interfaces.ContentStore, error) {
	if log == nil {
		log = slog.Default()
	}

	u, err := url.Parse(opts.Location)
	if err != nil {
		return nil, fmt.Errorf("invalid store URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "pinata":
		return createPinningClient(u, opts, log)
	case "ipfs":
		return createIPFSNodeStore(u, opts, log)
	case "s3":
		return createS3Store(u, opts, log)
	case "file":
		return createFileStore(u, log)
	default:
		return nil, fmt.Errorf("unsupported store scheme: %q", u.Scheme)
	}
}

// createPinningClient builds the pinning endpoint from the URI host and path.
// URI format: pinata://api.pinata.cloud/pinning/pinFileToIPFS
func createPinningClient(u *url.URL, opts Options, log *slog.Logger) (interfaces.ContentStore, error) {
	log.Debug("Creating pinning service store", slog.String("uri", u.Redacted()))

	if u.Host == "" {
		return nil, errors.New("pinning service URI needs a host")
	}

	scheme := "https"
	if u.Query().Get("insecure") == "true" {
		scheme = "http"
	}
	path := u.Path
	if path == "" || path == "/" {
		path = "/pinning/pinFileToIPFS"
	}

	return NewPinningClient(PinningConfig{
		Endpoint:        fmt.Sprintf("%s://%s%s", scheme, u.Host, path),
		APIKey:          opts.APIKey,
		APISecret:       opts.APISecret,
		JWT:             opts.JWT,
		Gateway:         opts.Gateway,
		FallbackGateway: opts.FallbackGateway,
		CIDPrefix:       opts.CIDPrefix,
		Retry:           opts.Retry,
		RequestTimeout:  opts.RequestTimeout,
	}, log)
}

// createIPFSNodeStore creates an IPFS node store.
// URI format: ipfs://host:port/?timeout=30s
func createIPFSNodeStore(u *url.URL, opts Options, log *slog.Logger) (interfaces.ContentStore, error) {
	log.Debug("Creating IPFS node store", slog.String("uri", u.String()))

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "5001" // Default IPFS API port
	}

	timeout := opts.RequestTimeout
	if raw := u.Query().Get("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", raw, err)
		}
		timeout = parsed
	}

	return NewIPFSNodeStore(host, port, timeout, log), nil
}

// createS3Store creates an S3 store. The API key and secret are the access
// key pair.
// URI format: s3://bucket/prefix?region=us-east-1&endpoint=http://minio:9000
func createS3Store(u *url.URL, opts Options, log *slog.Logger) (interfaces.ContentStore, error) {
	log.Debug("Creating S3 store", slog.String("uri", u.Redacted()))

	return NewS3Store(S3Config{
		Bucket:         u.Host,
		Prefix:         u.Path,
		Region:         u.Query().Get("region"),
		Endpoint:       u.Query().Get("endpoint"),
		AccessKey:      opts.APIKey,
		SecretKey:      opts.APISecret,
		Retry:          opts.Retry,
		RequestTimeout: opts.RequestTimeout,
	}, log)
}

// createFileStore creates a file system store.
// URI format: file:///absolute/path/ or file://./relative/path/
func createFileStore(u *url.URL, log *slog.Logger) (interfaces.ContentStore, error) {
	log.Debug("Creating file store", slog.String("uri", u.String()))

	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}

	if path == "" {
		return nil, fmt.Errorf("empty path in file URI: %s", u.String())
	}

	return NewFileStore(path, log)
}
