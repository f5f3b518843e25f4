package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ruteri/groupshare/interfaces"
)

const (
	DefaultPinningEndpoint = "https://api.pinata.cloud/pinning/pinFileToIPFS"
	DefaultGateway         = "https://gateway.pinata.cloud/ipfs"
	DefaultFallbackGateway = "https://ipfs.io/ipfs"

	// maxErrorBody caps how much of an error response is kept for diagnostics.
	maxErrorBody = 512
)

// PinningConfig configures a PinningClient.
type PinningConfig struct {
	// Endpoint is the multipart upload URL of the pinning service.
	Endpoint string
	// APIKey and APISecret are sent as pinata_api_key / pinata_secret_api_key.
	APIKey    string
	APISecret string
	// JWT, when set, is sent as a bearer token instead of the key pair.
	JWT string

	Gateway         string
	FallbackGateway string
	CIDPrefix       string

	Retry          RetryPolicy
	RequestTimeout time.Duration
}

// PinningClient stores blobs through an IPFS pinning service and reads them
// back through HTTP gateways.
type PinningClient struct {
	cfg        PinningConfig
	httpClient *http.Client
	log        *slog.Logger
}

// NewPinningClient creates a pinning service client. Empty endpoint and
// gateway settings fall back to the Pinata defaults.
func NewPinningClient(cfg PinningConfig, log *slog.Logger) (*PinningClient, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultPinningEndpoint
	}
	if cfg.Gateway == "" {
		cfg.Gateway = DefaultGateway
	}
	if cfg.CIDPrefix == "" {
		cfg.CIDPrefix = DefaultCIDPrefix
	}
	if cfg.JWT == "" && (cfg.APIKey == "" || cfg.APISecret == "") {
		return nil, fmt.Errorf("%w: pinning service needs an API key and secret or a JWT", interfaces.ErrInvalidCredentials)
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}
	for _, u := range []string{cfg.Endpoint, cfg.Gateway, cfg.FallbackGateway} {
		if u == "" {
			continue
		}
		if err := validateHTTPURL(u); err != nil {
			return nil, err
		}
	}

	if log == nil {
		log = slog.Default()
	}

	cfg.Gateway = strings.TrimRight(cfg.Gateway, "/")
	cfg.FallbackGateway = strings.TrimRight(cfg.FallbackGateway, "/")

	return &PinningClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		log:        log,
	}, nil
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// Upload posts the blob to the pinning service and returns its CID once the
// primary gateway confirms the content is retrievable. Rate limiting and server
// errors are retried; other rejections fail immediately with ErrStoreRejected.
// A CID that fails the pin check is not returned.
func (c *PinningClient) Upload(ctx context.Context, blob []byte, name string) (interfaces.CID, error) {
	start := time.Now()
	if name == "" {
		name = "blob"
	}

	body, contentType, err := multipartBody(blob, name)
	if err != nil {
		return "", err
	}

	id, err := withRetry(ctx, c.cfg.Retry, "upload", c.log, func() (interfaces.CID, error) {
		return c.pin(ctx, body, contentType)
	})
	if err != nil {
		return "", c.storeError(ctx, "upload", err)
	}

	if err := c.checkPinned(ctx, id); err != nil {
		c.log.Error("Uploaded content failed pin validation",
			slog.String("cid", string(id)),
			slog.String("gateway", c.cfg.Gateway),
			"err", err)
		return "", err
	}

	c.log.Debug("Uploaded content to pinning service",
		slog.String("cid", string(id)),
		slog.String("name", name),
		slog.Int("size", len(blob)),
		slog.Duration("duration", time.Since(start)))

	return id, nil
}

func (c *PinningClient) pin(ctx context.Context, body []byte, contentType string) (interfaces.CID, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", contentType)
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkStatus("upload", c.cfg.Endpoint, resp); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return "", backoff.Permanent(fmt.Errorf("%w: %w", interfaces.ErrStoreRejected, err))
		}
		return "", err
	}

	var out pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", backoff.Permanent(fmt.Errorf("%w: undecodable response: %v", interfaces.ErrStoreRejected, err))
	}

	id := interfaces.CID(out.IpfsHash)
	if err := ValidateCID(id, c.cfg.CIDPrefix); err != nil {
		return "", backoff.Permanent(err)
	}
	return id, nil
}

// checkPinned issues HEAD {gateway}/{cid} until it answers 2xx or the retry
// policy gives up.
func (c *PinningClient) checkPinned(ctx context.Context, id interfaces.CID) error {
	target := c.cfg.Gateway + "/" + string(id)

	_, err := withRetry(ctx, c.cfg.Retry, "pin-check", c.log, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		resp.Body.Close()

		if err := checkStatus("pin-check", target, resp); err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) && !statusErr.Retryable() {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %s: %w", interfaces.ErrPinValidation, id, ctxErr)
		}
		return fmt.Errorf("%w: %s: %w", interfaces.ErrPinValidation, id, err)
	}
	return nil
}

// Retrieve validates the CID and fetches it from the primary gateway, then from
// the fallback gateway. A 4xx answer aborts without trying the fallback.
func (c *PinningClient) Retrieve(ctx context.Context, id interfaces.CID) ([]byte, error) {
	if err := c.ValidateCID(id); err != nil {
		return nil, err
	}

	gateways := []string{c.cfg.Gateway}
	if c.cfg.FallbackGateway != "" && c.cfg.FallbackGateway != c.cfg.Gateway {
		gateways = append(gateways, c.cfg.FallbackGateway)
	}

	var lastErr error
	for _, gateway := range gateways {
		start := time.Now()
		target := gateway + "/" + string(id)

		data, err := withRetry(ctx, c.cfg.Retry, "retrieve", c.log, func() ([]byte, error) {
			return c.fetch(ctx, target)
		})
		if err == nil {
			c.log.Debug("Fetched content from gateway",
				slog.String("cid", string(id)),
				slog.String("gateway", gateway),
				slog.Int("size", len(data)),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}

		if errors.Is(err, interfaces.ErrInvalidContentID) || errors.Is(err, interfaces.ErrEmptyContent) || ctx.Err() != nil {
			return nil, c.storeError(ctx, "retrieve", err)
		}

		c.log.Warn("Gateway unavailable, trying next",
			slog.String("cid", string(id)),
			slog.String("gateway", gateway),
			"err", err)
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %w", interfaces.ErrStoreUnavailable, lastErr)
}

func (c *PinningClient) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus("retrieve", target, resp); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			if statusErr.StatusCode == http.StatusNotFound {
				return nil, backoff.Permanent(fmt.Errorf("%w: %w: %w", interfaces.ErrInvalidContentID, interfaces.ErrContentNotFound, err))
			}
			return nil, backoff.Permanent(fmt.Errorf("%w: %w", interfaces.ErrInvalidContentID, err))
		}
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(data) == 0 {
		return nil, backoff.Permanent(fmt.Errorf("%w: %s", interfaces.ErrEmptyContent, target))
	}
	return data, nil
}

// ValidateCID checks id against the configured CID prefix.
func (c *PinningClient) ValidateCID(id interfaces.CID) error {
	return ValidateCID(id, c.cfg.CIDPrefix)
}

// Name returns a unique identifier for this content store.
func (c *PinningClient) Name() string {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "pinning"
	}
	return "pinning-" + u.Host
}

func (c *PinningClient) authorize(req *http.Request) {
	if c.cfg.JWT != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.JWT)
		return
	}
	req.Header.Set("pinata_api_key", c.cfg.APIKey)
	req.Header.Set("pinata_secret_api_key", c.cfg.APISecret)
}

// storeError wraps an error that escaped the retry loop. Terminal errors keep
// their kind; transient ones become ErrStoreUnavailable.
func (c *PinningClient) storeError(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, interfaces.ErrInvalidContentID),
		errors.Is(err, interfaces.ErrStoreRejected),
		errors.Is(err, interfaces.ErrEmptyContent):
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %s: %w", interfaces.ErrStoreUnavailable, op, ctx.Err())
	default:
		return fmt.Errorf("%w: %s: %w", interfaces.ErrStoreUnavailable, op, err)
	}
}

func checkStatus(op, target string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Op:         op,
		URL:        target,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

func multipartBody(blob []byte, name string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := part.Write(blob); err != nil {
		return nil, "", fmt.Errorf("failed to write multipart part: %w", err)
	}

	metadata, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return nil, "", err
	}
	if err := w.WriteField("pinataMetadata", string(metadata)); err != nil {
		return nil, "", fmt.Errorf("failed to write multipart metadata: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid URL %q: must be an absolute http(s) URL", raw)
	}
	return nil
}
