package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ipfs/boxo/files"
	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/groupshare/interfaces"
)

// IPFSNodeStore stores blobs on an IPFS node through its HTTP API.
// Content is added with pinning enabled and the pin is confirmed before the
// CID is returned.
type IPFSNodeStore struct {
	shell       *shell.Shell
	host        string
	port        string
	cidPrefix   string
	log         *slog.Logger
	locationURI string
}

// NewIPFSNodeStore creates a content store connected to the IPFS API at host:port.
func NewIPFSNodeStore(host, port string, timeout time.Duration, log *slog.Logger) *IPFSNodeStore {
	apiURL := fmt.Sprintf("%s:%s", host, port)

	sh := shell.NewShell(apiURL)
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}
	if log == nil {
		log = slog.Default()
	}

	return &IPFSNodeStore{
		shell:       sh,
		host:        host,
		port:        port,
		cidPrefix:   DefaultCIDPrefix,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s/?timeout=%s", apiURL, timeout),
	}
}

type pinLsResponse struct {
	Keys map[string]struct {
		Type string
	}
}

type addResponse struct {
	Hash string
}

// ping queries the node version within ctx.
func (b *IPFSNodeStore) ping(ctx context.Context) error {
	var ver struct {
		Version string
	}
	if err := b.shell.Request("version").Exec(ctx, &ver); err != nil {
		b.log.Warn("IPFS node unavailable",
			slog.String("host", b.host),
			slog.String("port", b.port),
			"err", err)
		return fmt.Errorf("%w: %w", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// Upload adds and pins the blob, then confirms the pin is listed by the node.
// Returns ErrStoreUnavailable if the IPFS node is not accessible.
func (b *IPFSNodeStore) Upload(ctx context.Context, blob []byte, name string) (interfaces.CID, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", interfaces.ErrStoreUnavailable, err)
	}
	if err := b.ping(ctx); err != nil {
		return "", err
	}

	dir := files.NewSliceDirectory([]files.DirEntry{files.FileEntry("", files.NewBytesFile(blob))})
	var added addResponse
	err := b.shell.Request("add").
		Option("pin", true).
		Body(files.NewMultiFileReader(dir, true, false)).
		Exec(ctx, &added)
	if err != nil {
		return "", fmt.Errorf("%w: failed to add data to IPFS: %w", interfaces.ErrStoreUnavailable, err)
	}
	hash := added.Hash
	if hash == "" {
		return "", fmt.Errorf("%w: IPFS node returned no hash", interfaces.ErrStoreUnavailable)
	}
	id := interfaces.CID(hash)

	var pins pinLsResponse
	err = b.shell.Request("pin/ls", hash).Option("type", "recursive").Exec(ctx, &pins)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", interfaces.ErrPinValidation, hash, err)
	}
	if _, ok := pins.Keys[hash]; !ok {
		return "", fmt.Errorf("%w: %s is not pinned", interfaces.ErrPinValidation, hash)
	}

	b.log.Debug("Stored content in IPFS",
		slog.String("cid", hash),
		slog.String("name", name),
		slog.Int("size", len(blob)),
		slog.Duration("duration", time.Since(start)))

	return id, nil
}

// Retrieve reads content from IPFS by CID.
// Returns ErrContentNotFound if the node does not know the content.
func (b *IPFSNodeStore) Retrieve(ctx context.Context, id interfaces.CID) ([]byte, error) {
	start := time.Now()

	if err := b.ValidateCID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrStoreUnavailable, err)
	}
	if err := b.ping(ctx); err != nil {
		return nil, err
	}

	resp, err := b.shell.Request("cat", "/ipfs/"+string(id)).Send(ctx)
	if err == nil && resp.Error != nil {
		resp.Close()
		err = resp.Error
	}
	if err != nil {
		if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "no link named") {
			b.log.Debug("Content not found in IPFS",
				slog.String("cid", string(id)),
				slog.Duration("duration", time.Since(start)))
			return nil, fmt.Errorf("%w: %s", interfaces.ErrContentNotFound, id)
		}
		return nil, fmt.Errorf("%w: failed to fetch data from IPFS: %w", interfaces.ErrStoreUnavailable, err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp.Output)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read data from IPFS: %w", interfaces.ErrStoreUnavailable, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrEmptyContent, id)
	}

	b.log.Debug("Fetched content from IPFS",
		slog.String("cid", string(id)),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// ValidateCID checks id against the node's CID prefix.
func (b *IPFSNodeStore) ValidateCID(id interfaces.CID) error {
	return ValidateCID(id, b.cidPrefix)
}

// Name returns a unique identifier for this content store.
func (b *IPFSNodeStore) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

// LocationURI returns the URI that identifies this content store.
func (b *IPFSNodeStore) LocationURI() string {
	return b.locationURI
}
