package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/groupshare/interfaces"
)

// FileStore is a content store on the local file system for development and
// tests. Blobs are written under their CIDv0, so identical blobs share a file.
type FileStore struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileStore creates a file store rooted at baseDir, creating it if needed.
func NewFileStore(baseDir string, log *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	return &FileStore{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Upload writes the blob and returns its CID.
func (b *FileStore) Upload(ctx context.Context, blob []byte, name string) (interfaces.CID, error) {
	id, err := ComputeCID(blob)
	if err != nil {
		return "", err
	}

	filePath := filepath.Join(b.baseDir, string(id))
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, blob, 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		return "", fmt.Errorf("failed to move file into place: %w", err)
	}

	b.log.Debug("Stored content in file",
		slog.String("path", filePath),
		slog.String("cid", string(id)),
		slog.String("name", name))

	return id, nil
}

// Retrieve reads the blob stored under id.
// Returns ErrContentNotFound if the file doesn't exist.
func (b *FileStore) Retrieve(ctx context.Context, id interfaces.CID) ([]byte, error) {
	if err := b.ValidateCID(id); err != nil {
		return nil, err
	}

	filePath := filepath.Join(b.baseDir, string(id))
	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrContentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrEmptyContent, id)
	}

	b.log.Debug("Fetched content from file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return data, nil
}

// ValidateCID accepts the CIDv0 identifiers this store computes.
func (b *FileStore) ValidateCID(id interfaces.CID) error {
	return ValidateCID(id, DefaultCIDPrefix)
}

// Name returns a unique identifier for this content store.
func (b *FileStore) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this content store.
func (b *FileStore) LocationURI() string {
	return b.locationURI
}
