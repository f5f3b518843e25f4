// Package config assembles the transfer pipeline from validated settings.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/groupshare/httpserver"
	"github.com/ruteri/groupshare/interfaces"
	"github.com/ruteri/groupshare/kms"
	"github.com/ruteri/groupshare/ledger"
	"github.com/ruteri/groupshare/storage"
	"github.com/ruteri/groupshare/transfer"
)

const (
	DefaultSagaTimeout    = 2 * time.Minute
	DefaultMaxUploadBytes = 100 << 20
)

// Config holds everything needed to run the pipeline.
type Config struct {
	Ledger ledger.Options
	Store  storage.Options
	// Auth holds the service adapter credentials.
	Auth httpserver.AuthConfig

	// SagaTimeout bounds one upload or retrieval as a whole. Zero disables it.
	SagaTimeout time.Duration
	// MaxUploadBytes caps plaintext accepted by the service adapter.
	MaxUploadBytes int64
}

// Validate checks the configuration without any network access.
func (c *Config) Validate() error {
	if err := c.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if c.SagaTimeout < 0 {
		return errors.New("saga timeout must not be negative")
	}
	if c.MaxUploadBytes < 0 {
		return errors.New("max upload size must not be negative")
	}
	return nil
}

// Pipeline is the wired set of components.
type Pipeline struct {
	Backend      interfaces.LedgerBackend
	Ledger       *ledger.Client
	Keys         *kms.KeyManager
	Store        interfaces.ContentStore
	Orchestrator *transfer.Orchestrator
}

// Open resolves Vault references, validates c and connects the pipeline.
// Vault is reached through VAULT_ADDR and VAULT_TOKEN.
func (c *Config) Open(ctx context.Context, log *slog.Logger) (*Pipeline, error) {
	if log == nil {
		log = slog.Default()
	}
	if c.HasSecretRefs() {
		resolver, err := NewSecretResolver("", "")
		if err != nil {
			return nil, err
		}
		if err := c.ResolveSecrets(ctx, resolver); err != nil {
			return nil, err
		}
		log.Debug("Resolved secrets from Vault")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	fee, err := c.Ledger.Fee()
	if err != nil {
		return nil, err
	}

	backend, err := ledger.NewBackend(ctx, c.Ledger, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger: %w", err)
	}

	store, err := storage.NewContentStore(c.Store, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create content store: %w", err)
	}

	client := ledger.NewClient(backend, fee, log)
	keys := kms.NewKeyManager(client, log)

	log.Info("Pipeline ready",
		slog.String("ledger", c.Ledger.Backend),
		slog.String("store", store.Name()),
		slog.Duration("sagaTimeout", c.SagaTimeout))

	return &Pipeline{
		Backend:      backend,
		Ledger:       client,
		Keys:         keys,
		Store:        store,
		Orchestrator: transfer.NewOrchestrator(keys, store, client, c.SagaTimeout, log),
	}, nil
}
