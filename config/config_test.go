package config

import (
	"context"
	"testing"
	"time"

	"github.com/ruteri/groupshare/interfaces"
	"github.com/ruteri/groupshare/ledger"
	"github.com/ruteri/groupshare/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPinning() storage.Options {
	return storage.Options{
		Location:  "pinata://api.pinata.cloud",
		APIKey:    "key",
		APISecret: "secret",
		Gateway:   "https://gateway.pinata.cloud/ipfs",
		Retry:     storage.DefaultRetryPolicy,
	}
}

func TestConfig_Validate(t *testing.T) {
	evm := ledger.Options{
		Backend:    ledger.BackendEVM,
		RPCURL:     "http://127.0.0.1:8545",
		Contract:   "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		SigningKey: "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{
			name:    "short signing key",
			mutate:  func(c *Config) { c.Ledger.SigningKey = "4c0883a6" },
			wantErr: interfaces.ErrInvalidCredentials,
		},
		{
			name:    "non-hex signing key",
			mutate:  func(c *Config) { c.Ledger.SigningKey = "zz0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318" },
			wantErr: interfaces.ErrInvalidCredentials,
		},
		{
			name:   "bad contract",
			mutate: func(c *Config) { c.Ledger.Contract = "group-registry.near" },
		},
		{
			name:    "missing store credentials",
			mutate:  func(c *Config) { c.Store.APISecret = "" },
			wantErr: interfaces.ErrInvalidCredentials,
		},
		{
			name:   "relative gateway",
			mutate: func(c *Config) { c.Store.Gateway = "gateway.pinata.cloud/ipfs" },
		},
		{
			name:   "zero retry delay",
			mutate: func(c *Config) { c.Store.Retry.BaseDelay = 0 },
		},
		{
			name:    "short admin token",
			mutate:  func(c *Config) { c.Auth.AdminToken = "admin" },
			wantErr: interfaces.ErrInvalidCredentials,
		},
		{
			name:    "short user token secret",
			mutate:  func(c *Config) { c.Auth.UserTokenSecret = "too-short-for-hs256" },
			wantErr: interfaces.ErrInvalidCredentials,
		},
		{
			name:   "negative saga timeout",
			mutate: func(c *Config) { c.SagaTimeout = -time.Second },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{Ledger: evm, Store: validPinning(), SagaTimeout: time.Minute}
			tt.mutate(c)
			err := c.Validate()

			if tt.name == "valid" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Open(t *testing.T) {
	ctx := context.Background()
	c := &Config{
		Ledger:      ledger.Options{Backend: ledger.BackendMemory, Owner: "owner"},
		Store:       storage.Options{Location: "file://" + t.TempDir()},
		SagaTimeout: time.Second,
	}

	p, err := c.Open(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, p.Keys.ProvisionGroup(ctx, "g", nil))
	require.NoError(t, p.Keys.AddMember(ctx, "g", "alice"))

	up, err := p.Orchestrator.Upload(ctx, "g", "alice", []byte("hello world"), "f.txt")
	require.NoError(t, err)

	records, err := p.Ledger.ListTransactions(ctx, "g", "alice")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, up.TransactionID, records[0].TransactionID)
}
