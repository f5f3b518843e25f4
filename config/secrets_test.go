package config

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newFakeVault(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"errors":["permission denied"]}`))
			return
		}
		if r.Method != http.MethodGet || r.URL.Path != "/v1/secret/data/groupshare" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"errors":[]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"data": map[string]interface{}{
					"signing_key": testSigningKey,
					"pinata_jwt":  "jwt-token",
					"admin_token": "admin-token-from-vault",
					"retries":     3,
				},
				"metadata": map[string]interface{}{
					"created_time":  "2024-01-01T00:00:00Z",
					"deletion_time": "",
					"destroyed":     false,
					"version":       1,
				},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSecretResolver(t *testing.T) {
	srv := newFakeVault(t)
	r, err := NewSecretResolver(srv.URL, "root")
	require.NoError(t, err)
	ctx := context.Background()

	v, err := r.Resolve(ctx, "plain-value")
	require.NoError(t, err)
	assert.Equal(t, "plain-value", v)

	v, err = r.Resolve(ctx, "vault:secret/groupshare#signing_key")
	require.NoError(t, err)
	assert.Equal(t, testSigningKey, v)

	_, err = r.Resolve(ctx, "vault:secret/groupshare#missing")
	require.Error(t, err)

	_, err = r.Resolve(ctx, "vault:secret/groupshare#retries")
	require.Error(t, err)

	_, err = r.Resolve(ctx, "vault:secret/other#signing_key")
	require.Error(t, err)

	for _, bad := range []string{"vault:secret/groupshare", "vault:secret#field", "vault:/#x"} {
		_, err = r.Resolve(ctx, bad)
		require.Error(t, err, bad)
	}
}

func TestConfig_ResolveSecrets(t *testing.T) {
	srv := newFakeVault(t)
	r, err := NewSecretResolver(srv.URL, "root")
	require.NoError(t, err)

	c := &Config{}
	c.Ledger.SigningKey = "vault:secret/groupshare#signing_key"
	c.Store.JWT = "vault:secret/groupshare#pinata_jwt"
	c.Store.APIKey = "literal"
	c.Auth.AdminToken = "vault:secret/groupshare#admin_token"
	require.True(t, c.HasSecretRefs())

	require.NoError(t, c.ResolveSecrets(context.Background(), r))
	assert.Equal(t, testSigningKey, c.Ledger.SigningKey)
	assert.Equal(t, "jwt-token", c.Store.JWT)
	assert.Equal(t, "admin-token-from-vault", c.Auth.AdminToken)
	assert.Equal(t, "literal", c.Store.APIKey)
	assert.False(t, c.HasSecretRefs())

	denied, err := NewSecretResolver(srv.URL, "wrong")
	require.NoError(t, err)
	c.Store.APISecret = "vault:secret/groupshare#pinata_jwt"
	require.Error(t, c.ResolveSecrets(context.Background(), denied))
}
