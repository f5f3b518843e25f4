package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/vault/api"
)

// VaultPrefix marks a secret setting as a Vault KV v2 reference:
//
//	vault:<mount>/<path>#<field>
const VaultPrefix = "vault:"

// SecretResolver reads referenced secrets from Vault.
type SecretResolver struct {
	client *api.Client
}

// NewSecretResolver creates a resolver. Empty address and token fall back to
// VAULT_ADDR and VAULT_TOKEN.
func NewSecretResolver(address, token string) (*SecretResolver, error) {
	cfg := api.DefaultConfig()
	if cfg.Error != nil {
		return nil, fmt.Errorf("failed to read Vault environment: %w", cfg.Error)
	}
	if address != "" {
		cfg.Address = address
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}
	return &SecretResolver{client: client}, nil
}

// IsSecretRef reports whether value is a Vault reference.
func IsSecretRef(value string) bool {
	return strings.HasPrefix(value, VaultPrefix)
}

func parseSecretRef(ref string) (mount, path, field string, err error) {
	body := strings.TrimPrefix(ref, VaultPrefix)
	location, field, ok := strings.Cut(body, "#")
	if !ok || field == "" {
		return "", "", "", fmt.Errorf("secret reference %q has no #field", ref)
	}
	mount, path, ok = strings.Cut(strings.Trim(location, "/"), "/")
	if !ok || mount == "" || path == "" {
		return "", "", "", fmt.Errorf("secret reference %q must be vault:<mount>/<path>#<field>", ref)
	}
	return mount, path, field, nil
}

// Resolve returns value unchanged unless it is a Vault reference, in which
// case the referenced field is read.
func (r *SecretResolver) Resolve(ctx context.Context, value string) (string, error) {
	if !IsSecretRef(value) {
		return value, nil
	}
	mount, path, field, err := parseSecretRef(value)
	if err != nil {
		return "", err
	}

	secret, err := r.client.KVv2(mount).Get(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret %s/%s: %w", mount, path, err)
	}
	raw, ok := secret.Data[field]
	if !ok {
		return "", fmt.Errorf("secret %s/%s has no field %q", mount, path, field)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("secret %s/%s field %q is not a string", mount, path, field)
	}
	return s, nil
}

func (c *Config) secretFields() []*string {
	return []*string{
		&c.Ledger.SigningKey,
		&c.Store.APIKey, &c.Store.APISecret, &c.Store.JWT,
		&c.Auth.AdminToken, &c.Auth.UserTokenSecret, &c.Auth.TrustedProxyToken,
	}
}

// HasSecretRefs reports whether any credential setting is a Vault reference.
func (c *Config) HasSecretRefs() bool {
	for _, f := range c.secretFields() {
		if IsSecretRef(*f) {
			return true
		}
	}
	return false
}

// ResolveSecrets replaces Vault references in the credential settings.
func (c *Config) ResolveSecrets(ctx context.Context, r *SecretResolver) error {
	if r == nil {
		return errors.New("no secret resolver")
	}
	for _, f := range c.secretFields() {
		v, err := r.Resolve(ctx, *f)
		if err != nil {
			return err
		}
		*f = v
	}
	return nil
}
