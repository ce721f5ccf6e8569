// Package vaultclient builds authenticated HashiCorp Vault clients shared by
// the Transit key provider and the KV secret provider.
package vaultclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/hashicorp/vault/api"
	"github.com/hengadev/credhub"
)

// Config selects the Vault server and credentials. Empty fields fall back to
// the standard VAULT_* environment variables.
type Config struct {
	Address   string
	Namespace string
	Token     string
	RoleID    string
	SecretID  string
	// MaxRetries overrides the client's retry count on 5xx responses when non-negative.
	MaxRetries int
}

// FromEnvironment returns a Config populated from VAULT_ADDR, VAULT_NAMESPACE,
// VAULT_TOKEN, VAULT_ROLE_ID and VAULT_SECRET_ID.
func FromEnvironment() Config {
	return Config{
		Address:    os.Getenv("VAULT_ADDR"),
		Namespace:  os.Getenv("VAULT_NAMESPACE"),
		Token:      os.Getenv("VAULT_TOKEN"),
		RoleID:     os.Getenv("VAULT_ROLE_ID"),
		SecretID:   os.Getenv("VAULT_SECRET_ID"),
		MaxRetries: -1,
	}
}

// New creates a client and authenticates it. A token wins over AppRole
// credentials.
func New(ctx context.Context, cfg Config) (*api.Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: vault address is required (set VAULT_ADDR)", credhub.ErrInvalidConfiguration)
	}
	config := api.DefaultConfig()
	config.Address = cfg.Address
	config.HttpClient.Transport = &http.Transport{Proxy: http.ProxyFromEnvironment}
	if cfg.MaxRetries >= 0 {
		config.MaxRetries = cfg.MaxRetries
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("%w: create vault client: %w", credhub.ErrKMSUnavailable, err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	switch {
	case cfg.Token != "":
		client.SetToken(cfg.Token)
		return client, nil
	case cfg.RoleID != "" && cfg.SecretID != "":
		resp, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]any{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: approle login: %w", credhub.ErrAuthenticationFailed, err)
		}
		if resp == nil || resp.Auth == nil {
			return nil, fmt.Errorf("%w: approle login returned no auth", credhub.ErrAuthenticationFailed)
		}
		client.SetToken(resp.Auth.ClientToken)
		return client, nil
	default:
		return nil, fmt.Errorf("%w: no vault authentication configured (set VAULT_TOKEN or VAULT_ROLE_ID and VAULT_SECRET_ID)",
			credhub.ErrInvalidConfiguration)
	}
}

// StatusCode returns the HTTP status carried by a Vault response error, or 0.
func StatusCode(err error) int {
	var respErr *api.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}
