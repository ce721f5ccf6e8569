package hashicorp

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/vault/api"
	"github.com/hengadev/credhub"
	"github.com/hengadev/credhub/internal/vaultclient"
)

// DefaultMount is the path the Transit engine is usually enabled at.
const DefaultMount = "transit"

// TransitService implements credhub.KeyManagementService with the Vault
// Transit engine. DEKs are wrapped and unwrapped by Vault; the provider key
// never leaves it.
type TransitService struct {
	client *api.Client
	mount  string
}

// NewTransitService connects to Vault with cfg. An empty mount selects DefaultMount.
//
// The engine must be enabled first:
//
//	vault secrets enable transit
//	vault write -f transit/keys/credhub
func NewTransitService(ctx context.Context, cfg vaultclient.Config, mount string) (*TransitService, error) {
	client, err := vaultclient.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewTransitServiceFromClient(client, mount), nil
}

// NewTransitServiceFromClient wraps an already authenticated client.
func NewTransitServiceFromClient(client *api.Client, mount string) *TransitService {
	mount = strings.Trim(mount, "/")
	if mount == "" {
		mount = DefaultMount
	}
	return &TransitService{client: client, mount: mount}
}

// EncryptDEK wraps dek with the Transit key named keyID. The result is the
// Vault ciphertext string ("vault:v1:...") as bytes.
func (t *TransitService) EncryptDEK(ctx context.Context, keyID string, dek []byte) ([]byte, error) {
	if len(dek) == 0 {
		return nil, fmt.Errorf("%w: DEK cannot be empty", credhub.ErrEncryptionFailed)
	}
	if keyID == "" {
		return nil, fmt.Errorf("%w: transit key name cannot be empty", credhub.ErrInvalidConfiguration)
	}

	resp, err := t.client.Logical().WriteWithContext(ctx, t.path("encrypt", keyID), map[string]any{
		"plaintext": base64.StdEncoding.EncodeToString(dek),
	})
	if err != nil {
		return nil, t.classify("encrypt", keyID, err)
	}
	if resp == nil || resp.Data == nil {
		return nil, fmt.Errorf("%w: empty transit encrypt response for %q", credhub.ErrKMSUnavailable, keyID)
	}
	ciphertext, ok := resp.Data["ciphertext"].(string)
	if !ok || ciphertext == "" {
		return nil, fmt.Errorf("%w: transit encrypt response has no ciphertext", credhub.ErrKMSUnavailable)
	}
	return []byte(ciphertext), nil
}

// DecryptDEK unwraps a DEK produced by EncryptDEK.
func (t *TransitService) DecryptDEK(ctx context.Context, keyID string, wrapped []byte) ([]byte, error) {
	if len(wrapped) == 0 {
		return nil, fmt.Errorf("%w: wrapped DEK cannot be empty", credhub.ErrAuthenticationFailed)
	}
	if keyID == "" {
		return nil, fmt.Errorf("%w: transit key name cannot be empty", credhub.ErrInvalidConfiguration)
	}

	resp, err := t.client.Logical().WriteWithContext(ctx, t.path("decrypt", keyID), map[string]any{
		"ciphertext": string(wrapped),
	})
	if err != nil {
		return nil, t.classify("decrypt", keyID, err)
	}
	if resp == nil || resp.Data == nil {
		return nil, fmt.Errorf("%w: empty transit decrypt response for %q", credhub.ErrKMSUnavailable, keyID)
	}
	encoded, ok := resp.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: transit decrypt response has no plaintext", credhub.ErrKMSUnavailable)
	}
	dek, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decode transit plaintext: %w", credhub.ErrAuthenticationFailed, err)
	}
	return dek, nil
}

func (t *TransitService) path(op, keyID string) string {
	return fmt.Sprintf("%s/%s/%s", t.mount, op, keyID)
}

// classify maps Vault status codes onto credhub error kinds. Vault answers a
// tampered or foreign ciphertext with 400 on decrypt.
func (t *TransitService) classify(op, keyID string, err error) error {
	switch status := vaultclient.StatusCode(err); {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: transit key %q: %w", credhub.ErrKeyNotFound, keyID, err)
	case status == http.StatusBadRequest && op == "decrypt":
		return fmt.Errorf("%w: transit rejected ciphertext for %q: %w", credhub.ErrAuthenticationFailed, keyID, err)
	case status == http.StatusForbidden:
		return fmt.Errorf("%w: transit %s on %q denied: %w", credhub.ErrKeyNotFound, op, keyID, err)
	default:
		return fmt.Errorf("%w: transit %s on %q: %w", credhub.ErrKMSUnavailable, op, keyID, err)
	}
}

var _ credhub.KeyManagementService = (*TransitService)(nil)
