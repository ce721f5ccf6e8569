package hashicorp

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/hashicorp/vault/api"
	"github.com/hengadev/credhub"
	"github.com/hengadev/credhub/internal/vaultclient"
)

// KVStore implements credhub.SecretManagementService using the Vault KV v2
// engine. The material is stored base64 encoded under the "value" field.
type KVStore struct {
	client *api.Client
}

// NewKVStore connects to Vault with cfg.
//
// The KV v2 engine must be enabled first:
//
//	vault secrets enable -path=secret kv-v2
func NewKVStore(ctx context.Context, cfg vaultclient.Config) (*KVStore, error) {
	client, err := vaultclient.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &KVStore{client: client}, nil
}

// NewKVStoreFromClient wraps an already authenticated client.
func NewKVStoreFromClient(client *api.Client) *KVStore {
	return &KVStore{client: client}
}

// GetStoragePath returns the default KV v2 path for the material of keyID.
// The "/data/" segment is part of the KV v2 API path.
func (k *KVStore) GetStoragePath(keyID uuid.UUID) string {
	return fmt.Sprintf(credhub.VaultKeyMaterialPathTemplate, keyID)
}

// GetKeyMaterial reads the key stored at path.
func (k *KVStore) GetKeyMaterial(ctx context.Context, path string) ([]byte, error) {
	secret, err := k.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		if vaultclient.StatusCode(err) == http.StatusForbidden {
			return nil, fmt.Errorf("%w: read %s denied: %w", credhub.ErrKeyNotFound, path, err)
		}
		return nil, fmt.Errorf("%w: read %s: %w", credhub.ErrKMSUnavailable, path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: no key material at %s", credhub.ErrKeyNotFound, path)
	}

	// KV v2 wraps the fields in a "data" key
	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a KV v2 secret", credhub.ErrInvalidConfiguration, path)
	}
	encoded, ok := data["value"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no value field", credhub.ErrInvalidConfiguration, path)
	}

	material, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", credhub.ErrInvalidConfiguration, path, err)
	}
	if len(material) != credhub.KeyLength {
		return nil, fmt.Errorf("%w: %s holds %d bytes, want %d",
			credhub.ErrInvalidConfiguration, path, len(material), credhub.KeyLength)
	}
	return material, nil
}

// StoreKeyMaterial writes material to path. KV v2 keeps the previous
// versions.
func (k *KVStore) StoreKeyMaterial(ctx context.Context, path string, material []byte) error {
	if len(material) != credhub.KeyLength {
		return fmt.Errorf("%w: key material must be exactly %d bytes, got %d",
			credhub.ErrInvalidConfiguration, credhub.KeyLength, len(material))
	}

	_, err := k.client.Logical().WriteWithContext(ctx, path, map[string]any{
		"data": map[string]any{
			"value": base64.StdEncoding.EncodeToString(material),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: write %s: %w", credhub.ErrKMSUnavailable, path, err)
	}
	return nil
}

// KeyMaterialExists reports whether path holds a value field.
func (k *KVStore) KeyMaterialExists(ctx context.Context, path string) (bool, error) {
	secret, err := k.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return false, fmt.Errorf("%w: read %s: %w", credhub.ErrKMSUnavailable, path, err)
	}
	if secret == nil || secret.Data == nil {
		return false, nil
	}
	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return false, nil
	}
	_, ok = data["value"].(string)
	return ok, nil
}

var _ credhub.SecretManagementService = (*KVStore)(nil)
