package credhub

import (
	"context"

	"github.com/google/uuid"
)

// KeyManagementService defines the contract for wrapping data encryption keys
// with a key that never leaves a remote provider.
//
// This interface is implemented by hardware-backed providers (AWS KMS,
// HashiCorp Vault Transit) and is consumed by NewKMSCipher. It only moves
// DEKs: credential payloads are always sealed locally.
//
// Implementations:
//   - AWS KMS: github.com/hengadev/credhub/providers/keys/aws.KMSService
//   - HashiCorp Vault Transit: github.com/hengadev/credhub/providers/keys/hashicorp.TransitService
//
// Errors returned by implementations should wrap ErrKeyNotFound when the key
// cannot be reached (adding ErrKMSUnavailable when the failure is transient)
// and ErrAuthenticationFailed when the provider rejects a wrapped DEK.
type KeyManagementService interface {
	// EncryptDEK wraps a plaintext DEK with the provider key identified by keyID.
	EncryptDEK(ctx context.Context, keyID string, plaintext []byte) ([]byte, error)

	// DecryptDEK unwraps a DEK produced by EncryptDEK.
	DecryptDEK(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error)
}

// SecretManagementService fetches software key material from a secret backend.
//
// Implementations:
//   - AWS Secrets Manager: github.com/hengadev/credhub/providers/secrets/aws.SecretsManagerStore
//   - HashiCorp Vault KV v2: github.com/hengadev/credhub/providers/secrets/hashicorp.KVStore
type SecretManagementService interface {
	// GetKeyMaterial returns the KeyLength-byte key stored at path.
	GetKeyMaterial(ctx context.Context, path string) ([]byte, error)

	// GetStoragePath returns the default path for the material of keyID.
	GetStoragePath(keyID uuid.UUID) string
}

// KeyCipher seals and opens payloads with the material behind one encryption key.
type KeyCipher interface {
	// NonceSize is the exact nonce length Seal and Open expect.
	NonceSize() int
	Seal(ctx context.Context, nonce, plaintext []byte) ([]byte, error)
	Open(ctx context.Context, nonce, ciphertext []byte) ([]byte, error)
}

// NameQuery selects names for a most-recent-per-name search. Values are
// already case-folded. A name matches when it contains Substring or starts
// with Prefix; empty fields do not match anything.
type NameQuery struct {
	Substring string
	Prefix    string
}

// ScanFilter restricts a streaming scan over stored versions.
type ScanFilter struct {
	// ExcludeKeyID skips versions encrypted under this key when not nil.
	ExcludeKeyID uuid.UUID
	// LiveOnly skips versions that already have a re-encrypted copy.
	LiveOnly bool
}

// VersionStore is the persistence port for credential versions. Rows are
// never updated; every method is transactional on its own.
//
// Names passed to the store are normalized by CredentialStore. Matching on
// names is case-insensitive.
//
// Implementations:
//   - InMemoryVersionStore in this package
//   - github.com/hengadev/credhub/providers/store/sqlite.Store
type VersionStore interface {
	// Insert stores v and assigns v.Sequence, and v.Ordinal when it is zero.
	Insert(ctx context.Context, v *CredentialVersion) error

	// FindByID returns ErrNotFound when no version has the id.
	FindByID(ctx context.Context, id uuid.UUID) (*CredentialVersion, error)

	// FindByName returns the live versions of name, newest first. Ties on
	// CreatedAt are ordered by descending Ordinal.
	FindByName(ctx context.Context, name string) ([]*CredentialVersion, error)

	// SearchNames returns the most recent version of every matching name.
	SearchNames(ctx context.Context, q NameQuery) ([]NameSummary, error)

	// Scan streams versions in insertion order. Returning an error from fn
	// stops the scan and is returned as is.
	Scan(ctx context.Context, filter ScanFilter, fn func(*CredentialVersion) error) error

	// CountByKey groups stored versions by the key that encrypted them.
	CountByKey(ctx context.Context) ([]KeyCount, error)

	// DeleteByName removes every version of name and returns how many were removed.
	DeleteByName(ctx context.Context, name string) (int64, error)
}

// Serializer encodes credential values and generation parameters before encryption.
type Serializer interface {
	Serialize(v any) ([]byte, error)
	Deserialize(data []byte, v any) error
}
