// Package keyring resolves configured key definitions into key directory
// entries by reaching the provider that holds each key's material.
package keyring

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hengadev/credhub"
	"github.com/hengadev/credhub/internal/security"
	"github.com/hengadev/credhub/internal/vaultclient"
	awskeys "github.com/hengadev/credhub/providers/keys/aws"
	transit "github.com/hengadev/credhub/providers/keys/hashicorp"
	awssecrets "github.com/hengadev/credhub/providers/secrets/aws"
	vaultkv "github.com/hengadev/credhub/providers/secrets/hashicorp"
)

// KeyMaterialWriter is implemented by secret backends that can store new
// key material.
type KeyMaterialWriter interface {
	StoreKeyMaterial(ctx context.Context, path string, material []byte) error
	KeyMaterialExists(ctx context.Context, path string) (bool, error)
}

// Resolver builds credhub.KeyEntry values from credhub.KeyConfig. Provider
// clients are created on first use and shared by every key that needs them.
type Resolver struct {
	argon2 *credhub.Argon2Params
	logger *slog.Logger
	random io.Reader

	mu         sync.Mutex
	transit    credhub.KeyManagementService
	kms        map[string]credhub.KeyManagementService
	vaultKV    credhub.SecretManagementService
	secretsMgr map[string]credhub.SecretManagementService

	newTransit    func(ctx context.Context) (credhub.KeyManagementService, error)
	newKMS        func(ctx context.Context, region string) (credhub.KeyManagementService, error)
	newVaultKV    func(ctx context.Context) (credhub.SecretManagementService, error)
	newSecretsMgr func(ctx context.Context, region string) (credhub.SecretManagementService, error)
}

type Option func(*Resolver)

// WithArgon2Params sets the parameters used to derive passphrase keys.
func WithArgon2Params(params *credhub.Argon2Params) Option {
	return func(r *Resolver) {
		if params != nil {
			r.argon2 = params
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRandom replaces the DEK source of hardware-backed keys.
func WithRandom(random io.Reader) Option {
	return func(r *Resolver) {
		r.random = random
	}
}

// WithTransit uses svc for every vault-transit key.
func WithTransit(svc credhub.KeyManagementService) Option {
	return func(r *Resolver) {
		r.newTransit = func(context.Context) (credhub.KeyManagementService, error) { return svc, nil }
	}
}

// WithKMS uses svc for every aws-kms key regardless of region.
func WithKMS(svc credhub.KeyManagementService) Option {
	return func(r *Resolver) {
		r.newKMS = func(context.Context, string) (credhub.KeyManagementService, error) { return svc, nil }
	}
}

// WithVaultKV uses svc for every secret held in the vault-kv backend.
func WithVaultKV(svc credhub.SecretManagementService) Option {
	return func(r *Resolver) {
		r.newVaultKV = func(context.Context) (credhub.SecretManagementService, error) { return svc, nil }
	}
}

// WithSecretsManager uses svc for every secret held in AWS Secrets Manager.
func WithSecretsManager(svc credhub.SecretManagementService) Option {
	return func(r *Resolver) {
		r.newSecretsMgr = func(context.Context, string) (credhub.SecretManagementService, error) { return svc, nil }
	}
}

// New returns a resolver that connects to Vault through the VAULT_*
// environment and to AWS through the default credential chain.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		argon2:     credhub.DefaultArgon2Params(),
		logger:     slog.Default(),
		kms:        make(map[string]credhub.KeyManagementService),
		secretsMgr: make(map[string]credhub.SecretManagementService),
		newTransit: func(ctx context.Context) (credhub.KeyManagementService, error) {
			return transit.NewTransitService(ctx, vaultclient.FromEnvironment(), "")
		},
		newKMS: func(ctx context.Context, region string) (credhub.KeyManagementService, error) {
			return awskeys.New(ctx, awskeys.Config{Region: region})
		},
		newVaultKV: func(ctx context.Context) (credhub.SecretManagementService, error) {
			return vaultkv.NewKVStore(ctx, vaultclient.FromEnvironment())
		},
		newSecretsMgr: func(ctx context.Context, region string) (credhub.SecretManagementService, error) {
			return awssecrets.NewSecretsManagerStore(ctx, awssecrets.Config{Region: region})
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve builds one entry per configured key, in order. It stops at the
// first key whose material cannot be reached.
func (r *Resolver) Resolve(ctx context.Context, keys []credhub.KeyConfig) ([]credhub.KeyEntry, error) {
	entries := make([]credhub.KeyEntry, 0, len(keys))
	for _, k := range keys {
		entry, err := r.entry(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", k.ID, err)
		}
		r.logger.Debug("key resolved",
			slog.String("key_id", entry.Key.ID.String()),
			slog.String("provider", string(entry.Key.Provider)),
			slog.Bool("active", entry.Key.Active))
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *Resolver) entry(ctx context.Context, k credhub.KeyConfig) (credhub.KeyEntry, error) {
	def, err := k.Definition()
	if err != nil {
		return credhub.KeyEntry{}, fmt.Errorf("%w: invalid key id: %w", credhub.ErrInvalidConfiguration, err)
	}

	var cipher credhub.KeyCipher
	switch k.Provider {
	case credhub.ProviderInternal:
		material, err := r.material(ctx, k)
		if err != nil {
			return credhub.KeyEntry{}, err
		}
		cipher, err = credhub.NewSoftwareCipher(material)
		security.ZeroBytes(material)
		if err != nil {
			return credhub.KeyEntry{}, err
		}
	case credhub.ProviderVaultTransit:
		svc, err := r.transitService(ctx)
		if err != nil {
			return credhub.KeyEntry{}, err
		}
		if cipher, err = credhub.NewKMSCipher(svc, k.ProviderKeyID, r.random); err != nil {
			return credhub.KeyEntry{}, err
		}
	case credhub.ProviderAWSKMS:
		svc, err := r.kmsService(ctx, k.Region)
		if err != nil {
			return credhub.KeyEntry{}, err
		}
		if cipher, err = credhub.NewKMSCipher(svc, k.ProviderKeyID, r.random); err != nil {
			return credhub.KeyEntry{}, err
		}
	default:
		return credhub.KeyEntry{}, fmt.Errorf("%w: unknown provider %q", credhub.ErrInvalidConfiguration, k.Provider)
	}
	return credhub.KeyEntry{Key: def, Cipher: cipher}, nil
}

// material returns the raw software key of an internal key.
func (r *Resolver) material(ctx context.Context, k credhub.KeyConfig) ([]byte, error) {
	switch {
	case k.Key != "":
		raw, err := base64.StdEncoding.DecodeString(k.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: key is not valid base64: %w", credhub.ErrInvalidConfiguration, err)
		}
		return raw, nil
	case k.Passphrase != "":
		salt, err := base64.StdEncoding.DecodeString(k.Salt)
		if err != nil {
			return nil, fmt.Errorf("%w: salt is not valid base64: %w", credhub.ErrInvalidConfiguration, err)
		}
		return credhub.DeriveSoftwareKey(k.Passphrase, salt, r.argon2)
	case k.Secret != nil:
		svc, path, err := r.secretLocation(ctx, k)
		if err != nil {
			return nil, err
		}
		return svc.GetKeyMaterial(ctx, path)
	default:
		return nil, fmt.Errorf("%w: internal key has no material source", credhub.ErrInvalidConfiguration)
	}
}

// Provision generates fresh material for an internal key backed by a secret
// store and writes it to the key's path. Existing material is only replaced
// when overwrite is set.
func (r *Resolver) Provision(ctx context.Context, k credhub.KeyConfig, overwrite bool) (string, error) {
	if k.Provider != credhub.ProviderInternal || k.Secret == nil {
		return "", fmt.Errorf("%w: key %s does not keep its material in a secret backend", credhub.ErrInvalidConfiguration, k.ID)
	}
	svc, path, err := r.secretLocation(ctx, k)
	if err != nil {
		return "", err
	}
	writer, ok := svc.(KeyMaterialWriter)
	if !ok {
		return "", fmt.Errorf("%w: backend %s cannot store key material", credhub.ErrInvalidConfiguration, k.Secret.Backend)
	}

	exists, err := writer.KeyMaterialExists(ctx, path)
	if err != nil {
		return "", err
	}
	if exists && !overwrite {
		return "", fmt.Errorf("%w: key material already exists at %s", credhub.ErrInvalidConfiguration, path)
	}

	material, err := security.GenerateSecureRandom(credhub.KeyLength)
	if err != nil {
		return "", err
	}
	defer security.ZeroBytes(material)
	if err := writer.StoreKeyMaterial(ctx, path, material); err != nil {
		return "", err
	}
	r.logger.Info("key material provisioned",
		slog.String("key_id", k.ID),
		slog.String("backend", k.Secret.Backend),
		slog.String("path", path))
	return path, nil
}

func (r *Resolver) secretLocation(ctx context.Context, k credhub.KeyConfig) (credhub.SecretManagementService, string, error) {
	def, err := k.Definition()
	if err != nil {
		return nil, "", fmt.Errorf("%w: invalid key id: %w", credhub.ErrInvalidConfiguration, err)
	}

	var svc credhub.SecretManagementService
	switch k.Secret.Backend {
	case credhub.SecretBackendVaultKV:
		svc, err = r.vaultKVService(ctx)
	case credhub.SecretBackendSecretsManager:
		svc, err = r.secretsManagerService(ctx, k.Secret.Region)
	default:
		err = fmt.Errorf("%w: unknown secret backend %q", credhub.ErrInvalidConfiguration, k.Secret.Backend)
	}
	if err != nil {
		return nil, "", err
	}

	path := k.Secret.Path
	if path == "" {
		path = svc.GetStoragePath(def.ID)
	}
	return svc, path, nil
}

func (r *Resolver) transitService(ctx context.Context) (credhub.KeyManagementService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transit == nil {
		svc, err := r.newTransit(ctx)
		if err != nil {
			return nil, err
		}
		r.transit = svc
	}
	return r.transit, nil
}

func (r *Resolver) kmsService(ctx context.Context, region string) (credhub.KeyManagementService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if svc, ok := r.kms[region]; ok {
		return svc, nil
	}
	svc, err := r.newKMS(ctx, region)
	if err != nil {
		return nil, err
	}
	r.kms[region] = svc
	return svc, nil
}

func (r *Resolver) vaultKVService(ctx context.Context) (credhub.SecretManagementService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vaultKV == nil {
		svc, err := r.newVaultKV(ctx)
		if err != nil {
			return nil, err
		}
		r.vaultKV = svc
	}
	return r.vaultKV, nil
}

func (r *Resolver) secretsManagerService(ctx context.Context, region string) (credhub.SecretManagementService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if svc, ok := r.secretsMgr[region]; ok {
		return svc, nil
	}
	svc, err := r.newSecretsMgr(ctx, region)
	if err != nil {
		return nil, err
	}
	r.secretsMgr[region] = svc
	return svc, nil
}
