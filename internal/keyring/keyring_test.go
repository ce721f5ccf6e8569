package keyring

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/hengadev/credhub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func material(b byte) []byte {
	m := make([]byte, credhub.KeyLength)
	for i := range m {
		m[i] = b
	}
	return m
}

// roundTrip seals and opens a payload through every resolved entry.
func roundTrip(t *testing.T, entries []credhub.KeyEntry) {
	t.Helper()
	ctx := context.Background()
	for _, e := range entries {
		nonce := make([]byte, e.Cipher.NonceSize())
		sealed, err := e.Cipher.Seal(ctx, nonce, []byte("payload"))
		require.NoError(t, err)
		opened, err := e.Cipher.Open(ctx, nonce, sealed)
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), opened)
	}
}

func TestResolver_Resolve(t *testing.T) {
	kms := credhub.NewSimpleTestKMS()
	transitKey, err := kms.CreateKey("credhub-transit")
	require.NoError(t, err)
	awsKey, err := kms.CreateKey("alias/credhub")
	require.NoError(t, err)

	vaultKV := credhub.NewSimpleTestSecretStore()
	secretsMgr := credhub.NewSimpleTestSecretStore()

	kvID, smID := uuid.New(), uuid.New()
	vaultKV.SetKeyMaterial(vaultKV.GetStoragePath(kvID), material(1))
	secretsMgr.SetKeyMaterial("custom/path", material(2))

	keys := []credhub.KeyConfig{
		{ID: uuid.NewString(), Provider: credhub.ProviderInternal, Active: true, Key: base64.StdEncoding.EncodeToString(material(3))},
		{ID: uuid.NewString(), Provider: credhub.ProviderInternal, Passphrase: "correct horse", Salt: base64.StdEncoding.EncodeToString([]byte("0123456789abcdef"))},
		{ID: kvID.String(), Provider: credhub.ProviderInternal, Secret: &credhub.SecretRef{Backend: credhub.SecretBackendVaultKV}},
		{ID: smID.String(), Provider: credhub.ProviderInternal, Secret: &credhub.SecretRef{Backend: credhub.SecretBackendSecretsManager, Path: "custom/path"}},
		{ID: uuid.NewString(), Provider: credhub.ProviderVaultTransit, ProviderKeyID: transitKey},
		{ID: uuid.NewString(), Provider: credhub.ProviderAWSKMS, ProviderKeyID: awsKey, Region: "eu-west-1"},
	}

	r := New(
		WithLogger(quietLogger()),
		WithArgon2Params(credhub.TestArgon2Params()),
		WithTransit(kms),
		WithKMS(kms),
		WithVaultKV(vaultKV),
		WithSecretsManager(secretsMgr),
	)
	entries, err := r.Resolve(context.Background(), keys)
	require.NoError(t, err)
	require.Len(t, entries, len(keys))

	for i, e := range entries {
		assert.Equal(t, keys[i].ID, e.Key.ID.String())
		assert.Equal(t, keys[i].Provider, e.Key.Provider)
		assert.Equal(t, keys[i].Active, e.Key.Active)
	}
	roundTrip(t, entries)

	directory, err := credhub.NewKeyDirectory(entries)
	require.NoError(t, err)
	assert.Equal(t, entries[0].Key.ID, directory.ActiveKeyID())
}

func TestResolver_PassphraseIsDeterministic(t *testing.T) {
	cfg := credhub.KeyConfig{
		ID:         uuid.NewString(),
		Provider:   credhub.ProviderInternal,
		Active:     true,
		Passphrase: "correct horse",
		Salt:       base64.StdEncoding.EncodeToString([]byte("0123456789abcdef")),
	}
	r := New(WithLogger(quietLogger()), WithArgon2Params(credhub.TestArgon2Params()))
	ctx := context.Background()

	first, err := r.Resolve(ctx, []credhub.KeyConfig{cfg})
	require.NoError(t, err)
	second, err := r.Resolve(ctx, []credhub.KeyConfig{cfg})
	require.NoError(t, err)

	nonce := make([]byte, credhub.NonceLength)
	sealed, err := first[0].Cipher.Seal(ctx, nonce, []byte("survives restarts"))
	require.NoError(t, err)
	opened, err := second[0].Cipher.Open(ctx, nonce, sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("survives restarts"), opened)
}

func TestResolver_Errors(t *testing.T) {
	unreachable := errors.New("connection refused")

	tests := []struct {
		name    string
		key     credhub.KeyConfig
		opts    []Option
		wantErr error
	}{
		{
			name:    "bad id",
			key:     credhub.KeyConfig{ID: "nope", Provider: credhub.ProviderInternal, Key: base64.StdEncoding.EncodeToString(material(1))},
			wantErr: credhub.ErrInvalidConfiguration,
		},
		{
			name:    "bad material",
			key:     credhub.KeyConfig{ID: uuid.NewString(), Provider: credhub.ProviderInternal, Key: "!!"},
			wantErr: credhub.ErrInvalidConfiguration,
		},
		{
			name:    "missing secret",
			key:     credhub.KeyConfig{ID: uuid.NewString(), Provider: credhub.ProviderInternal, Secret: &credhub.SecretRef{Backend: credhub.SecretBackendVaultKV}},
			opts:    []Option{WithVaultKV(credhub.NewSimpleTestSecretStore())},
			wantErr: credhub.ErrKeyNotFound,
		},
		{
			name:    "unknown provider",
			key:     credhub.KeyConfig{ID: uuid.NewString(), Provider: "hsm"},
			wantErr: credhub.ErrInvalidConfiguration,
		},
		{
			name: "provider unreachable",
			key:  credhub.KeyConfig{ID: uuid.NewString(), Provider: credhub.ProviderVaultTransit, ProviderKeyID: "k"},
			opts: []Option{func(r *Resolver) {
				r.newTransit = func(context.Context) (credhub.KeyManagementService, error) { return nil, unreachable }
			}},
			wantErr: unreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(append([]Option{WithLogger(quietLogger())}, tt.opts...)...)
			_, err := r.Resolve(context.Background(), []credhub.KeyConfig{tt.key})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), tt.key.ID)
		})
	}
}

func TestResolver_SharesProviderClients(t *testing.T) {
	calls := 0
	kms := credhub.NewSimpleTestKMS()
	r := New(WithLogger(quietLogger()), func(r *Resolver) {
		r.newKMS = func(context.Context, string) (credhub.KeyManagementService, error) {
			calls++
			return kms, nil
		}
	})

	keys := []credhub.KeyConfig{
		{ID: uuid.NewString(), Provider: credhub.ProviderAWSKMS, ProviderKeyID: "a", Region: "us-east-1", Active: true},
		{ID: uuid.NewString(), Provider: credhub.ProviderAWSKMS, ProviderKeyID: "b", Region: "us-east-1"},
		{ID: uuid.NewString(), Provider: credhub.ProviderAWSKMS, ProviderKeyID: "c", Region: "eu-west-1"},
	}
	_, err := r.Resolve(context.Background(), keys)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "one client per region")
}

func TestResolver_Provision(t *testing.T) {
	store := credhub.NewSimpleTestSecretStore()
	r := New(WithLogger(quietLogger()), WithVaultKV(store))
	ctx := context.Background()

	id := uuid.New()
	cfg := credhub.KeyConfig{ID: id.String(), Provider: credhub.ProviderInternal, Active: true,
		Secret: &credhub.SecretRef{Backend: credhub.SecretBackendVaultKV}}

	path, err := r.Provision(ctx, cfg, false)
	require.NoError(t, err)
	assert.Equal(t, store.GetStoragePath(id), path)

	first, err := store.GetKeyMaterial(ctx, path)
	require.NoError(t, err)
	assert.Len(t, first, credhub.KeyLength)

	_, err = r.Provision(ctx, cfg, false)
	assert.ErrorIs(t, err, credhub.ErrInvalidConfiguration, "existing material is kept")

	_, err = r.Provision(ctx, cfg, true)
	require.NoError(t, err)
	second, err := store.GetKeyMaterial(ctx, path)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	entries, err := r.Resolve(ctx, []credhub.KeyConfig{cfg})
	require.NoError(t, err)
	roundTrip(t, entries)

	_, err = r.Provision(ctx, credhub.KeyConfig{ID: uuid.NewString(), Provider: credhub.ProviderAWSKMS}, false)
	assert.ErrorIs(t, err, credhub.ErrInvalidConfiguration)
}
