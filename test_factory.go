package credhub

import (
	"crypto/rand"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
)

// TestStoreOptions configures NewTestCredentialStore.
type TestStoreOptions struct {
	// Versions defaults to a fresh InMemoryVersionStore.
	Versions VersionStore
	// Keys defaults to one active software key.
	Keys []KeyEntry
	// StoreOptions are applied after the test defaults.
	StoreOptions []StoreOption
}

// TestEnv bundles a credential store with the collaborators tests inspect.
type TestEnv struct {
	Store     *CredentialStore
	Directory *KeyDirectory
	Versions  VersionStore
	Audit     *InMemoryAuditSink
	Metrics   *InMemoryMetricsCollector
	Keys      []KeyEntry
}

// NewTestCredentialStore wires a CredentialStore for tests: software keys,
// in-memory audit and metrics, a discarded logger and cheap Argon2
// parameters.
func NewTestCredentialStore(t testing.TB, options ...*TestStoreOptions) *TestEnv {
	t.Helper()

	opts := &TestStoreOptions{}
	if len(options) > 0 && options[0] != nil {
		opts = options[0]
	}
	versions := opts.Versions
	if versions == nil {
		versions = NewInMemoryVersionStore()
	}
	keys := opts.Keys
	if keys == nil {
		keys = []KeyEntry{NewTestSoftwareKey(t, true)}
	}

	audit := NewInMemoryAuditSink()
	metrics := NewInMemoryMetricsCollector()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dir, err := NewKeyDirectory(keys, WithDirectoryLogger(logger), WithDirectoryAudit(audit))
	if err != nil {
		t.Fatalf("failed to build key directory: %v", err)
	}
	enc := NewEncryptionService(dir, WithEncryptionMetrics(metrics))

	storeOpts := append([]StoreOption{
		WithLogger(logger),
		WithAuditSink(audit),
		WithMetrics(metrics),
		WithArgon2Params(TestArgon2Params()),
	}, opts.StoreOptions...)
	store, err := NewCredentialStore(versions, enc, storeOpts...)
	if err != nil {
		t.Fatalf("failed to build credential store: %v", err)
	}

	return &TestEnv{
		Store:     store,
		Directory: dir,
		Versions:  versions,
		Audit:     audit,
		Metrics:   metrics,
		Keys:      keys,
	}
}

// NewTestSoftwareKey returns an internal key with random material.
func NewTestSoftwareKey(t testing.TB, active bool) KeyEntry {
	t.Helper()

	material := make([]byte, KeyLength)
	if _, err := rand.Read(material); err != nil {
		t.Fatalf("failed to generate key material: %v", err)
	}
	c, err := NewSoftwareCipher(material)
	if err != nil {
		t.Fatalf("failed to build software cipher: %v", err)
	}
	return KeyEntry{
		Key:    EncryptionKey{ID: uuid.New(), Provider: ProviderInternal, Active: active},
		Cipher: c,
	}
}

// NewTestKMSKey returns a hardware-backed key wrapping DEKs with kms.
func NewTestKMSKey(t testing.TB, kms *SimpleTestKMS, active bool) KeyEntry {
	t.Helper()

	id := uuid.New()
	providerKey, err := kms.CreateKey(id.String())
	if err != nil {
		t.Fatalf("failed to create provider key: %v", err)
	}
	c, err := NewKMSCipher(kms, providerKey, nil)
	if err != nil {
		t.Fatalf("failed to build kms cipher: %v", err)
	}
	return KeyEntry{
		Key:    EncryptionKey{ID: id, Provider: ProviderAWSKMS, Active: active},
		Cipher: c,
	}
}

// TestArgon2Params are the cheapest parameters Validate accepts.
func TestArgon2Params() *Argon2Params {
	return &Argon2Params{
		Memory:      8192,
		Iterations:  2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// WithActive returns a copy of e with its activity flag set to active.
func (e KeyEntry) WithActive(active bool) KeyEntry {
	e.Key.Active = active
	return e
}
