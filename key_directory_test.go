package credhub

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKeyDirectoryValidation(t *testing.T) {
	k1 := NewTestSoftwareKey(t, true)
	k2 := NewTestSoftwareKey(t, false)

	tests := []struct {
		name    string
		entries []KeyEntry
		wantErr bool
	}{
		{"single active key", []KeyEntry{k1}, false},
		{"active and inactive", []KeyEntry{k1, k2}, false},
		{"no keys", nil, true},
		{"no active key", []KeyEntry{k2}, true},
		{"two active keys", []KeyEntry{k1, k2.WithActive(true)}, true},
		{"duplicate id", []KeyEntry{k1, k1.WithActive(false)}, true},
		{"nil id", []KeyEntry{k1, {Key: EncryptionKey{Provider: ProviderInternal}, Cipher: k2.Cipher}}, true},
		{"missing cipher", []KeyEntry{k1, {Key: EncryptionKey{ID: uuid.New(), Provider: ProviderInternal}}}, true},
		{"unknown provider", []KeyEntry{k1, {Key: EncryptionKey{ID: uuid.New(), Provider: "hsm9000"}, Cipher: k2.Cipher}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, err := NewKeyDirectory(tt.entries)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsConfigurationError(err))
				assert.Nil(t, dir)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DirectoryActive, dir.State())
			assert.Equal(t, k1.Key.ID, dir.ActiveKeyID())
		})
	}
}

func TestKeyDirectoryClassify(t *testing.T) {
	k1 := NewTestSoftwareKey(t, true)
	k2 := NewTestSoftwareKey(t, false)
	dir, err := NewKeyDirectory([]KeyEntry{k1, k2})
	require.NoError(t, err)

	assert.Equal(t, KeyActive, dir.Classify(k1.Key.ID))
	assert.Equal(t, KeyInactive, dir.Classify(k2.Key.ID))
	assert.Equal(t, KeyUnknown, dir.Classify(uuid.New()))
	assert.Equal(t, KeyUnknown, dir.Classify(uuid.Nil))

	assert.True(t, dir.IsKnown(k2.Key.ID))
	keys := dir.Keys()
	require.Len(t, keys, 2)
	assert.Equal(t, k1.Key.ID, keys[0].ID)
	assert.Equal(t, k2.Key.ID, keys[1].ID)
}

func TestKeyDirectoryReload(t *testing.T) {
	ctx := context.Background()
	audit := NewInMemoryAuditSink()
	k1 := NewTestSoftwareKey(t, true)
	k2 := NewTestSoftwareKey(t, false)

	dir, err := NewKeyDirectory([]KeyEntry{k1, k2}, WithDirectoryAudit(audit))
	require.NoError(t, err)

	t.Run("rotation swaps the active key", func(t *testing.T) {
		err := dir.Reload(ctx, []KeyEntry{k1.WithActive(false), k2.WithActive(true)})
		require.NoError(t, err)
		assert.Equal(t, k2.Key.ID, dir.ActiveKeyID())
		assert.Equal(t, KeyInactive, dir.Classify(k1.Key.ID))
		assert.Equal(t, DirectoryActive, dir.State())
	})

	t.Run("invalid reload keeps previous keys", func(t *testing.T) {
		err := dir.Reload(ctx, []KeyEntry{k1.WithActive(true), k2.WithActive(true)})
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
		assert.Equal(t, k2.Key.ID, dir.ActiveKeyID())
		assert.Equal(t, KeyInactive, dir.Classify(k1.Key.ID))
		assert.Equal(t, DirectoryActive, dir.State())
	})

	reloads := audit.EventsFor(AuditKeyReload)
	require.Len(t, reloads, 2)
	assert.Equal(t, OutcomeSuccess, reloads[0].Outcome)
	assert.Equal(t, OutcomeFailure, reloads[1].Outcome)
	assert.NotEmpty(t, reloads[1].Error)
}

func TestKeyDirectoryConcurrentReadsSeeOneActiveKey(t *testing.T) {
	ctx := context.Background()
	k1 := NewTestSoftwareKey(t, true)
	k2 := NewTestSoftwareKey(t, false)
	env := NewTestCredentialStore(t, &TestStoreOptions{Keys: []KeyEntry{k1, k2}})
	dir := env.Directory
	usage := NewKeyUsageService(env.Versions, dir)

	for range 3 {
		_, err := env.Store.Set(ctx, "/under-k1", ValueCredential("v"))
		require.NoError(t, err)
	}
	require.NoError(t, dir.Reload(ctx, []KeyEntry{k1.WithActive(false), k2.WithActive(true)}))
	_, err := env.Store.Set(ctx, "/under-k2", ValueCredential("v"))
	require.NoError(t, err)

	sets := [][]KeyEntry{
		{k1.WithActive(false), k2.WithActive(true)},
		{k1.WithActive(true), k2.WithActive(false)},
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				active := dir.Active()
				if active.Key.ID != k1.Key.ID && active.Key.ID != k2.Key.ID {
					t.Errorf("unexpected active key %s", active.Key.ID)
					return
				}
				if !active.Key.Active {
					t.Error("active snapshot carries an inactive definition")
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snapshot, err := usage.Snapshot(ctx)
			if err != nil {
				t.Errorf("snapshot: %v", err)
				return
			}
			if snapshot.Total() != 4 || snapshot.UnknownKeys != 0 {
				t.Errorf("buckets do not cover the stored rows: %+v", snapshot)
				return
			}
			// The active bucket holds the rows of exactly one key.
			if snapshot.ActiveKey != 3 && snapshot.ActiveKey != 1 {
				t.Errorf("active bucket mixes key sets: %+v", snapshot)
				return
			}
		}
	}()

	for i := range 200 {
		require.NoError(t, dir.Reload(ctx, sets[i%2]))
	}
	close(stop)
	wg.Wait()
}

func TestDirectoryStateString(t *testing.T) {
	assert.Equal(t, "ACTIVE", KeyActive.String())
	assert.Equal(t, "INACTIVE", KeyInactive.String())
	assert.Equal(t, "UNKNOWN", KeyUnknown.String())
	assert.Equal(t, "RELOADING", DirectoryReloading.String())
}
