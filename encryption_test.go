package credhub

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEncryptionService(t *testing.T) (*EncryptionService, []KeyEntry) {
	t.Helper()
	kms := NewSimpleTestKMS()
	keys := []KeyEntry{
		NewTestSoftwareKey(t, true),
		NewTestSoftwareKey(t, false),
		NewTestKMSKey(t, kms, false),
	}
	dir, err := NewKeyDirectory(keys)
	require.NoError(t, err)
	return NewEncryptionService(dir), keys
}

func TestEncryptionRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, keys := newTestEncryptionService(t)

	sizes := []int{0, 1, 12, 31, 32, 33, 1024, 64 * 1024}
	for _, key := range keys {
		for _, size := range sizes {
			plaintext := make([]byte, size)
			_, err := rand.Read(plaintext)
			require.NoError(t, err)

			sealed, err := svc.Encrypt(ctx, key.Key.ID, plaintext)
			require.NoError(t, err)
			assert.Len(t, sealed.Nonce, NonceLength)
			if size > 0 {
				assert.False(t, bytes.Contains(sealed.Ciphertext, plaintext), "ciphertext leaks plaintext")
			}

			got, err := svc.Decrypt(ctx, key.Key.ID, sealed)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(plaintext, got), "provider %s size %d", key.Key.Provider, size)
		}
	}
}

func TestEncryptionFreshNonces(t *testing.T) {
	ctx := context.Background()
	svc, keys := newTestEncryptionService(t)

	seen := make(map[string]bool)
	for range 100 {
		sealed, err := svc.Encrypt(ctx, keys[0].Key.ID, []byte("same plaintext"))
		require.NoError(t, err)
		require.False(t, seen[string(sealed.Nonce)], "nonce reused")
		seen[string(sealed.Nonce)] = true
	}
}

func TestEncryptionWrongKey(t *testing.T) {
	ctx := context.Background()
	svc, keys := newTestEncryptionService(t)

	sealed, err := svc.Encrypt(ctx, keys[0].Key.ID, []byte("value"))
	require.NoError(t, err)

	_, err = svc.Decrypt(ctx, keys[1].Key.ID, sealed)
	assert.True(t, IsAuthError(err))

	unknown := uuid.New()
	_, err = svc.Decrypt(ctx, unknown, sealed)
	assert.True(t, IsKeyNotFoundError(err))
	var ce *CryptoError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, unknown, ce.KeyID)

	_, err = svc.Encrypt(ctx, unknown, []byte("value"))
	assert.True(t, IsKeyNotFoundError(err))
}

func TestEncryptionNonceSourceFailure(t *testing.T) {
	ctx := context.Background()
	key := NewTestSoftwareKey(t, true)
	dir, err := NewKeyDirectory([]KeyEntry{key})
	require.NoError(t, err)

	svc := NewEncryptionService(dir, WithRandom(bytes.NewReader(nil)))
	_, err = svc.Encrypt(ctx, key.Key.ID, []byte("value"))
	assert.ErrorIs(t, err, ErrEncryptionFailed)
}

func TestEncryptionMetrics(t *testing.T) {
	ctx := context.Background()
	key := NewTestSoftwareKey(t, true)
	dir, err := NewKeyDirectory([]KeyEntry{key})
	require.NoError(t, err)
	metrics := NewInMemoryMetricsCollector()
	svc := NewEncryptionService(dir, WithEncryptionMetrics(metrics))

	sealed, err := svc.Encrypt(ctx, key.Key.ID, []byte("value"))
	require.NoError(t, err)
	sealed.Ciphertext[0] ^= 0xFF
	_, err = svc.Decrypt(ctx, key.Key.ID, sealed)
	require.Error(t, err)

	assert.Equal(t, int64(1), metrics.GetCounterValue(MetricEncrypt, map[string]string{"status": "success"}))
	assert.Equal(t, int64(1), metrics.GetCounterValue(MetricDecrypt, map[string]string{"status": "error"}))
	assert.Len(t, metrics.GetTimings(), 2)
}
