package credhub

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type KeyManagementServiceMock struct {
	mock.Mock
}

func (m *KeyManagementServiceMock) EncryptDEK(ctx context.Context, keyID string, plaintextDEK []byte) ([]byte, error) {
	args := m.Called(ctx, keyID, plaintextDEK)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *KeyManagementServiceMock) DecryptDEK(ctx context.Context, keyID string, ciphertextDEK []byte) ([]byte, error) {
	args := m.Called(ctx, keyID, ciphertextDEK)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func randomNonce(t *testing.T) []byte {
	t.Helper()
	nonce := make([]byte, NonceLength)
	_, err := rand.Read(nonce)
	require.NoError(t, err)
	return nonce
}

// flipEveryBit calls open once per bit of ciphertext and nonce, each time with
// exactly that bit inverted.
func flipEveryBit(t *testing.T, ciphertext, nonce []byte, open func(nonce, ciphertext []byte) error) {
	t.Helper()
	for i := range len(ciphertext) * 8 {
		tampered := append([]byte(nil), ciphertext...)
		tampered[i/8] ^= 1 << (i % 8)
		err := open(nonce, tampered)
		require.Truef(t, IsAuthError(err), "ciphertext bit %d: got %v", i, err)
	}
	for i := range len(nonce) * 8 {
		tampered := append([]byte(nil), nonce...)
		tampered[i/8] ^= 1 << (i % 8)
		err := open(tampered, ciphertext)
		require.Truef(t, IsAuthError(err), "nonce bit %d: got %v", i, err)
	}
}

func TestNewSoftwareCipher(t *testing.T) {
	for _, size := range []int{0, 16, 31, 33} {
		_, err := NewSoftwareCipher(make([]byte, size))
		assert.Truef(t, IsConfigurationError(err), "size %d", size)
	}
	_, err := NewSoftwareCipher(make([]byte, KeyLength))
	assert.NoError(t, err)
}

func TestSoftwareCipherTamperDetection(t *testing.T) {
	ctx := context.Background()
	entry := NewTestSoftwareKey(t, true)
	nonce := randomNonce(t)

	ciphertext, err := entry.Cipher.Seal(ctx, nonce, []byte("s3cr3t"))
	require.NoError(t, err)

	plaintext, err := entry.Cipher.Open(ctx, nonce, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", string(plaintext))

	flipEveryBit(t, ciphertext, nonce, func(n, c []byte) error {
		_, err := entry.Cipher.Open(ctx, n, c)
		return err
	})

	_, err = entry.Cipher.Open(ctx, nonce[:8], ciphertext)
	assert.True(t, IsAuthError(err), "short nonce")
}

func TestSoftwareCipherRejectsForeignCiphertext(t *testing.T) {
	ctx := context.Background()
	a, b := NewTestSoftwareKey(t, true), NewTestSoftwareKey(t, false)
	nonce := randomNonce(t)

	ciphertext, err := a.Cipher.Seal(ctx, nonce, []byte("value"))
	require.NoError(t, err)

	_, err = b.Cipher.Open(ctx, nonce, ciphertext)
	assert.True(t, IsAuthError(err))
}

func TestDeriveSoftwareKey(t *testing.T) {
	params := TestArgon2Params()
	salt := []byte("0123456789abcdef")

	k1, err := DeriveSoftwareKey("correct horse", salt, params)
	require.NoError(t, err)
	k2, err := DeriveSoftwareKey("correct horse", salt, params)
	require.NoError(t, err)
	assert.Len(t, k1, KeyLength)
	assert.Equal(t, k1, k2)

	k3, err := DeriveSoftwareKey("correct horse", []byte("fedcba9876543210"), params)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	tests := []struct {
		name       string
		passphrase string
		salt       []byte
		params     *Argon2Params
	}{
		{"empty passphrase", "", salt, params},
		{"short salt", "pw", []byte("short"), params},
		{"weak params", "pw", salt, &Argon2Params{Memory: 1, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeriveSoftwareKey(tt.passphrase, tt.salt, tt.params)
			assert.True(t, IsConfigurationError(err))
		})
	}
}

func TestKMSCipherRoundTripAndTamper(t *testing.T) {
	ctx := context.Background()
	kms := NewSimpleTestKMS()
	entry := NewTestKMSKey(t, kms, true)
	nonce := randomNonce(t)

	ciphertext, err := entry.Cipher.Seal(ctx, nonce, []byte("wrapped secret"))
	require.NoError(t, err)

	plaintext, err := entry.Cipher.Open(ctx, nonce, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "wrapped secret", string(plaintext))

	flipEveryBit(t, ciphertext, nonce, func(n, c []byte) error {
		_, err := entry.Cipher.Open(ctx, n, c)
		return err
	})

	for _, truncated := range [][]byte{nil, ciphertext[:1], ciphertext[:4]} {
		_, err := entry.Cipher.Open(ctx, nonce, truncated)
		assert.True(t, IsAuthError(err))
	}
}

func TestKMSCipherFreshDEKPerSeal(t *testing.T) {
	ctx := context.Background()
	kms := NewSimpleTestKMS()
	entry := NewTestKMSKey(t, kms, true)
	nonce := randomNonce(t)

	c1, err := entry.Cipher.Seal(ctx, nonce, []byte("same"))
	require.NoError(t, err)
	c2, err := entry.Cipher.Seal(ctx, nonce, []byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2)
	assert.Equal(t, 2, kms.Calls(entry.Key.ID.String()))
}

func TestKMSCipherUnavailableProvider(t *testing.T) {
	ctx := context.Background()
	kms := NewSimpleTestKMS()
	entry := NewTestKMSKey(t, kms, true)
	nonce := randomNonce(t)

	ciphertext, err := entry.Cipher.Seal(ctx, nonce, []byte("value"))
	require.NoError(t, err)

	kms.SetUnavailable(entry.Key.ID.String(), true)
	_, err = entry.Cipher.Open(ctx, nonce, ciphertext)
	assert.True(t, IsKeyNotFoundError(err))
	assert.True(t, IsRetryableError(err))
	assert.False(t, IsAuthError(err))

	kms.SetUnavailable(entry.Key.ID.String(), false)
	_, err = entry.Cipher.Open(ctx, nonce, ciphertext)
	assert.NoError(t, err)
}

func TestKMSCipherProviderErrorClassification(t *testing.T) {
	ctx := context.Background()
	nonce := make([]byte, NonceLength)

	tests := []struct {
		name      string
		err       error
		wantAuth  bool
		wantKey   bool
		retryable bool
	}{
		{"opaque provider error", errors.New("connection reset"), false, true, false},
		{"unavailable", ErrKMSUnavailable, false, true, true},
		{"rejected ciphertext", ErrAuthenticationFailed, true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kms := new(KeyManagementServiceMock)
			kms.On("EncryptDEK", mock.Anything, "kek", mock.Anything).Return(nil, tt.err)
			kms.On("DecryptDEK", mock.Anything, "kek", mock.Anything).Return(nil, tt.err)

			c, err := NewKMSCipher(kms, "kek", nil)
			require.NoError(t, err)

			_, err = c.Seal(ctx, nonce, []byte("x"))
			assert.Equal(t, tt.wantAuth, IsAuthError(err))
			assert.Equal(t, tt.wantKey, IsKeyNotFoundError(err))
			assert.Equal(t, tt.retryable, IsRetryableError(err))

			envelope := []byte{0, 3, 1, 2, 3, 4, 5}
			_, err = c.Open(ctx, nonce, envelope)
			assert.Equal(t, tt.wantAuth, IsAuthError(err))
			assert.Equal(t, tt.wantKey, IsKeyNotFoundError(err))

			kms.AssertExpectations(t)
		})
	}
}

func TestNewKMSCipherValidation(t *testing.T) {
	_, err := NewKMSCipher(nil, "kek", nil)
	assert.True(t, IsConfigurationError(err))
	_, err = NewKMSCipher(NewSimpleTestKMS(), "", nil)
	assert.True(t, IsConfigurationError(err))
}
