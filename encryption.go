package credhub

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/credhub/internal/security"
)

// EncryptionService encrypts and decrypts payloads under keys held by a
// KeyDirectory. It keeps no state of its own beyond the shared randomness
// source; every call draws a fresh nonce.
type EncryptionService struct {
	directory *KeyDirectory
	random    io.Reader
	metrics   MetricsCollector
}

// EncryptionOption configures an EncryptionService.
type EncryptionOption func(*EncryptionService)

// WithRandom replaces the randomness source used for nonces.
func WithRandom(r io.Reader) EncryptionOption {
	return func(e *EncryptionService) {
		if r != nil {
			e.random = r
		}
	}
}

// WithEncryptionMetrics reports encrypt/decrypt counters and timings to m.
func WithEncryptionMetrics(m MetricsCollector) EncryptionOption {
	return func(e *EncryptionService) {
		if m != nil {
			e.metrics = m
		}
	}
}

func NewEncryptionService(directory *KeyDirectory, opts ...EncryptionOption) *EncryptionService {
	e := &EncryptionService{
		directory: directory,
		random:    security.NewSecureRandomGenerator(),
		metrics:   &NoOpMetricsCollector{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Directory returns the key directory the service resolves keys from.
func (e *EncryptionService) Directory() *KeyDirectory {
	return e.directory
}

// Encrypt seals plaintext under keyID with a fresh nonce.
func (e *EncryptionService) Encrypt(ctx context.Context, keyID uuid.UUID, plaintext []byte) (Sealed, error) {
	entry, ok := e.directory.Key(keyID)
	if !ok {
		return Sealed{}, NewKeyNotFoundError(keyID, "key is not configured")
	}
	return e.seal(ctx, entry, plaintext)
}

// Decrypt opens a payload sealed under keyID. It fails with
// ErrAuthenticationFailed when the ciphertext or nonce were altered or belong
// to another key, and with ErrKeyNotFound when the key material cannot be reached.
func (e *EncryptionService) Decrypt(ctx context.Context, keyID uuid.UUID, sealed Sealed) ([]byte, error) {
	entry, ok := e.directory.Key(keyID)
	if !ok {
		return nil, NewKeyNotFoundError(keyID, "key is not configured")
	}
	return e.open(ctx, entry, sealed)
}

func (e *EncryptionService) seal(ctx context.Context, entry KeyEntry, plaintext []byte) (sealed Sealed, err error) {
	start := time.Now()
	defer func() {
		e.metrics.IncrementCounter(MetricEncrypt, statusTags(err))
		e.metrics.RecordTiming(MetricEncryptDuration, time.Since(start), map[string]string{"provider": string(entry.Key.Provider)})
	}()

	nonce := make([]byte, entry.Cipher.NonceSize())
	if _, err := io.ReadFull(e.random, nonce); err != nil {
		return Sealed{}, newCryptoError("encrypt", entry.Key.ID, uuid.Nil,
			fmt.Errorf("%w: generate nonce: %w", ErrEncryptionFailed, err))
	}

	ciphertext, err := entry.Cipher.Seal(ctx, nonce, plaintext)
	if err != nil {
		return Sealed{}, newCryptoError("encrypt", entry.Key.ID, uuid.Nil, err)
	}
	return Sealed{Ciphertext: ciphertext, Nonce: nonce}, nil
}

func (e *EncryptionService) open(ctx context.Context, entry KeyEntry, sealed Sealed) (plaintext []byte, err error) {
	start := time.Now()
	defer func() {
		e.metrics.IncrementCounter(MetricDecrypt, statusTags(err))
		e.metrics.RecordTiming(MetricDecryptDuration, time.Since(start), map[string]string{"provider": string(entry.Key.Provider)})
	}()

	plaintext, err = entry.Cipher.Open(ctx, sealed.Nonce, sealed.Ciphertext)
	if err != nil {
		return nil, newCryptoError("decrypt", entry.Key.ID, uuid.Nil, err)
	}
	return plaintext, nil
}
