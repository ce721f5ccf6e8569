package credhub

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hengadev/credhub/internal/security"
	"golang.org/x/crypto/argon2"
)

// NewSoftwareCipher returns an AES-256-GCM cipher over a KeyLength-byte key
// held in process memory.
func NewSoftwareCipher(key []byte) (KeyCipher, error) {
	if len(key) != KeyLength {
		return nil, fmt.Errorf("%w: software key must be %d bytes, got %d", ErrInvalidConfiguration, KeyLength, len(key))
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	return &softwareCipher{aead: aead}, nil
}

// DeriveSoftwareKey stretches a passphrase into a KeyLength-byte key with Argon2id.
// The same passphrase and salt always yield the same key.
func DeriveSoftwareKey(passphrase string, salt []byte, params *Argon2Params) ([]byte, error) {
	if params == nil {
		params = DefaultArgon2Params()
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: argon2 parameters: %w", ErrInvalidConfiguration, err)
	}
	if passphrase == "" {
		return nil, fmt.Errorf("%w: passphrase cannot be empty", ErrInvalidConfiguration)
	}
	if len(salt) < int(params.SaltLength) {
		return nil, fmt.Errorf("%w: salt must be at least %d bytes, got %d", ErrInvalidConfiguration, params.SaltLength, len(salt))
	}
	return argon2.IDKey([]byte(passphrase), salt, params.Iterations, params.Memory, params.Parallelism, KeyLength), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

type softwareCipher struct {
	aead cipher.AEAD
}

func (c *softwareCipher) NonceSize() int {
	return c.aead.NonceSize()
}

func (c *softwareCipher) Seal(_ context.Context, nonce, plaintext []byte) ([]byte, error) {
	if len(nonce) != c.aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrEncryptionFailed, c.aead.NonceSize(), len(nonce))
	}
	return c.aead.Seal(nil, nonce, plaintext, nil), nil
}

func (c *softwareCipher) Open(_ context.Context, nonce, ciphertext []byte) ([]byte, error) {
	return openGCM(c.aead, nonce, ciphertext)
}

func openGCM(aead cipher.AEAD, nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrAuthenticationFailed, aead.NonceSize(), len(nonce))
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext integrity check failed", ErrAuthenticationFailed)
	}
	return plaintext, nil
}

// wrappedDEKHeader is the size of the length prefix in front of a wrapped DEK.
const wrappedDEKHeader = 2

// NewKMSCipher returns a cipher whose material never leaves a remote key
// provider. Every Seal draws a fresh DEK from random, wraps it with kms and
// seals the payload locally with AES-256-GCM. The stored ciphertext is
//
//	uint16 big-endian len(wrapped DEK) || wrapped DEK || GCM ciphertext
func NewKMSCipher(kms KeyManagementService, kmsKeyID string, random io.Reader) (KeyCipher, error) {
	if kms == nil {
		return nil, fmt.Errorf("%w: key management service is required", ErrInvalidConfiguration)
	}
	if kmsKeyID == "" {
		return nil, fmt.Errorf("%w: provider key id cannot be empty", ErrInvalidConfiguration)
	}
	if random == nil {
		random = security.NewSecureRandomGenerator()
	}
	return &kmsCipher{kms: kms, keyID: kmsKeyID, random: random}, nil
}

type kmsCipher struct {
	kms    KeyManagementService
	keyID  string
	random io.Reader
}

func (c *kmsCipher) NonceSize() int {
	return NonceLength
}

func (c *kmsCipher) Seal(ctx context.Context, nonce, plaintext []byte) ([]byte, error) {
	if len(nonce) != NonceLength {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrEncryptionFailed, NonceLength, len(nonce))
	}

	dek := make([]byte, KeyLength)
	if _, err := io.ReadFull(c.random, dek); err != nil {
		return nil, fmt.Errorf("%w: generate DEK: %w", ErrEncryptionFailed, err)
	}
	defer security.ZeroBytes(dek)

	wrapped, err := c.kms.EncryptDEK(ctx, c.keyID, dek)
	if err != nil {
		return nil, classifyProviderError(err)
	}
	if len(wrapped) == 0 || len(wrapped) > 0xFFFF {
		return nil, fmt.Errorf("%w: wrapped DEK has unsupported size %d", ErrEncryptionFailed, len(wrapped))
	}

	aead, err := newGCM(dek)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}

	out := make([]byte, wrappedDEKHeader, wrappedDEKHeader+len(wrapped)+len(plaintext)+aead.Overhead())
	binary.BigEndian.PutUint16(out, uint16(len(wrapped)))
	out = append(out, wrapped...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

func (c *kmsCipher) Open(ctx context.Context, nonce, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < wrappedDEKHeader {
		return nil, fmt.Errorf("%w: envelope too short", ErrAuthenticationFailed)
	}
	n := int(binary.BigEndian.Uint16(ciphertext))
	if n == 0 || len(ciphertext) < wrappedDEKHeader+n {
		return nil, fmt.Errorf("%w: malformed envelope", ErrAuthenticationFailed)
	}
	wrapped := ciphertext[wrappedDEKHeader : wrappedDEKHeader+n]
	sealed := ciphertext[wrappedDEKHeader+n:]

	dek, err := c.kms.DecryptDEK(ctx, c.keyID, wrapped)
	if err != nil {
		return nil, classifyProviderError(err)
	}
	defer security.ZeroBytes(dek)

	aead, err := newGCM(dek)
	if err != nil {
		// A DEK of the wrong size can only come from a corrupted envelope.
		return nil, fmt.Errorf("%w: unwrapped DEK is invalid", ErrAuthenticationFailed)
	}
	return openGCM(aead, nonce, sealed)
}

// classifyProviderError keeps provider errors that already carry a kind and
// treats anything else as unreachable key material.
func classifyProviderError(err error) error {
	if errors.Is(err, ErrAuthenticationFailed) || errors.Is(err, ErrKeyNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrKeyNotFound, err)
}
