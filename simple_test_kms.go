package credhub

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SimpleTestKMS is an in-memory KeyManagementService for tests and local
// development. Each provider key is a random AES-256 key; wrapped DEKs are
// nonce || GCM ciphertext so tampering is detected the way a real provider
// would detect it.
type SimpleTestKMS struct {
	mu          sync.RWMutex
	keys        map[string]cipher.AEAD
	unavailable map[string]bool
	calls       map[string]int
}

func NewSimpleTestKMS() *SimpleTestKMS {
	return &SimpleTestKMS{
		keys:        make(map[string]cipher.AEAD),
		unavailable: make(map[string]bool),
		calls:       make(map[string]int),
	}
}

// CreateKey adds a provider key and returns its id.
func (s *SimpleTestKMS) CreateKey(name string) (string, error) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[name] = aead
	return name, nil
}

// SetUnavailable makes every call for keyID fail as if the provider were unreachable.
func (s *SimpleTestKMS) SetUnavailable(keyID string, unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable[keyID] = unavailable
}

// Calls returns how many wrap and unwrap calls keyID received.
func (s *SimpleTestKMS) Calls(keyID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[keyID]
}

func (s *SimpleTestKMS) key(keyID string) (cipher.AEAD, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[keyID]++

	if s.unavailable[keyID] {
		return nil, fmt.Errorf("%w: %w: provider key %q unreachable", ErrKeyNotFound, ErrKMSUnavailable, keyID)
	}
	aead, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: provider key %q does not exist", ErrKeyNotFound, keyID)
	}
	return aead, nil
}

func (s *SimpleTestKMS) EncryptDEK(ctx context.Context, keyID string, plaintext []byte) ([]byte, error) {
	aead, err := s.key(keyID)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *SimpleTestKMS) DecryptDEK(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error) {
	aead, err := s.key(keyID)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: wrapped DEK too short", ErrAuthenticationFailed)
	}
	return openGCM(aead, ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():])
}

// SimpleTestSecretStore is an in-memory SecretManagementService.
type SimpleTestSecretStore struct {
	mu      sync.RWMutex
	secrets map[string][]byte
}

func NewSimpleTestSecretStore() *SimpleTestSecretStore {
	return &SimpleTestSecretStore{secrets: make(map[string][]byte)}
}

func (s *SimpleTestSecretStore) SetKeyMaterial(path string, material []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[path] = append([]byte(nil), material...)
}

func (s *SimpleTestSecretStore) GetKeyMaterial(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	material, ok := s.secrets[path]
	if !ok {
		return nil, fmt.Errorf("%w: no key material at %q", ErrKeyNotFound, path)
	}
	return append([]byte(nil), material...), nil
}

func (s *SimpleTestSecretStore) GetStoragePath(keyID uuid.UUID) string {
	return fmt.Sprintf(VaultKeyMaterialPathTemplate, keyID)
}

func (s *SimpleTestSecretStore) StoreKeyMaterial(ctx context.Context, path string, material []byte) error {
	if len(material) != KeyLength {
		return fmt.Errorf("%w: key material must be %d bytes", ErrInvalidConfiguration, KeyLength)
	}
	s.SetKeyMaterial(path, material)
	return nil
}

func (s *SimpleTestSecretStore) KeyMaterialExists(ctx context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.secrets[path]
	return ok, nil
}
