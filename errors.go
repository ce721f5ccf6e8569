package credhub

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// High-level service errors
	ErrKMSUnavailable       = errors.New("KMS service unavailable")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrEncryptionFailed     = errors.New("encryption failed")
	ErrStoreUnavailable     = errors.New("store unavailable")

	// Key errors
	ErrKeyNotFound = errors.New("key not found")

	// Credential errors
	ErrNotFound              = errors.New("credential not found")
	ErrUnknownCredentialType = errors.New("unknown credential type")
	ErrInvalidName           = errors.New("invalid credential name")
	ErrInvalidValue          = errors.New("invalid credential value")
	ErrNotRegeneratable      = errors.New("credential cannot be regenerated")
)

// CryptoError carries the identities involved in a failed key or credential
// operation so callers can log and map it without parsing messages.
type CryptoError struct {
	Op        string
	KeyID     uuid.UUID
	VersionID uuid.UUID
	Err       error
}

func (e *CryptoError) Error() string {
	msg := e.Op
	if e.KeyID != uuid.Nil {
		msg += fmt.Sprintf(" key=%s", e.KeyID)
	}
	if e.VersionID != uuid.Nil {
		msg += fmt.Sprintf(" version=%s", e.VersionID)
	}
	return msg + ": " + e.Err.Error()
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

func newCryptoError(op string, keyID, versionID uuid.UUID, err error) error {
	var ce *CryptoError
	if errors.As(err, &ce) && ce.Op == op {
		if ce.VersionID == uuid.Nil {
			ce.VersionID = versionID
		}
		return err
	}
	return &CryptoError{Op: op, KeyID: keyID, VersionID: versionID, Err: err}
}

// NewKeyNotFoundError reports key material that could not be resolved.
func NewKeyNotFoundError(keyID uuid.UUID, details string) error {
	return &CryptoError{
		Op:    "resolve key",
		KeyID: keyID,
		Err:   fmt.Errorf("%w: %s", ErrKeyNotFound, details),
	}
}

// NewUnknownCredentialTypeError reports a type tag outside the supported set.
func NewUnknownCredentialTypeError(typ string) error {
	return fmt.Errorf("%w: %q", ErrUnknownCredentialType, typ)
}

// IsRetryableError returns true if the error represents a transient failure that might succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrKMSUnavailable) ||
		errors.Is(err, ErrStoreUnavailable)
}

// IsConfigurationError returns true if the error represents a configuration problem.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration)
}

// IsAuthError returns true if ciphertext failed integrity verification.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed)
}

// IsKeyNotFoundError returns true if key material could not be resolved.
func IsKeyNotFoundError(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsNotFoundError returns true if the requested credential does not exist.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnknownTypeError returns true if a stored type tag is not supported.
func IsUnknownTypeError(err error) bool {
	return errors.Is(err, ErrUnknownCredentialType)
}

// IsValidationError returns true if the error represents rejected input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidValue) ||
		errors.Is(err, ErrNotRegeneratable)
}
