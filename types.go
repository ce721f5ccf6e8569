package credhub

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProviderKind identifies where the material behind an encryption key lives.
type ProviderKind string

const (
	// ProviderInternal keys hold their AES key in process memory.
	ProviderInternal ProviderKind = "internal"
	// ProviderVaultTransit keys wrap per-value DEKs with HashiCorp Vault Transit.
	ProviderVaultTransit ProviderKind = "vault-transit"
	// ProviderAWSKMS keys wrap per-value DEKs with AWS KMS.
	ProviderAWSKMS ProviderKind = "aws-kms"
)

// HardwareBacked reports whether key material never leaves a remote device.
func (p ProviderKind) HardwareBacked() bool {
	return p == ProviderVaultTransit || p == ProviderAWSKMS
}

func (p ProviderKind) Valid() bool {
	switch p {
	case ProviderInternal, ProviderVaultTransit, ProviderAWSKMS:
		return true
	}
	return false
}

// EncryptionKey is a configured key definition. The key directory owns its lifecycle.
type EncryptionKey struct {
	ID       uuid.UUID    `json:"id" yaml:"id"`
	Provider ProviderKind `json:"provider" yaml:"provider"`
	Active   bool         `json:"active" yaml:"active"`
}

// KeyStatus classifies a key id against the current key directory.
type KeyStatus int

const (
	KeyUnknown KeyStatus = iota
	KeyInactive
	KeyActive
)

func (s KeyStatus) String() string {
	switch s {
	case KeyActive:
		return "ACTIVE"
	case KeyInactive:
		return "INACTIVE"
	default:
		return "UNKNOWN"
	}
}

// DirectoryState tracks the key directory lifecycle.
type DirectoryState int32

const (
	DirectoryUnconfigured DirectoryState = iota
	DirectoryValidated
	DirectoryActive
	DirectoryReloading
)

func (s DirectoryState) String() string {
	switch s {
	case DirectoryValidated:
		return "VALIDATED"
	case DirectoryActive:
		return "ACTIVE"
	case DirectoryReloading:
		return "RELOADING"
	default:
		return "UNCONFIGURED"
	}
}

// CredentialType is the closed set of credential type tags.
type CredentialType string

const (
	TypeValue       CredentialType = "value"
	TypePassword    CredentialType = "password"
	TypeCertificate CredentialType = "certificate"
	TypeSSH         CredentialType = "ssh"
	TypeRSA         CredentialType = "rsa"
	TypeJSON        CredentialType = "json"
	TypeUser        CredentialType = "user"
)

// CredentialTypes lists every supported type tag.
var CredentialTypes = []CredentialType{
	TypeValue, TypePassword, TypeCertificate, TypeSSH, TypeRSA, TypeJSON, TypeUser,
}

// ParseCredentialType accepts a type tag in any casing.
func ParseCredentialType(s string) (CredentialType, error) {
	t := CredentialType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", NewUnknownCredentialTypeError(s)
	}
	return t, nil
}

func (t CredentialType) Valid() bool {
	switch t {
	case TypeValue, TypePassword, TypeCertificate, TypeSSH, TypeRSA, TypeJSON, TypeUser:
		return true
	}
	return false
}

// Sealed is an encrypted payload together with the nonce used to produce it.
type Sealed struct {
	Ciphertext []byte
	Nonce      []byte
}

// CredentialVersion is one immutable stored version of a named credential.
type CredentialVersion struct {
	ID         uuid.UUID
	Name       string
	Type       CredentialType
	KeyID      uuid.UUID
	Value      Sealed
	Parameters *Sealed
	// SourceID is set on copies produced by re-encryption.
	SourceID  uuid.UUID
	CreatedAt time.Time
	// Sequence is assigned by the store on insert.
	Sequence int64
	// Ordinal orders versions that share a timestamp. The store sets it to
	// Sequence when it is zero; re-encrypted copies carry their source's.
	Ordinal int64
}

// Clone returns a deep copy so callers cannot alter stored records.
func (v *CredentialVersion) Clone() *CredentialVersion {
	if v == nil {
		return nil
	}
	c := *v
	c.Value = v.Value.clone()
	if v.Parameters != nil {
		p := v.Parameters.clone()
		c.Parameters = &p
	}
	return &c
}

func (s Sealed) clone() Sealed {
	return Sealed{
		Ciphertext: append([]byte(nil), s.Ciphertext...),
		Nonce:      append([]byte(nil), s.Nonce...),
	}
}

// NameSummary describes the most recent version of a name returned by searches.
type NameSummary struct {
	Name             string    `json:"name"`
	VersionCreatedAt time.Time `json:"version_created_at"`
}

// KeyCount is the number of stored versions referencing one key.
type KeyCount struct {
	KeyID uuid.UUID
	// Total counts every stored row, Live excludes rows superseded by a
	// re-encrypted copy.
	Total int64
	Live  int64
}

// KeyUsage is a point-in-time classification of stored versions by key.
type KeyUsage struct {
	ActiveKey           int64 `json:"active_key"`
	InactiveKeys        int64 `json:"inactive_keys"`
	UnknownKeys         int64 `json:"unknown_keys"`
	PendingReencryption int64 `json:"pending_reencryption"`
}

// Total returns the number of classified versions.
func (u KeyUsage) Total() int64 {
	return u.ActiveKey + u.InactiveKeys + u.UnknownKeys
}
