package credhub

import (
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/credhub/internal/reliability"
)

// Config holds the configuration of a credhub deployment.
//
// This struct contains only data, no behavior. It is usually read from a YAML
// file with LoadConfig, which also applies CREDHUB_* environment overrides and
// validates the result.
//
// Example:
//
//	database:
//	  path: /var/lib/credhub/credhub.db
//	encryption:
//	  keys:
//	    - id: 9b0e4a4e-5a3e-4c55-9d3f-61f8f6d0a7c1
//	      provider: internal
//	      passphrase: ${CREDHUB_KEY_PASSPHRASE}
//	      salt: c2FsdHNhbHRzYWx0c2FsdA==
//	      active: true
//	    - id: 0f7d6c57-08a3-4b4f-a0a8-0f7b1e2b0d55
//	      provider: vault-transit
//	      provider_key_id: credhub-kek
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Audit      AuditConfig      `yaml:"audit"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type DatabaseConfig struct {
	// Path is the SQLite database file. Default: credhub.db
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `yaml:"level"`
	// Format is json or text. Default: json
	Format string `yaml:"format"`
}

type EncryptionConfig struct {
	// Keys lists every key the directory knows. Exactly one must be active,
	// and keys referenced by stored versions must stay listed.
	Keys  []KeyConfig `yaml:"keys"`
	Retry RetryConfig `yaml:"retry"`
	// ReencryptConcurrency bounds parallel re-encryptions. Default: 4
	ReencryptConcurrency int `yaml:"reencrypt_concurrency"`
	// Argon2 tunes passphrase key derivation and user password hashes.
	Argon2 *Argon2Params `yaml:"argon2"`
}

// KeyConfig defines one encryption key and where its material comes from.
//
// Internal keys take their material from exactly one of Key (base64),
// Passphrase plus Salt (Argon2id), or Secret. Hardware-backed keys name the
// provider-side key in ProviderKeyID.
type KeyConfig struct {
	ID       string       `yaml:"id"`
	Provider ProviderKind `yaml:"provider"`
	Active   bool         `yaml:"active"`

	Key        string     `yaml:"key,omitempty"`
	Passphrase string     `yaml:"passphrase,omitempty"`
	Salt       string     `yaml:"salt,omitempty"`
	Secret     *SecretRef `yaml:"secret,omitempty"`

	ProviderKeyID string `yaml:"provider_key_id,omitempty"`
	Region        string `yaml:"region,omitempty"`
}

// Secret backends for internal key material
const (
	SecretBackendVaultKV        = "vault-kv"
	SecretBackendSecretsManager = "aws-secrets-manager"
)

// SecretRef points at key material held by a secret backend.
type SecretRef struct {
	Backend string `yaml:"backend"`
	// Path defaults to the backend's storage path for the key id.
	Path   string `yaml:"path,omitempty"`
	Region string `yaml:"region,omitempty"`
}

// Definition returns the key definition the directory stores.
func (k KeyConfig) Definition() (EncryptionKey, error) {
	id, err := uuid.Parse(k.ID)
	if err != nil {
		return EncryptionKey{}, err
	}
	return EncryptionKey{ID: id, Provider: k.Provider, Active: k.Active}, nil
}

// RetryConfig bounds retries of transient key provider and store failures.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

func DefaultRetryConfig() RetryConfig {
	def := reliability.DefaultRetryConfig()
	return RetryConfig{
		MaxAttempts:  def.MaxAttempts,
		InitialDelay: def.InitialDelay,
		MaxDelay:     def.MaxDelay,
		Multiplier:   def.Multiplier,
	}
}

func (c RetryConfig) reliability() reliability.RetryConfig {
	return reliability.RetryConfig{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
		Multiplier:   c.Multiplier,
		Jitter:       reliability.DefaultRetryConfig().Jitter,
		ShouldRetry:  IsRetryableError,
	}
}

type AuditConfig struct {
	// S3Bucket enables archiving audit events to S3 when set.
	S3Bucket string `yaml:"s3_bucket"`
	S3Prefix string `yaml:"s3_prefix"`
	Region   string `yaml:"region"`
	// FlushSize is the number of events buffered per archived object. Default: 100
	FlushSize int `yaml:"flush_size"`
}

type MetricsConfig struct {
	// ListenAddr is where the monitor command serves /metrics. Default: 127.0.0.1:9102
	ListenAddr string `yaml:"listen_addr"`
	// UsageInterval is how often key usage is recomputed. Default: 1m
	UsageInterval time.Duration `yaml:"usage_interval"`
}
