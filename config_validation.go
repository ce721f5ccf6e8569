package credhub

import (
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"github.com/hengadev/errsx"
)

// Validate checks that the configuration is valid and applies defaults to
// optional fields. Problems are collected per field; the returned error wraps
// ErrInvalidConfiguration.
func (c *Config) Validate() error {
	errs := errsx.Map{}

	c.applyDefaults()

	switch c.Logging.Format {
	case "json", "text", "console":
	default:
		errs.Set("logging.format", fmt.Errorf("must be json, text or console, got %q", c.Logging.Format))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs.Set("logging.level", fmt.Errorf("unknown level %q", c.Logging.Level))
	}

	c.Encryption.validate(&errs)

	if c.Encryption.Argon2 != nil {
		if err := c.Encryption.Argon2.Validate(); err != nil {
			errs.Set("encryption.argon2", err)
		}
	}
	if c.Audit.FlushSize < 1 {
		errs.Set("audit.flush_size", fmt.Errorf("must be positive, got %d", c.Audit.FlushSize))
	}
	if c.Metrics.UsageInterval < 0 {
		errs.Set("metrics.usage_interval", fmt.Errorf("cannot be negative"))
	}

	if !errs.IsEmpty() {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, errs.AsError())
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = DefaultDBPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Encryption.ReencryptConcurrency <= 0 {
		c.Encryption.ReencryptConcurrency = DefaultReencryptConcurrency
	}
	if c.Encryption.Retry == (RetryConfig{}) {
		c.Encryption.Retry = DefaultRetryConfig()
	}
	if c.Audit.FlushSize == 0 {
		c.Audit.FlushSize = DefaultAuditFlushSize
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = DefaultMetricsAddr
	}
	if c.Metrics.UsageInterval == 0 {
		c.Metrics.UsageInterval = DefaultUsageInterval
	}
}

func (e *EncryptionConfig) validate(errs *errsx.Map) {
	if len(e.Keys) == 0 {
		errs.Set("encryption.keys", fmt.Errorf("at least one key is required"))
		return
	}

	active := 0
	seen := make(map[uuid.UUID]bool)
	for i, k := range e.Keys {
		field := fmt.Sprintf("encryption.keys[%d]", i)
		id, err := uuid.Parse(k.ID)
		if err != nil {
			errs.Set(field+".id", fmt.Errorf("invalid uuid %q: %w", k.ID, err))
		} else if seen[id] {
			errs.Set(field+".id", fmt.Errorf("duplicate key id %s", id))
		} else {
			seen[id] = true
		}
		if k.Active {
			active++
		}
		if err := k.validateMaterial(); err != nil {
			errs.Set(field, err)
		}
	}

	if active != 1 {
		errs.Set("encryption.keys.active", fmt.Errorf("exactly one key must be active, got %d", active))
	}
}

func (k KeyConfig) validateMaterial() error {
	switch k.Provider {
	case ProviderInternal:
		sources := 0
		if k.Key != "" {
			sources++
			raw, err := base64.StdEncoding.DecodeString(k.Key)
			if err != nil {
				return fmt.Errorf("key is not valid base64: %w", err)
			}
			if len(raw) != KeyLength {
				return fmt.Errorf("key must decode to %d bytes, got %d", KeyLength, len(raw))
			}
		}
		if k.Passphrase != "" {
			sources++
			if k.Salt == "" {
				return fmt.Errorf("salt is required with passphrase")
			}
			if _, err := base64.StdEncoding.DecodeString(k.Salt); err != nil {
				return fmt.Errorf("salt is not valid base64: %w", err)
			}
		}
		if k.Secret != nil {
			sources++
			switch k.Secret.Backend {
			case SecretBackendVaultKV, SecretBackendSecretsManager:
			default:
				return fmt.Errorf("unknown secret backend %q", k.Secret.Backend)
			}
		}
		if sources != 1 {
			return fmt.Errorf("internal keys need exactly one of key, passphrase or secret, got %d", sources)
		}
	case ProviderVaultTransit, ProviderAWSKMS:
		if k.ProviderKeyID == "" {
			return fmt.Errorf("provider_key_id is required for %s keys", k.Provider)
		}
	default:
		return fmt.Errorf("unknown provider %q", k.Provider)
	}
	return nil
}
