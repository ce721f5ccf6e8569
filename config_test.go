package credhub

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
database:
  path: /tmp/credhub.db
logging:
  level: debug
  format: text
encryption:
  keys:
    - id: 9b0e4a4e-5a3e-4c55-9d3f-61f8f6d0a7c1
      provider: internal
      passphrase: ${TEST_CREDHUB_PASSPHRASE}
      salt: MDEyMzQ1Njc4OWFiY2RlZg==
      active: true
    - id: 0f7d6c57-08a3-4b4f-a0a8-0f7b1e2b0d55
      provider: vault-transit
      provider_key_id: credhub-kek
    - id: 5b2f3f0e-3f9a-4d49-8d7e-2a4f3f1d8c11
      provider: aws-kms
      provider_key_id: alias/credhub
      region: eu-west-1
    - id: 2d9a5e0c-7a7e-4d1c-9b0b-1e6f9e8d1f22
      provider: internal
      secret:
        backend: vault-kv
  retry:
    max_attempts: 5
    initial_delay: 50ms
metrics:
  usage_interval: 30s
`

func TestParseConfig(t *testing.T) {
	t.Setenv("TEST_CREDHUB_PASSPHRASE", "from-env")

	cfg, err := ParseConfig([]byte(validConfig))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/credhub.db", cfg.Database.Path)
	assert.Equal(t, "text", cfg.Logging.Format)
	require.Len(t, cfg.Encryption.Keys, 4)
	assert.Equal(t, "from-env", cfg.Encryption.Keys[0].Passphrase)
	assert.Equal(t, ProviderAWSKMS, cfg.Encryption.Keys[2].Provider)
	assert.Equal(t, 5, cfg.Encryption.Retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Encryption.Retry.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.Metrics.UsageInterval)

	// Defaults
	assert.Equal(t, DefaultReencryptConcurrency, cfg.Encryption.ReencryptConcurrency)
	assert.Equal(t, DefaultAuditFlushSize, cfg.Audit.FlushSize)
	assert.Equal(t, DefaultMetricsAddr, cfg.Metrics.ListenAddr)

	def, err := cfg.Encryption.Keys[0].Definition()
	require.NoError(t, err)
	assert.True(t, def.Active)
	assert.Equal(t, ProviderInternal, def.Provider)
}

func TestParseConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("TEST_CREDHUB_PASSPHRASE", "x")
	t.Setenv(EnvDBPath, "/override.db")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvAuditBucket, "audit-bucket")

	cfg, err := ParseConfig([]byte(validConfig))
	require.NoError(t, err)
	assert.Equal(t, "/override.db", cfg.Database.Path)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "audit-bucket", cfg.Audit.S3Bucket)
}

func TestConfigValidation(t *testing.T) {
	key := func(id string, active bool) KeyConfig {
		return KeyConfig{ID: id, Provider: ProviderInternal, Active: active, Key: "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="}
	}
	const (
		id1 = "9b0e4a4e-5a3e-4c55-9d3f-61f8f6d0a7c1"
		id2 = "0f7d6c57-08a3-4b4f-a0a8-0f7b1e2b0d55"
	)

	tests := []struct {
		name    string
		keys    []KeyConfig
		wantErr bool
	}{
		{"valid", []KeyConfig{key(id1, true), key(id2, false)}, false},
		{"no keys", nil, true},
		{"no active key", []KeyConfig{key(id1, false)}, true},
		{"two active keys", []KeyConfig{key(id1, true), key(id2, true)}, true},
		{"duplicate ids", []KeyConfig{key(id1, true), key(id1, false)}, true},
		{"bad uuid", []KeyConfig{key("not-a-uuid", true)}, true},
		{"short key", []KeyConfig{{ID: id1, Provider: ProviderInternal, Active: true, Key: "c2hvcnQ="}}, true},
		{"passphrase without salt", []KeyConfig{{ID: id1, Provider: ProviderInternal, Active: true, Passphrase: "pw"}}, true},
		{"two material sources", []KeyConfig{{ID: id1, Provider: ProviderInternal, Active: true, Passphrase: "pw", Salt: "c2FsdA==", Key: "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="}}, true},
		{"unknown secret backend", []KeyConfig{{ID: id1, Provider: ProviderInternal, Active: true, Secret: &SecretRef{Backend: "etcd"}}}, true},
		{"transit without key", []KeyConfig{{ID: id1, Provider: ProviderVaultTransit, Active: true}}, true},
		{"unknown provider", []KeyConfig{{ID: id1, Provider: "hsm", Active: true}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Encryption: EncryptionConfig{Keys: tt.keys}}
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsConfigurationError(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfigValidationLogging(t *testing.T) {
	cfg := Config{
		Logging: LoggingConfig{Format: "xml", Level: "loud"},
		Encryption: EncryptionConfig{Keys: []KeyConfig{{
			ID: "9b0e4a4e-5a3e-4c55-9d3f-61f8f6d0a7c1", Provider: ProviderVaultTransit, ProviderKeyID: "k", Active: true,
		}}},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("TEST_CREDHUB_PASSPHRASE", "x")
	path := filepath.Join(t.TempDir(), "credhub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Encryption.Keys, 4)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, IsConfigurationError(err))

	_, err = ParseConfig([]byte("encryption: [not a map"))
	assert.True(t, IsConfigurationError(err))
}
