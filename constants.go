package credhub

import "time"

// Key material constants
const (
	// KeyLength is the size in bytes of every AES-256 key handled by the service,
	// including software-backed keys and per-value data encryption keys.
	KeyLength = 32

	// NonceLength is the GCM nonce size used for software-backed keys and DEKs.
	NonceLength = 12
)

// Environment variable names
const (
	// EnvConfigPath points at the YAML configuration file.
	// Default: credhub.yaml
	EnvConfigPath = "CREDHUB_CONFIG"

	// EnvDBPath overrides database.path from the configuration file.
	EnvDBPath = "CREDHUB_DB_PATH"

	// EnvLogLevel overrides logging.level (debug, info, warn, error).
	EnvLogLevel = "CREDHUB_LOG_LEVEL"

	// EnvLogFormat overrides logging.format (json or text).
	EnvLogFormat = "CREDHUB_LOG_FORMAT"

	// EnvAuditBucket overrides audit.s3_bucket.
	EnvAuditBucket = "CREDHUB_AUDIT_S3_BUCKET"

	// EnvMetricsAddr overrides metrics.listen_addr.
	EnvMetricsAddr = "CREDHUB_METRICS_ADDR"
)

// Default values
const (
	DefaultConfigPath = "credhub.yaml"

	// DefaultDBPath is the default location of the SQLite version store.
	DefaultDBPath = "credhub.db"

	DefaultMetricsAddr   = "127.0.0.1:9102"
	DefaultUsageInterval = time.Minute

	// DefaultReencryptConcurrency bounds the number of versions re-encrypted in parallel.
	DefaultReencryptConcurrency = 4

	DefaultAuditFlushSize = 100
)

// Credential name constraints
const (
	// NameSeparator delimits path segments in a credential name.
	NameSeparator = "/"

	// MaxNameLength is the maximum allowed length for a credential name in bytes.
	MaxNameLength = 1024
)

// Storage path templates for software key material held by secret backends.
const (
	// AWSKeyMaterialPathTemplate is the default Secrets Manager secret id for a key.
	// The %s placeholder is replaced with the key UUID.
	// Example: "credhub/keys/6c1c1a53-3b0f-4f38-9a54-3fb0e25a46a1"
	AWSKeyMaterialPathTemplate = "credhub/keys/%s"

	// VaultKeyMaterialPathTemplate is the default Vault KV v2 path for a key.
	// Example: "secret/data/credhub/keys/6c1c1a53-3b0f-4f38-9a54-3fb0e25a46a1"
	VaultKeyMaterialPathTemplate = "secret/data/credhub/keys/%s"
)
