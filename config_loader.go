package credhub

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads the YAML configuration at path, expands ${VAR} references
// from the environment, applies CREDHUB_* overrides and validates the result.
//
// Environment overrides:
//   - CREDHUB_DB_PATH: database.path
//   - CREDHUB_LOG_LEVEL: logging.level
//   - CREDHUB_LOG_FORMAT: logging.format
//   - CREDHUB_AUDIT_S3_BUCKET: audit.s3_bucket
//   - CREDHUB_METRICS_ADDR: metrics.listen_addr
//
// Example usage:
//
//	cfg, err := credhub.LoadConfig(os.Getenv(credhub.EnvConfigPath))
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: config file %s not found", ErrInvalidConfiguration, path)
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig is LoadConfig for configuration already in memory.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse config: %w", ErrInvalidConfiguration, err)
	}

	cfg.applyEnvironment()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvironment() {
	c.Database.Path = getEnvOrDefault(EnvDBPath, c.Database.Path)
	c.Logging.Level = getEnvOrDefault(EnvLogLevel, c.Logging.Level)
	c.Logging.Format = getEnvOrDefault(EnvLogFormat, c.Logging.Format)
	c.Audit.S3Bucket = getEnvOrDefault(EnvAuditBucket, c.Audit.S3Bucket)
	c.Metrics.ListenAddr = getEnvOrDefault(EnvMetricsAddr, c.Metrics.ListenAddr)
}

// getEnvOrDefault returns the value of an environment variable, or a default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
