package credhub

import (
	"fmt"

	"github.com/hengadev/errsx"
)

// Argon2Params defines the parameters for Argon2id. They drive both the
// derivation of software keys from passphrases and user password hashes.
type Argon2Params struct {
	Memory      uint32 `yaml:"memory"`
	Iterations  uint32 `yaml:"iterations"`
	Parallelism uint8  `yaml:"parallelism"`
	SaltLength  uint32 `yaml:"salt_length"`
	KeyLength   uint32 `yaml:"key_length"`
}

// DefaultArgon2Params returns recommended parameters for Argon2id
func DefaultArgon2Params() *Argon2Params {
	return &Argon2Params{
		Memory:      64 * 1024, // 64MB
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Validate checks if the Argon2 parameters are within acceptable ranges
func (a *Argon2Params) Validate() error {
	if a == nil {
		return fmt.Errorf("argon2 parameters are required")
	}
	errs := errsx.Map{}

	// Memory should be at least 8MB (8192 KiB)
	if a.Memory < 8192 {
		errs.Set("memory", fmt.Errorf("memory must be at least 8192 KiB, got %d", a.Memory))
	}

	if a.Iterations < 2 {
		errs.Set("iterations", fmt.Errorf("iterations must be at least 2, got %d", a.Iterations))
	}

	if a.Parallelism < 1 {
		errs.Set("parallelism", fmt.Errorf("parallelism must be at least 1, got %d", a.Parallelism))
	}

	if a.SaltLength < 16 {
		errs.Set("saltLength", fmt.Errorf("salt length must be at least 16 bytes, got %d", a.SaltLength))
	}

	if a.KeyLength < 32 {
		errs.Set("keyLength", fmt.Errorf("key length must be at least 32 bytes, got %d", a.KeyLength))
	}

	return errs.AsError()
}
