package security

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"
)

// SerialNumberBits bounds generated X.509 serial numbers. Serials are capped
// at 20 bytes including a sign bit, so 159 unsigned bits never encode negative.
const SerialNumberBits = 159

var serialNumberLimit = new(big.Int).Lsh(big.NewInt(1), SerialNumberBits)

// Password character classes
const (
	lowercaseChars = "abcdefghijklmnopqrstuvwxyz"
	uppercaseChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars     = "0123456789"
	specialChars   = "!\"#$%&'()*,-./:;<=>?@[\\]^_`{|}~"
	hexChars       = "0123456789ABCDEF"
)

// Password length bounds
const (
	DefaultPasswordLength = 30
	MinPasswordLength     = 4
	MaxPasswordLength     = 200
)

// SecureRandomGenerator provides cryptographically secure random number generation.
// It is the single entropy source shared by nonce, key, password and serial generation.
type SecureRandomGenerator struct {
	reader io.Reader
	mutex  sync.Mutex
}

// NewSecureRandomGenerator creates a new secure random generator
func NewSecureRandomGenerator() *SecureRandomGenerator {
	return &SecureRandomGenerator{
		reader: rand.Reader,
	}
}

// NewSecureRandomGeneratorFrom wraps an explicit reader. Tests use it to inject
// deterministic or failing sources.
func NewSecureRandomGeneratorFrom(r io.Reader) *SecureRandomGenerator {
	return &SecureRandomGenerator{reader: r}
}

// Read fills b completely with secure random bytes
func (srg *SecureRandomGenerator) Read(b []byte) (int, error) {
	srg.mutex.Lock()
	defer srg.mutex.Unlock()

	n, err := io.ReadFull(srg.reader, b)
	if err != nil {
		return n, fmt.Errorf("secure random generation failed: %w", err)
	}

	return n, nil
}

// Generate generates a slice of secure random bytes
func (srg *SecureRandomGenerator) Generate(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid size: %d", size)
	}

	data := make([]byte, size)
	_, err := srg.Read(data)
	if err != nil {
		return nil, err
	}

	return data, nil
}

// GenerateKey generates a cryptographic key of specified size
func (srg *SecureRandomGenerator) GenerateKey(keySize int) ([]byte, error) {
	if keySize < 16 {
		return nil, fmt.Errorf("insecure key size: %d bytes (minimum 16 bytes)", keySize)
	}

	return srg.Generate(keySize)
}

// GenerateNonce generates a cryptographically secure nonce
func (srg *SecureRandomGenerator) GenerateNonce(size int) ([]byte, error) {
	if size < 12 { // GCM recommends 12 bytes minimum
		return nil, fmt.Errorf("nonce size too small: %d bytes (minimum 12 bytes)", size)
	}

	return srg.Generate(size)
}

// GenerateSalt generates a cryptographically secure salt
func (srg *SecureRandomGenerator) GenerateSalt(size int) ([]byte, error) {
	if size < 16 { // Minimum recommended salt size
		return nil, fmt.Errorf("salt size too small: %d bytes (minimum 16 bytes)", size)
	}

	return srg.Generate(size)
}

// SerialNumber returns a uniformly distributed integer in [0, 2^159).
func (srg *SecureRandomGenerator) SerialNumber() (*big.Int, error) {
	n, err := rand.Int(srg, serialNumberLimit)
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}
	return n, nil
}

// PasswordPolicy selects the character classes of a generated password.
type PasswordPolicy struct {
	Length         int
	ExcludeUpper   bool
	ExcludeLower   bool
	ExcludeNumber  bool
	IncludeSpecial bool
	OnlyHex        bool
}

func (p PasswordPolicy) classes() []string {
	if p.OnlyHex {
		return []string{hexChars}
	}
	var classes []string
	if !p.ExcludeLower {
		classes = append(classes, lowercaseChars)
	}
	if !p.ExcludeUpper {
		classes = append(classes, uppercaseChars)
	}
	if !p.ExcludeNumber {
		classes = append(classes, digitChars)
	}
	if p.IncludeSpecial {
		classes = append(classes, specialChars)
	}
	return classes
}

// Validate reports a policy that cannot produce a password.
func (p PasswordPolicy) Validate() error {
	length := p.Length
	if length == 0 {
		length = DefaultPasswordLength
	}
	if length < MinPasswordLength || length > MaxPasswordLength {
		return fmt.Errorf("password length must be between %d and %d, got %d", MinPasswordLength, MaxPasswordLength, length)
	}
	classes := p.classes()
	if len(classes) == 0 {
		return fmt.Errorf("password policy excludes every character class")
	}
	if len(classes) > length {
		return fmt.Errorf("password length %d cannot hold %d character classes", length, len(classes))
	}
	return nil
}

// GeneratePassword returns a password drawing uniformly from the enabled
// character classes, with at least one character of each enabled class.
func (srg *SecureRandomGenerator) GeneratePassword(policy PasswordPolicy) (string, error) {
	if err := policy.Validate(); err != nil {
		return "", err
	}
	length := policy.Length
	if length == 0 {
		length = DefaultPasswordLength
	}

	classes := policy.classes()
	charset := strings.Join(classes, "")

	password := make([]byte, length)
	for i := range password {
		c, err := srg.pick(charset)
		if err != nil {
			return "", err
		}
		password[i] = c
	}

	// Force inclusion of each class at distinct positions
	positions, err := srg.perm(length)
	if err != nil {
		return "", err
	}
	for i, class := range classes {
		c, err := srg.pick(class)
		if err != nil {
			return "", err
		}
		password[positions[i]] = c
	}

	return string(password), nil
}

func (srg *SecureRandomGenerator) pick(charset string) (byte, error) {
	i, err := srg.intn(len(charset))
	if err != nil {
		return 0, err
	}
	return charset[i], nil
}

func (srg *SecureRandomGenerator) intn(n int) (int, error) {
	v, err := rand.Int(srg, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("secure random generation failed: %w", err)
	}
	return int(v.Int64()), nil
}

// perm is a Fisher-Yates shuffle of [0, n).
func (srg *SecureRandomGenerator) perm(n int) ([]int, error) {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j, err := srg.intn(i + 1)
		if err != nil {
			return nil, err
		}
		p[i], p[j] = p[j], p[i]
	}
	return p, nil
}

// Global convenience functions

var globalRandom = NewSecureRandomGenerator()

// GenerateSecureRandom returns size bytes from the process-wide generator.
func GenerateSecureRandom(size int) ([]byte, error) {
	return globalRandom.Generate(size)
}

// GenerateSerialNumber returns a serial from the process-wide generator.
func GenerateSerialNumber() (*big.Int, error) {
	return globalRandom.SerialNumber()
}
