package credhub

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/hengadev/credhub/internal/security"
	"github.com/hengadev/errsx"
	"golang.org/x/crypto/ssh"
)

const (
	DefaultKeyLength       = 2048
	DefaultCertificateDays = 365
	DefaultUsernameLength  = 20
	MaxCertificateDays     = 3650
)

var allowedKeyLengths = []int{2048, 3072, 4096}

// CredentialGenerator produces fresh credential values from generation
// parameters. All randomness, including RSA key generation and certificate
// serial numbers, comes from the wrapped generator.
type CredentialGenerator struct {
	random *security.SecureRandomGenerator
	now    func() time.Time
}

func NewCredentialGenerator(random *security.SecureRandomGenerator) *CredentialGenerator {
	if random == nil {
		random = security.NewSecureRandomGenerator()
	}
	return &CredentialGenerator{random: random, now: time.Now}
}

// RandomSerialNumber returns a uniformly distributed non-negative serial
// number below 2^159, suitable for X.509 certificates.
func (g *CredentialGenerator) RandomSerialNumber() (*big.Int, error) {
	return g.random.SerialNumber()
}

func (g *CredentialGenerator) GeneratePassword(p PasswordParameters) (PasswordCredential, error) {
	pw, err := g.random.GeneratePassword(security.PasswordPolicy{
		Length:         p.Length,
		ExcludeUpper:   p.ExcludeUpper,
		ExcludeLower:   p.ExcludeLower,
		ExcludeNumber:  p.ExcludeNumber,
		IncludeSpecial: p.IncludeSpecial,
		OnlyHex:        p.OnlyHex,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	return PasswordCredential(pw), nil
}

// GenerateUser returns a user with a generated password. A username is
// generated too when the parameters do not fix one.
func (g *CredentialGenerator) GenerateUser(p UserParameters) (UserCredential, error) {
	username := p.Username
	if username == "" {
		generated, err := g.random.GeneratePassword(security.PasswordPolicy{
			Length:        DefaultUsernameLength,
			ExcludeNumber: true,
		})
		if err != nil {
			return UserCredential{}, err
		}
		username = generated
	}
	pw, err := g.GeneratePassword(p.Password)
	if err != nil {
		return UserCredential{}, err
	}
	return UserCredential{Username: username, Password: string(pw)}, nil
}

func (g *CredentialGenerator) GenerateRSA(p RSAParameters) (RSACredential, error) {
	key, err := g.rsaKey(p.KeyLength)
	if err != nil {
		return RSACredential{}, err
	}
	pub, err := encodePublicKey(&key.PublicKey)
	if err != nil {
		return RSACredential{}, err
	}
	return RSACredential{PublicKey: pub, PrivateKey: encodePrivateKey(key)}, nil
}

// GenerateSSH returns an RSA key pair with the public key in authorized_keys
// format and the private key in OpenSSH format.
func (g *CredentialGenerator) GenerateSSH(p SSHParameters) (SSHCredential, error) {
	key, err := g.rsaKey(p.KeyLength)
	if err != nil {
		return SSHCredential{}, err
	}
	pub, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		return SSHCredential{}, fmt.Errorf("encode ssh public key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(key, p.Comment)
	if err != nil {
		return SSHCredential{}, fmt.Errorf("encode ssh private key: %w", err)
	}

	authorized := strings.TrimSuffix(string(ssh.MarshalAuthorizedKey(pub)), "\n")
	if p.Comment != "" {
		authorized += " " + p.Comment
	}
	return SSHCredential{
		PublicKey:            authorized,
		PrivateKey:           string(pem.EncodeToMemory(block)),
		PublicKeyFingerprint: strings.TrimPrefix(ssh.FingerprintSHA256(pub), "SHA256:"),
	}, nil
}

// GenerateCertificate issues a certificate. With a non-nil ca the certificate
// is signed by it; otherwise the parameters must ask for a self-signed or CA
// certificate.
func (g *CredentialGenerator) GenerateCertificate(p CertificateParameters, ca *CertificateCredential) (CertificateCredential, error) {
	if p.CommonName == "" && len(p.AlternativeNames) == 0 {
		return CertificateCredential{}, fmt.Errorf("%w: common_name or alternative_names is required", ErrInvalidValue)
	}
	if ca == nil && !p.SelfSign && !p.IsCA {
		return CertificateCredential{}, fmt.Errorf("%w: one of ca, self_sign or is_ca is required", ErrInvalidValue)
	}
	days := p.DurationDays
	if days == 0 {
		days = DefaultCertificateDays
	}
	if days < 1 || days > MaxCertificateDays {
		return CertificateCredential{}, fmt.Errorf("%w: duration must be between 1 and %d days", ErrInvalidValue, MaxCertificateDays)
	}

	key, err := g.rsaKey(p.KeyLength)
	if err != nil {
		return CertificateCredential{}, err
	}
	serial, err := g.RandomSerialNumber()
	if err != nil {
		return CertificateCredential{}, err
	}

	notBefore := g.now().UTC()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               p.subject(),
		NotBefore:             notBefore,
		NotAfter:              notBefore.AddDate(0, 0, days),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		BasicConstraintsValid: true,
		IsCA:                  p.IsCA,
	}
	if p.IsCA {
		template.KeyUsage |= x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	}
	for _, name := range p.AlternativeNames {
		if ip := net.ParseIP(name); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, name)
		}
	}

	parent, signer, caPEM := template, key, ""
	if ca != nil {
		parent, signer, err = parseAuthority(*ca)
		if err != nil {
			return CertificateCredential{}, err
		}
		caPEM = ca.Certificate
	}

	der, err := x509.CreateCertificate(g.random, template, parent, &key.PublicKey, signer)
	if err != nil {
		return CertificateCredential{}, fmt.Errorf("%w: create certificate: %w", ErrInvalidValue, err)
	}
	cert := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	if caPEM == "" {
		caPEM = cert
	}
	return CertificateCredential{CA: caPEM, Certificate: cert, PrivateKey: encodePrivateKey(key)}, nil
}

func (p CertificateParameters) subject() pkix.Name {
	name := pkix.Name{CommonName: p.CommonName}
	if p.Organization != "" {
		name.Organization = []string{p.Organization}
	}
	if p.OrganizationalUnit != "" {
		name.OrganizationalUnit = []string{p.OrganizationalUnit}
	}
	if p.Locality != "" {
		name.Locality = []string{p.Locality}
	}
	if p.State != "" {
		name.Province = []string{p.State}
	}
	if p.Country != "" {
		name.Country = []string{p.Country}
	}
	return name
}

func (g *CredentialGenerator) rsaKey(bits int) (*rsa.PrivateKey, error) {
	if bits == 0 {
		bits = DefaultKeyLength
	}
	if !slices.Contains(allowedKeyLengths, bits) {
		return nil, fmt.Errorf("%w: key length must be one of %v, got %d", ErrInvalidValue, allowedKeyLengths, bits)
	}
	key, err := rsa.GenerateKey(g.random, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return key, nil
}

func encodePrivateKey(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
}

func encodePublicKey(key *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", fmt.Errorf("encode public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func parseAuthority(ca CertificateCredential) (*x509.Certificate, *rsa.PrivateKey, error) {
	certBlock, _ := pem.Decode([]byte(ca.Certificate))
	if certBlock == nil {
		return nil, nil, fmt.Errorf("%w: ca certificate is not PEM encoded", ErrInvalidValue)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parse ca certificate: %w", ErrInvalidValue, err)
	}
	if !cert.IsCA {
		return nil, nil, fmt.Errorf("%w: certificate %q is not a CA", ErrInvalidValue, cert.Subject.CommonName)
	}
	keyBlock, _ := pem.Decode([]byte(ca.PrivateKey))
	if keyBlock == nil {
		return nil, nil, fmt.Errorf("%w: ca private key is not PEM encoded", ErrInvalidValue)
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parse ca private key: %w", ErrInvalidValue, err)
	}
	return cert, key, nil
}

// Generate creates a value from params and stores it, together with the
// encrypted parameters, as a new version of name.
func (s *CredentialStore) Generate(ctx context.Context, name string, params GenerationParameters) (*CredentialVersion, error) {
	value, err := s.generate(ctx, params)
	if err != nil {
		return nil, err
	}
	return s.set(ctx, name, value, params)
}

// Regenerate appends a fresh value for name using the parameters stored with
// its current version.
func (s *CredentialStore) Regenerate(ctx context.Context, name string) (*CredentialVersion, error) {
	current, err := s.MostRecent(ctx, name)
	if err != nil {
		return nil, err
	}
	if current.Parameters == nil {
		return nil, fmt.Errorf("%w: %s was not generated", ErrNotRegeneratable, current.Name)
	}

	_, raw, err := s.open(ctx, current)
	if err != nil {
		return nil, err
	}
	params, err := ParseGenerationParameters(current.Type, raw)
	if err != nil {
		return nil, err
	}
	return s.Generate(ctx, current.Name, params)
}

// BulkRegenerateResult lists the certificates regenerated under one CA.
type BulkRegenerateResult struct {
	Regenerated []string `json:"regenerated_credentials"`
}

// RegenerateSignedBy regenerates every certificate whose current version was
// generated with caName as its signer, so each one is reissued by the CA's
// current version. A failure on one certificate does not stop the others;
// failures are keyed by credential name.
func (s *CredentialStore) RegenerateSignedBy(ctx context.Context, caName string) (BulkRegenerateResult, error) {
	result := BulkRegenerateResult{Regenerated: []string{}}
	ca, err := NormalizeName(caName)
	if err != nil {
		return result, err
	}
	if _, err := s.certificateAuthority(ctx, ca); err != nil {
		return result, err
	}

	summaries, err := s.search(ctx, NameQuery{Prefix: NameSeparator})
	if err != nil {
		return result, err
	}
	names := make([]string, 0, len(summaries))
	for _, sum := range summaries {
		names = append(names, sum.Name)
	}
	slices.Sort(names)

	errs := errsx.Map{}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if FoldName(name) == FoldName(ca) {
			continue
		}
		signed, err := s.signedBy(ctx, name, ca)
		if err != nil {
			errs.Set(name, err)
			continue
		}
		if !signed {
			continue
		}
		if _, err := s.Regenerate(ctx, name); err != nil {
			errs.Set(name, err)
			continue
		}
		result.Regenerated = append(result.Regenerated, name)
	}

	if !errs.IsEmpty() {
		return result, fmt.Errorf("%d certificates signed by %s failed to regenerate: %w", len(errs), ca, errs.AsError())
	}
	return result, nil
}

// signedBy reports whether the current version of name is a generated
// certificate whose parameters name ca as the signer.
func (s *CredentialStore) signedBy(ctx context.Context, name, ca string) (bool, error) {
	current, err := s.MostRecent(ctx, name)
	if err != nil {
		return false, err
	}
	if current.Type != TypeCertificate || current.Parameters == nil {
		return false, nil
	}
	_, raw, err := s.open(ctx, current)
	if err != nil {
		return false, err
	}
	params, err := ParseGenerationParameters(current.Type, raw)
	if err != nil {
		return false, err
	}
	cert, ok := params.(CertificateParameters)
	if !ok || cert.CA == "" {
		return false, nil
	}
	signer, err := NormalizeName(cert.CA)
	if err != nil {
		return false, nil
	}
	return FoldName(signer) == FoldName(ca), nil
}

func (s *CredentialStore) generate(ctx context.Context, params GenerationParameters) (CredentialValue, error) {
	switch p := params.(type) {
	case PasswordParameters:
		return s.generator.GeneratePassword(p)
	case UserParameters:
		return s.generator.GenerateUser(p)
	case SSHParameters:
		return s.generator.GenerateSSH(p)
	case RSAParameters:
		return s.generator.GenerateRSA(p)
	case CertificateParameters:
		var ca *CertificateCredential
		if p.CA != "" {
			authority, err := s.certificateAuthority(ctx, p.CA)
			if err != nil {
				return nil, err
			}
			ca = &authority
		}
		return s.generator.GenerateCertificate(p, ca)
	case nil:
		return nil, fmt.Errorf("%w: generation parameters are required", ErrInvalidValue)
	default:
		return nil, NewUnknownCredentialTypeError(string(params.CredentialType()))
	}
}

func (s *CredentialStore) certificateAuthority(ctx context.Context, name string) (CertificateCredential, error) {
	v, err := s.MostRecent(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return CertificateCredential{}, fmt.Errorf("%w: ca %s: %w", ErrInvalidValue, name, err)
		}
		return CertificateCredential{}, err
	}
	if v.Type != TypeCertificate {
		return CertificateCredential{}, fmt.Errorf("%w: ca %s is a %s credential", ErrInvalidValue, name, v.Type)
	}
	view, err := s.ToView(ctx, v)
	if err != nil {
		return CertificateCredential{}, err
	}
	return view.Value.(CertificateCredential), nil
}
