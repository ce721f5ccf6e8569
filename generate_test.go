package credhub

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"strings"
	"testing"

	"github.com/hengadev/credhub/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func parseCertificate(t *testing.T, data string) *x509.Certificate {
	t.Helper()
	block, _ := pem.Decode([]byte(data))
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	return cert
}

func TestRandomSerialNumber(t *testing.T) {
	g := NewCredentialGenerator(nil)
	limit := new(big.Int).Lsh(big.NewInt(1), 159)

	var previous *big.Int
	for range 1000 {
		n, err := g.RandomSerialNumber()
		require.NoError(t, err)
		require.True(t, n.Sign() >= 0)
		require.True(t, n.Cmp(limit) < 0)
		if previous != nil {
			require.NotEqual(t, 0, n.Cmp(previous))
		}
		previous = n
	}
}

func TestGeneratePassword(t *testing.T) {
	g := NewCredentialGenerator(security.NewSecureRandomGenerator())

	pw, err := g.GeneratePassword(PasswordParameters{})
	require.NoError(t, err)
	assert.Len(t, string(pw), security.DefaultPasswordLength)

	hex, err := g.GeneratePassword(PasswordParameters{Length: 40, OnlyHex: true})
	require.NoError(t, err)
	assert.Len(t, string(hex), 40)
	assert.Empty(t, strings.Trim(string(hex), "0123456789ABCDEF"))

	_, err = g.GeneratePassword(PasswordParameters{ExcludeUpper: true, ExcludeLower: true, ExcludeNumber: true})
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestGenerateUser(t *testing.T) {
	g := NewCredentialGenerator(nil)

	user, err := g.GenerateUser(UserParameters{Username: "svc"})
	require.NoError(t, err)
	assert.Equal(t, "svc", user.Username)
	assert.NotEmpty(t, user.Password)

	anon, err := g.GenerateUser(UserParameters{})
	require.NoError(t, err)
	assert.Len(t, anon.Username, DefaultUsernameLength)
	assert.Empty(t, strings.Trim(anon.Username, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"))
}

func TestGenerateSSH(t *testing.T) {
	g := NewCredentialGenerator(nil)

	cred, err := g.GenerateSSH(SSHParameters{Comment: "deploy@ci"})
	require.NoError(t, err)

	pub, comment, _, _, err := ssh.ParseAuthorizedKey([]byte(cred.PublicKey))
	require.NoError(t, err)
	assert.Equal(t, "deploy@ci", comment)
	assert.Equal(t, strings.TrimPrefix(ssh.FingerprintSHA256(pub), "SHA256:"), cred.PublicKeyFingerprint)

	signer, err := ssh.ParsePrivateKey([]byte(cred.PrivateKey))
	require.NoError(t, err)
	assert.Equal(t, pub.Marshal(), signer.PublicKey().Marshal())

	_, err = g.GenerateSSH(SSHParameters{KeyLength: 1024})
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestGenerateRSA(t *testing.T) {
	g := NewCredentialGenerator(nil)

	cred, err := g.GenerateRSA(RSAParameters{})
	require.NoError(t, err)

	block, _ := pem.Decode([]byte(cred.PrivateKey))
	require.NotNil(t, block)
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, DefaultKeyLength, key.N.BitLen())

	block, _ = pem.Decode([]byte(cred.PublicKey))
	require.NotNil(t, block)
	_, err = x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(t, err)
}

func TestGenerateCertificate(t *testing.T) {
	g := NewCredentialGenerator(nil)

	ca, err := g.GenerateCertificate(CertificateParameters{CommonName: "Test Root", IsCA: true, Organization: "credhub"}, nil)
	require.NoError(t, err)
	caCert := parseCertificate(t, ca.Certificate)
	assert.True(t, caCert.IsCA)
	assert.Equal(t, ca.Certificate, ca.CA)
	assert.Equal(t, []string{"credhub"}, caCert.Subject.Organization)

	leaf, err := g.GenerateCertificate(CertificateParameters{
		CommonName:       "db.internal",
		AlternativeNames: []string{"db.internal", "10.0.0.5"},
		DurationDays:     30,
	}, &ca)
	require.NoError(t, err)
	leafCert := parseCertificate(t, leaf.Certificate)
	assert.False(t, leafCert.IsCA)
	assert.Equal(t, ca.Certificate, leaf.CA)
	assert.Equal(t, []string{"db.internal"}, leafCert.DNSNames)
	require.Len(t, leafCert.IPAddresses, 1)
	assert.Equal(t, "10.0.0.5", leafCert.IPAddresses[0].String())
	require.NoError(t, leafCert.CheckSignatureFrom(caCert))

	limit := new(big.Int).Lsh(big.NewInt(1), 159)
	assert.True(t, leafCert.SerialNumber.Cmp(limit) < 0)

	tests := []struct {
		name   string
		params CertificateParameters
		ca     *CertificateCredential
	}{
		{"no subject", CertificateParameters{SelfSign: true}, nil},
		{"no signer", CertificateParameters{CommonName: "x"}, nil},
		{"bad duration", CertificateParameters{CommonName: "x", SelfSign: true, DurationDays: MaxCertificateDays + 1}, nil},
		{"leaf as ca", CertificateParameters{CommonName: "x"}, &leaf},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.GenerateCertificate(tt.params, tt.ca)
			assert.ErrorIs(t, err, ErrInvalidValue)
		})
	}
}

func TestCredentialStoreGenerateAndRegenerate(t *testing.T) {
	ctx := context.Background()
	env := NewTestCredentialStore(t)
	store := env.Store

	params := PasswordParameters{Length: 16, IncludeSpecial: true}
	first, err := store.Generate(ctx, "/gen/pw", params)
	require.NoError(t, err)
	require.NotNil(t, first.Parameters)

	firstView, err := store.ToView(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, params, firstView.GenerationParameters)
	assert.Len(t, string(firstView.Value.(PasswordCredential)), 16)

	second, err := store.Regenerate(ctx, "/GEN/PW")
	require.NoError(t, err)
	assert.Equal(t, "/gen/pw", second.Name)

	secondView, err := store.ToView(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, params, secondView.GenerationParameters)
	assert.NotEqual(t, firstView.Value, secondView.Value)

	versions, err := store.AllVersions(ctx, "/gen/pw")
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	_, err = store.Set(ctx, "/gen/plain", ValueCredential("v"))
	require.NoError(t, err)
	_, err = store.Regenerate(ctx, "/gen/plain")
	assert.ErrorIs(t, err, ErrNotRegeneratable)

	_, err = store.Regenerate(ctx, "/gen/missing")
	assert.True(t, IsNotFoundError(err))
}

func TestCredentialStoreGenerateSignedCertificate(t *testing.T) {
	ctx := context.Background()
	env := NewTestCredentialStore(t)
	store := env.Store

	_, err := store.Generate(ctx, "/pki/root", CertificateParameters{CommonName: "root", IsCA: true})
	require.NoError(t, err)

	leaf, err := store.Generate(ctx, "/pki/leaf", CertificateParameters{CommonName: "leaf", CA: "/PKI/root"})
	require.NoError(t, err)

	rootView, err := store.Get(ctx, "/pki/root")
	require.NoError(t, err)
	leafView, err := store.ToView(ctx, leaf)
	require.NoError(t, err)

	root := parseCertificate(t, rootView.Value.(CertificateCredential).Certificate)
	cert := parseCertificate(t, leafView.Value.(CertificateCredential).Certificate)
	require.NoError(t, cert.CheckSignatureFrom(root))

	_, err = store.Generate(ctx, "/pki/orphan", CertificateParameters{CommonName: "x", CA: "/pki/none"})
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = store.Set(ctx, "/pki/not-a-cert", ValueCredential("v"))
	require.NoError(t, err)
	_, err = store.Generate(ctx, "/pki/bad", CertificateParameters{CommonName: "x", CA: "/pki/not-a-cert"})
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestCredentialStoreRegenerateSignedBy(t *testing.T) {
	ctx := context.Background()
	env := NewTestCredentialStore(t)
	store := env.Store

	generate := func(name string, params GenerationParameters) {
		t.Helper()
		_, err := store.Generate(ctx, name, params)
		require.NoError(t, err)
	}
	generate("/pki/root", CertificateParameters{CommonName: "root", IsCA: true})
	generate("/pki/other-root", CertificateParameters{CommonName: "other", IsCA: true})
	generate("/svc/b", CertificateParameters{CommonName: "b", CA: "pki/ROOT"})
	generate("/svc/a", CertificateParameters{CommonName: "a", CA: "/pki/root"})
	generate("/svc/c", CertificateParameters{CommonName: "c", CA: "/pki/other-root"})
	generate("/svc/self", CertificateParameters{CommonName: "self", SelfSign: true})
	generate("/svc/pw", PasswordParameters{Length: 12})

	// Reissue the CA first so the leaves move to its new certificate
	_, err := store.Regenerate(ctx, "/pki/root")
	require.NoError(t, err)

	result, err := store.RegenerateSignedBy(ctx, "/PKI/root")
	require.NoError(t, err)
	assert.Equal(t, []string{"/svc/a", "/svc/b"}, result.Regenerated)

	rootView, err := store.Get(ctx, "/pki/root")
	require.NoError(t, err)
	root := parseCertificate(t, rootView.Value.(CertificateCredential).Certificate)
	for _, name := range result.Regenerated {
		versions, err := store.AllVersions(ctx, name)
		require.NoError(t, err)
		assert.Len(t, versions, 2, name)

		view, err := store.Get(ctx, name)
		require.NoError(t, err)
		cert := parseCertificate(t, view.Value.(CertificateCredential).Certificate)
		assert.NoError(t, cert.CheckSignatureFrom(root), name)
	}
	for _, name := range []string{"/svc/c", "/svc/self", "/svc/pw", "/pki/other-root"} {
		versions, err := store.AllVersions(ctx, name)
		require.NoError(t, err)
		assert.Len(t, versions, 1, name)
	}

	none, err := store.RegenerateSignedBy(ctx, "/svc/c")
	require.NoError(t, err)
	assert.Empty(t, none.Regenerated)

	_, err = store.RegenerateSignedBy(ctx, "/pki/missing")
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = store.RegenerateSignedBy(ctx, "/svc/pw")
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestParseGenerationParameters(t *testing.T) {
	p, err := ParseGenerationParameters(TypeSSH, []byte(`{"key_length":4096,"ssh_comment":"me"}`))
	require.NoError(t, err)
	assert.Equal(t, SSHParameters{KeyLength: 4096, Comment: "me"}, p)

	p, err = ParseGenerationParameters(TypePassword, nil)
	require.NoError(t, err)
	assert.Equal(t, PasswordParameters{}, p)

	_, err = ParseGenerationParameters(TypeValue, nil)
	assert.ErrorIs(t, err, ErrNotRegeneratable)
	_, err = ParseGenerationParameters(TypeRSA, []byte("not json"))
	assert.ErrorIs(t, err, ErrInvalidValue)
	_, err = ParseGenerationParameters("blob", nil)
	assert.True(t, IsUnknownTypeError(err))
}
