package credhub

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	params := TestArgon2Params()

	h1, err := HashPassword("pa55word", params)
	require.NoError(t, err)
	h2, err := HashPassword("pa55word", params)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(h1, "$argon2id$v=19$m=8192,t=2,p=1$"))
	assert.NotEqual(t, h1, h2, "salts must differ")

	ok, err := VerifyPassword("pa55word", h1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong", h1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashPasswordRejectsWeakParams(t *testing.T) {
	_, err := HashPassword("pw", &Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16})
	assert.True(t, IsConfigurationError(err))
}

func TestVerifyPasswordMalformed(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
	}{
		{"empty", ""},
		{"wrong algorithm", "$argon2i$v=19$m=8192,t=2,p=1$c2FsdA$aGFzaA"},
		{"wrong version", "$argon2id$v=16$m=8192,t=2,p=1$c2FsdA$aGFzaA"},
		{"bad params", "$argon2id$v=19$m=x$c2FsdA$aGFzaA"},
		{"bad salt", "$argon2id$v=19$m=8192,t=2,p=1$!!!$aGFzaA"},
		{"bad hash", "$argon2id$v=19$m=8192,t=2,p=1$c2FsdA$!!!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := VerifyPassword("pw", tt.encoded)
			assert.ErrorIs(t, err, ErrInvalidValue)
		})
	}
}
