package credhub

import (
	"testing"

	"github.com/hengadev/errsx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgon2Params_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Argon2Params)
		errKeys []string
	}{
		{name: "defaults", mutate: func(*Argon2Params) {}},
		{name: "memory", mutate: func(p *Argon2Params) { p.Memory = 4096 }, errKeys: []string{"memory"}},
		{name: "iterations", mutate: func(p *Argon2Params) { p.Iterations = 1 }, errKeys: []string{"iterations"}},
		{name: "parallelism", mutate: func(p *Argon2Params) { p.Parallelism = 0 }, errKeys: []string{"parallelism"}},
		{name: "salt", mutate: func(p *Argon2Params) { p.SaltLength = 8 }, errKeys: []string{"saltLength"}},
		{name: "key length", mutate: func(p *Argon2Params) { p.KeyLength = 16 }, errKeys: []string{"keyLength"}},
		{
			name: "everything at once",
			mutate: func(p *Argon2Params) {
				*p = Argon2Params{Memory: 1, Iterations: 1, SaltLength: 1, KeyLength: 1}
			},
			errKeys: []string{"memory", "iterations", "parallelism", "saltLength", "keyLength"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := DefaultArgon2Params()
			tt.mutate(params)

			err := params.Validate()
			if len(tt.errKeys) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)

			errMap, ok := err.(errsx.Map)
			require.True(t, ok, "expected errsx.Map, got %T", err)
			assert.Len(t, errMap, len(tt.errKeys))
			for _, key := range tt.errKeys {
				assert.Contains(t, errMap, key)
			}
		})
	}
}

func TestArgon2Params_NilIsInvalid(t *testing.T) {
	var params *Argon2Params
	assert.Error(t, params.Validate())
}

func TestArgon2Params_FromConfig(t *testing.T) {
	key := "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
	cfg, err := ParseConfig([]byte(`
encryption:
  argon2:
    memory: 16384
    iterations: 2
    parallelism: 1
    salt_length: 16
    key_length: 32
  keys:
    - id: 6f1d2c3b-8a7e-4d4f-9b1a-2c3d4e5f6a7b
      provider: internal
      active: true
      key: ` + key + `
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Encryption.Argon2)
	assert.Equal(t, Argon2Params{Memory: 16384, Iterations: 2, Parallelism: 1, SaltLength: 16, KeyLength: 32}, *cfg.Encryption.Argon2)

	_, err = ParseConfig([]byte(`
encryption:
  argon2:
    memory: 1
  keys:
    - id: 6f1d2c3b-8a7e-4d4f-9b1a-2c3d4e5f6a7b
      provider: internal
      active: true
      key: ` + key + `
`))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}
