package aws

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/google/uuid"
	"github.com/hengadev/credhub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSecretsManager keeps secret strings in a map.
type fakeSecretsManager struct {
	secrets map[string]string
	err     error
	creates int
	puts    int
}

func newFakeSecretsManager() *fakeSecretsManager {
	return &fakeSecretsManager{secrets: make(map[string]string)}
}

func (f *fakeSecretsManager) notFound(id string) error {
	return &types.ResourceNotFoundException{Message: aws.String(id + " not found")}
}

func (f *fakeSecretsManager) CreateSecret(_ context.Context, in *secretsmanager.CreateSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	f.creates++
	f.secrets[aws.ToString(in.Name)] = aws.ToString(in.SecretString)
	return &secretsmanager.CreateSecretOutput{Name: in.Name}, nil
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.secrets[aws.ToString(in.SecretId)]
	if !ok {
		return nil, f.notFound(aws.ToString(in.SecretId))
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func (f *fakeSecretsManager) PutSecretValue(_ context.Context, in *secretsmanager.PutSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	f.puts++
	f.secrets[aws.ToString(in.SecretId)] = aws.ToString(in.SecretString)
	return &secretsmanager.PutSecretValueOutput{}, nil
}

func (f *fakeSecretsManager) DescribeSecret(_ context.Context, in *secretsmanager.DescribeSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := f.secrets[aws.ToString(in.SecretId)]; !ok {
		return nil, f.notFound(aws.ToString(in.SecretId))
	}
	return &secretsmanager.DescribeSecretOutput{Name: in.SecretId}, nil
}

func TestSecretsManagerStore_GetStoragePath(t *testing.T) {
	id := uuid.MustParse("6c1c1a53-3b0f-4f38-9a54-3fb0e25a46a1")
	store := &SecretsManagerStore{}
	assert.Equal(t, "credhub/keys/6c1c1a53-3b0f-4f38-9a54-3fb0e25a46a1", store.GetStoragePath(id))
}

func TestSecretsManagerStore_StoreAndGet(t *testing.T) {
	fake := newFakeSecretsManager()
	store := &SecretsManagerStore{client: fake, region: "us-east-1"}
	ctx := context.Background()
	path := store.GetStoragePath(uuid.New())

	first := make([]byte, credhub.KeyLength)
	for i := range first {
		first[i] = byte(i)
	}
	require.NoError(t, store.StoreKeyMaterial(ctx, path, first))
	got, err := store.GetKeyMaterial(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	second := make([]byte, credhub.KeyLength)
	require.NoError(t, store.StoreKeyMaterial(ctx, path, second))
	assert.Equal(t, 1, fake.creates)
	assert.Equal(t, 1, fake.puts)

	exists, err := store.KeyMaterialExists(ctx, path)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSecretsManagerStore_GetKeyMaterialErrors(t *testing.T) {
	tests := []struct {
		name    string
		value   *string
		err     error
		wantErr error
	}{
		{name: "missing", wantErr: credhub.ErrKeyNotFound},
		{name: "not base64", value: aws.String("%%%"), wantErr: credhub.ErrInvalidConfiguration},
		{name: "wrong length", value: aws.String(base64.StdEncoding.EncodeToString([]byte("short"))), wantErr: credhub.ErrInvalidConfiguration},
		{name: "unreachable", err: errors.New("throttled"), wantErr: credhub.ErrKMSUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeSecretsManager()
			fake.err = tt.err
			if tt.value != nil {
				fake.secrets["credhub/keys/k"] = *tt.value
			}
			store := &SecretsManagerStore{client: fake}

			_, err := store.GetKeyMaterial(context.Background(), "credhub/keys/k")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSecretsManagerStore_StoreRejectsWrongLength(t *testing.T) {
	store := &SecretsManagerStore{client: newFakeSecretsManager()}
	err := store.StoreKeyMaterial(context.Background(), "credhub/keys/k", []byte("short"))
	assert.ErrorIs(t, err, credhub.ErrInvalidConfiguration)
}
