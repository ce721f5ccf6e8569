package aws

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/google/uuid"
	"github.com/hengadev/credhub"
)

// secretsManagerClient interface for AWS Secrets Manager operations (allows mocking)
type secretsManagerClient interface {
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
}

// Config holds configuration for AWS Secrets Manager service.
type Config struct {
	// Region is the AWS region (e.g., "us-east-1")
	// If empty, uses AWS_REGION environment variable or AWS config file
	Region string

	// AWSConfig is an optional pre-configured AWS config
	// If provided, Region is ignored
	AWSConfig *aws.Config
}

// SecretsManagerStore implements credhub.SecretManagementService using AWS
// Secrets Manager. Key material is stored base64 encoded as the secret string.
type SecretsManagerStore struct {
	client secretsManagerClient
	region string
}

// NewSecretsManagerStore creates a store from the default AWS credential chain.
func NewSecretsManagerStore(ctx context.Context, cfg Config) (*SecretsManagerStore, error) {
	awsConfig := aws.Config{}
	if cfg.AWSConfig != nil {
		awsConfig = *cfg.AWSConfig
	} else {
		var opts []func(*config.LoadOptions) error
		if cfg.Region != "" {
			opts = append(opts, config.WithRegion(cfg.Region))
		}
		var err error
		awsConfig, err = config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: load AWS config: %w", credhub.ErrKMSUnavailable, err)
		}
	}

	return &SecretsManagerStore{
		client: secretsmanager.NewFromConfig(awsConfig),
		region: awsConfig.Region,
	}, nil
}

// GetStoragePath returns the default secret id for the material of keyID.
//
// Example: "credhub/keys/6c1c1a53-3b0f-4f38-9a54-3fb0e25a46a1"
func (s *SecretsManagerStore) GetStoragePath(keyID uuid.UUID) string {
	return fmt.Sprintf(credhub.AWSKeyMaterialPathTemplate, keyID)
}

// GetKeyMaterial reads the key stored under secret id path. A missing
// secret is reported as ErrKeyNotFound.
func (s *SecretsManagerStore) GetKeyMaterial(ctx context.Context, path string) ([]byte, error) {
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(path),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: secret %s does not exist", credhub.ErrKeyNotFound, path)
		}
		return nil, fmt.Errorf("%w: read secret %s: %w", credhub.ErrKMSUnavailable, path, err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("%w: secret %s has no string value", credhub.ErrKeyNotFound, path)
	}

	material, err := base64.StdEncoding.DecodeString(*result.SecretString)
	if err != nil {
		return nil, fmt.Errorf("%w: decode secret %s: %w", credhub.ErrInvalidConfiguration, path, err)
	}
	if len(material) != credhub.KeyLength {
		return nil, fmt.Errorf("%w: secret %s holds %d bytes, want %d",
			credhub.ErrInvalidConfiguration, path, len(material), credhub.KeyLength)
	}
	return material, nil
}

// StoreKeyMaterial writes material under path, creating the secret when it
// does not exist yet.
func (s *SecretsManagerStore) StoreKeyMaterial(ctx context.Context, path string, material []byte) error {
	if len(material) != credhub.KeyLength {
		return fmt.Errorf("%w: key material must be exactly %d bytes, got %d",
			credhub.ErrInvalidConfiguration, credhub.KeyLength, len(material))
	}
	encoded := aws.String(base64.StdEncoding.EncodeToString(material))

	exists, err := s.KeyMaterialExists(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		_, err = s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
			SecretId:     aws.String(path),
			SecretString: encoded,
		})
	} else {
		_, err = s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
			Name:         aws.String(path),
			Description:  aws.String("credhub encryption key material"),
			SecretString: encoded,
		})
	}
	if err != nil {
		return fmt.Errorf("%w: write secret %s: %w", credhub.ErrKMSUnavailable, path, err)
	}
	return nil
}

// KeyMaterialExists reports whether a secret exists at path.
func (s *SecretsManagerStore) KeyMaterialExists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(path),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: describe secret %s: %w", credhub.ErrKMSUnavailable, path, err)
	}
	return true, nil
}

// Region returns the AWS region this Secrets Manager store is configured for.
func (s *SecretsManagerStore) Region() string {
	return s.region
}

var _ credhub.SecretManagementService = (*SecretsManagerStore)(nil)
