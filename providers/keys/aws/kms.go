package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/hengadev/credhub"
)

// kmsClient is the subset of the KMS API used here (allows mocking)
type kmsClient interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSService implements credhub.KeyManagementService using AWS KMS.
type KMSService struct {
	client kmsClient
	region string
}

// Config holds configuration for AWS KMS service.
type Config struct {
	// Region is the AWS region (e.g., "us-east-1")
	// If empty, uses AWS_REGION environment variable or AWS config file
	Region string

	// AWSConfig is an optional pre-configured AWS config
	// If provided, Region is ignored
	AWSConfig *aws.Config
}

// New creates a KMS service from the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*KMSService, error) {
	awsConfig, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &KMSService{
		client: kms.NewFromConfig(awsConfig),
		region: awsConfig.Region,
	}, nil
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	if cfg.AWSConfig != nil {
		return *cfg.AWSConfig, nil
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("%w: load AWS config: %w", credhub.ErrKMSUnavailable, err)
	}
	return awsConfig, nil
}

// EncryptDEK wraps dek under the KMS key identified by keyID, which may be a
// key id, key ARN, alias name or alias ARN. The raw ciphertext blob is returned.
func (k *KMSService) EncryptDEK(ctx context.Context, keyID string, dek []byte) ([]byte, error) {
	if len(dek) == 0 {
		return nil, fmt.Errorf("%w: DEK cannot be empty", credhub.ErrEncryptionFailed)
	}
	if keyID == "" {
		return nil, fmt.Errorf("%w: KMS key id cannot be empty", credhub.ErrInvalidConfiguration)
	}

	result, err := k.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(keyID),
		Plaintext: dek,
	})
	if err != nil {
		return nil, classify("encrypt", keyID, err)
	}
	if len(result.CiphertextBlob) == 0 {
		return nil, fmt.Errorf("%w: no ciphertext returned from KMS", credhub.ErrKMSUnavailable)
	}
	return result.CiphertextBlob, nil
}

// DecryptDEK unwraps a blob produced by EncryptDEK. keyID is passed along so
// KMS refuses blobs wrapped under any other key.
func (k *KMSService) DecryptDEK(ctx context.Context, keyID string, wrapped []byte) ([]byte, error) {
	if len(wrapped) == 0 {
		return nil, fmt.Errorf("%w: wrapped DEK cannot be empty", credhub.ErrAuthenticationFailed)
	}

	input := &kms.DecryptInput{CiphertextBlob: wrapped}
	if keyID != "" {
		input.KeyId = aws.String(keyID)
	}

	result, err := k.client.Decrypt(ctx, input)
	if err != nil {
		return nil, classify("decrypt", keyID, err)
	}
	if result.Plaintext == nil {
		return nil, fmt.Errorf("%w: no plaintext returned from KMS", credhub.ErrKMSUnavailable)
	}
	return result.Plaintext, nil
}

// Region returns the AWS region this KMS service is configured for.
func (k *KMSService) Region() string {
	return k.region
}

func classify(op, keyID string, err error) error {
	var (
		notFound     *types.NotFoundException
		disabled     *types.DisabledException
		invalidState *types.KMSInvalidStateException
		badBlob      *types.InvalidCiphertextException
		wrongKey     *types.IncorrectKeyException
	)
	switch {
	case errors.As(err, &badBlob), errors.As(err, &wrongKey):
		return fmt.Errorf("%w: KMS %s with %s: %w", credhub.ErrAuthenticationFailed, op, keyID, err)
	case errors.As(err, &notFound), errors.As(err, &disabled), errors.As(err, &invalidState):
		return fmt.Errorf("%w: KMS %s with %s: %w", credhub.ErrKeyNotFound, op, keyID, err)
	default:
		return fmt.Errorf("%w: KMS %s with %s: %w", credhub.ErrKMSUnavailable, op, keyID, err)
	}
}

var _ credhub.KeyManagementService = (*KMSService)(nil)
