package vault

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// KMSWrapper implements Wrapper against AWS KMS. Only Encrypt/Decrypt calls
// cross the boundary; the key-encryption key itself stays inside the
// hardware module. The key name is bound into the encryption context so a
// ciphertext stored under one user can never be unwrapped as another's.
type KMSWrapper struct {
	client *kms.Client
	keyID  string
}

// KMSConfig holds the parameters for connecting to KMS.
type KMSConfig struct {
	KeyID     string
	Region    string
	Endpoint  string // override for local stacks; empty for AWS
	AccessKey string
	SecretKey string
}

// NewKMSWrapper creates a KMSWrapper for the given key.
func NewKMSWrapper(ctx context.Context, cfg KMSConfig) (*KMSWrapper, error) {
	if cfg.KeyID == "" {
		return nil, fmt.Errorf("vault: kms key id is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("vault: kms region is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("vault: load aws config: %w", err)
	}

	var kmsOpts []func(*kms.Options)
	if cfg.Endpoint != "" {
		kmsOpts = append(kmsOpts, func(o *kms.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &KMSWrapper{
		client: kms.NewFromConfig(awsCfg, kmsOpts...),
		keyID:  cfg.KeyID,
	}, nil
}

// WrapKey encrypts raw key bytes under the remote key-encryption key.
func (w *KMSWrapper) WrapKey(ctx context.Context, keyName string, raw []byte) ([]byte, error) {
	out, err := w.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(w.keyID),
		Plaintext: raw,
		EncryptionContext: map[string]string{
			"key_name": keyName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vault: kms encrypt %s: %w", keyName, err)
	}
	return out.CiphertextBlob, nil
}

// UnwrapKey decrypts a ciphertext produced by WrapKey.
func (w *KMSWrapper) UnwrapKey(ctx context.Context, keyName string, ciphertext []byte) ([]byte, error) {
	out, err := w.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(w.keyID),
		CiphertextBlob: ciphertext,
		EncryptionContext: map[string]string{
			"key_name": keyName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vault: kms decrypt %s: %w", keyName, err)
	}
	return out.Plaintext, nil
}

// Compile-time interface check.
var _ Wrapper = (*KMSWrapper)(nil)
