package notary

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	kms "cloud.google.com/go/kms/apiv1"
	kmspb "cloud.google.com/go/kms/apiv1/kmspb"
	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretspb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const defaultKMSTimeout = 10 * time.Second

var crc32c = crc32.MakeTable(crc32.Castagnoli)

// KMSClient is the subset of the Cloud KMS API the notary signer uses.
type KMSClient interface {
	AsymmetricSign(ctx context.Context, req *kmspb.AsymmetricSignRequest) (*kmspb.AsymmetricSignResponse, error)
	GetPublicKey(ctx context.Context, req *kmspb.GetPublicKeyRequest) (*kmspb.PublicKey, error)
}

type gcpKMSClient struct {
	client *kms.KeyManagementClient
}

// NewGCPKMSClient dials Cloud KMS with default credentials.
func NewGCPKMSClient(ctx context.Context) (KMSClient, func() error, error) {
	c, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCP KMS client: %v", err)
	}
	return &gcpKMSClient{client: c}, c.Close, nil
}

func (g *gcpKMSClient) AsymmetricSign(ctx context.Context, req *kmspb.AsymmetricSignRequest) (*kmspb.AsymmetricSignResponse, error) {
	return g.client.AsymmetricSign(ctx, req)
}

func (g *gcpKMSClient) GetPublicKey(ctx context.Context, req *kmspb.GetPublicKeyRequest) (*kmspb.PublicKey, error) {
	return g.client.GetPublicKey(ctx, req)
}

// KMSSigner signs session headers with an EC_SIGN_P256_SHA256 key version
// held in Cloud KMS. The private key never leaves KMS.
type KMSSigner struct {
	client     KMSClient
	keyVersion string
	public     *P256PublicKey
	timeout    time.Duration
}

// NewKMSSigner fetches the public half of keyVersion
// (projects/*/locations/*/keyRings/*/cryptoKeys/*/cryptoKeyVersions/*).
func NewKMSSigner(ctx context.Context, client KMSClient, keyVersion string) (*KMSSigner, error) {
	resp, err := client.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{Name: keyVersion})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch KMS public key: %v", err)
	}
	if resp.GetAlgorithm() != kmspb.CryptoKeyVersion_EC_SIGN_P256_SHA256 {
		return nil, fmt.Errorf("unsupported KMS key algorithm %s", resp.GetAlgorithm())
	}
	if resp.GetPemCrc32C() != nil && int64(crc32.Checksum([]byte(resp.GetPem()), crc32c)) != resp.GetPemCrc32C().GetValue() {
		return nil, errors.New("KMS public key corrupted in transit")
	}
	pub, err := ParsePublicKeyPEM([]byte(resp.GetPem()))
	if err != nil {
		return nil, err
	}
	return &KMSSigner{
		client:     client,
		keyVersion: keyVersion,
		public:     pub,
		timeout:    defaultKMSTimeout,
	}, nil
}

func (s *KMSSigner) Algorithm() string { return AlgorithmP256 }
func (s *KMSSigner) Public() PublicKey { return s.public }

func (s *KMSSigner) Sign(msg []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	digest := sha256.Sum256(msg)
	resp, err := s.client.AsymmetricSign(ctx, &kmspb.AsymmetricSignRequest{
		Name:         s.keyVersion,
		Digest:       &kmspb.Digest{Digest: &kmspb.Digest_Sha256{Sha256: digest[:]}},
		DigestCrc32C: wrapperspb.Int64(int64(crc32.Checksum(digest[:], crc32c))),
	})
	if err != nil {
		return nil, fmt.Errorf("KMS AsymmetricSign failed: %v", err)
	}
	if !resp.GetVerifiedDigestCrc32C() {
		return nil, errors.New("KMS did not verify the digest checksum")
	}
	if resp.GetName() != s.keyVersion {
		return nil, fmt.Errorf("KMS signed with unexpected key %s", resp.GetName())
	}
	if int64(crc32.Checksum(resp.GetSignature(), crc32c)) != resp.GetSignatureCrc32C().GetValue() {
		return nil, errors.New("KMS signature corrupted in transit")
	}
	return resp.GetSignature(), nil
}

// SecretClient is the subset of the Secret Manager API used to load keys.
type SecretClient interface {
	AccessSecretVersion(ctx context.Context, req *secretspb.AccessSecretVersionRequest) (*secretspb.AccessSecretVersionResponse, error)
}

type gcpSecretClient struct {
	client *secretmanager.Client
}

// NewGCPSecretClient dials Secret Manager with default credentials.
func NewGCPSecretClient(ctx context.Context) (SecretClient, func() error, error) {
	c, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create secret manager client: %v", err)
	}
	return &gcpSecretClient{client: c}, c.Close, nil
}

func (g *gcpSecretClient) AccessSecretVersion(ctx context.Context, req *secretspb.AccessSecretVersionRequest) (*secretspb.AccessSecretVersionResponse, error) {
	return g.client.AccessSecretVersion(ctx, req)
}

// LoadSecretKey reads a PEM encoded P-256 private key from a secret version
// (projects/*/secrets/*/versions/*).
func LoadSecretKey(ctx context.Context, client SecretClient, name string) (*P256Signer, error) {
	resp, err := client.AccessSecretVersion(ctx, &secretspb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return nil, fmt.Errorf("failed to access secret %s: %v", name, err)
	}
	payload := resp.GetPayload()
	if payload == nil {
		return nil, fmt.Errorf("secret %s has no payload", name)
	}
	if payload.DataCrc32C != nil && int64(crc32.Checksum(payload.GetData(), crc32c)) != payload.GetDataCrc32C() {
		return nil, fmt.Errorf("secret %s corrupted in transit", name)
	}
	return LoadPrivateKeyPEM(payload.GetData())
}
