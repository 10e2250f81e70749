package notary

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Signature algorithm identifiers carried in session proofs
const (
	AlgorithmP256 = "ECDSA-P256-SHA256"
	AlgorithmETH  = "ETH-SECP256K1"
)

// ErrBadSignature is returned by PublicKey.Verify when a signature does not
// verify over the given message.
var ErrBadSignature = errors.New("signature verification failed")

// PublicKey verifies notary signatures.
type PublicKey interface {
	Algorithm() string
	// KeyID is a stable identifier of the key, bound into signed headers.
	KeyID() string
	Verify(msg, sig []byte) error
}

// Signer produces notary signatures.
type Signer interface {
	Algorithm() string
	Public() PublicKey
	Sign(msg []byte) ([]byte, error)
}

// P256PublicKey is an ECDSA P-256 notary key.
type P256PublicKey struct {
	key *ecdsa.PublicKey
	id  string
}

// NewP256PublicKey wraps an ECDSA public key on the P-256 curve.
func NewP256PublicKey(key *ecdsa.PublicKey) (*P256PublicKey, error) {
	if key == nil || key.Curve != elliptic.P256() {
		return nil, errors.New("notary key must be an ECDSA P-256 public key")
	}
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %v", err)
	}
	sum := sha256.Sum256(der)
	return &P256PublicKey{key: key, id: hex.EncodeToString(sum[:])}, nil
}

func (k *P256PublicKey) Algorithm() string { return AlgorithmP256 }
func (k *P256PublicKey) KeyID() string { return k.id }

// ECDSA returns the underlying key.
func (k *P256PublicKey) ECDSA() *ecdsa.PublicKey { return k.key }

func (k *P256PublicKey) Verify(msg, sig []byte) error {
	hash := sha256.Sum256(msg)
	if !ecdsa.VerifyASN1(k.key, hash[:], sig) {
		return ErrBadSignature
	}
	return nil
}

// P256Signer signs with an ECDSA P-256 private key.
type P256Signer struct {
	key    *ecdsa.PrivateKey
	public *P256PublicKey
}

// NewP256Signer wraps a P-256 private key.
func NewP256Signer(key *ecdsa.PrivateKey) (*P256Signer, error) {
	if key == nil {
		return nil, errors.New("private key is required")
	}
	pub, err := NewP256PublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &P256Signer{key: key, public: pub}, nil
}

// GenerateP256Signer creates a signer with a fresh random key.
func GenerateP256Signer() (*P256Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key: %v", err)
	}
	return NewP256Signer(key)
}

func (s *P256Signer) Algorithm() string { return AlgorithmP256 }
func (s *P256Signer) Public() PublicKey { return s.public }

// PrivateKey returns the underlying key.
func (s *P256Signer) PrivateKey() *ecdsa.PrivateKey { return s.key }

func (s *P256Signer) Sign(msg []byte) ([]byte, error) {
	hash := sha256.Sum256(msg)
	sig, err := ecdsa.SignASN1(rand.Reader, s.key, hash[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign with ECDSA: %v", err)
	}
	return sig, nil
}

// ParsePublicKeyPEM decodes a PEM "PUBLIC KEY" block holding a P-256 key.
func ParsePublicKeyPEM(data []byte) (*P256PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found in public key data")
	}
	if block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("unexpected PEM block type %q", block.Type)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %v", err)
	}
	ecKey, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unsupported public key type %T", parsed)
	}
	return NewP256PublicKey(ecKey)
}

// ParsePublicKey accepts either PEM encoded P-256 key material or a hex
// Ethereum address (0x-prefixed) identifying a secp256k1 notary.
func ParsePublicKey(data []byte) (PublicKey, error) {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("0x")) {
		if !common.IsHexAddress(string(trimmed)) {
			return nil, fmt.Errorf("invalid notary address %q", trimmed)
		}
		return NewEthPublicKey(common.HexToAddress(string(trimmed))), nil
	}
	return ParsePublicKeyPEM(trimmed)
}

// MarshalPublicKeyPEM encodes a P-256 key as a PEM "PUBLIC KEY" block.
func MarshalPublicKeyPEM(key *P256PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key.key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// LoadPrivateKeyPEM parses a P-256 private key in SEC 1 ("EC PRIVATE KEY")
// or PKCS #8 ("PRIVATE KEY") form.
func LoadPrivateKeyPEM(data []byte) (*P256Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found in private key data")
	}

	var key *ecdsa.PrivateKey
	switch block.Type {
	case "EC PRIVATE KEY":
		k, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse EC private key: %v", err)
		}
		key = k
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS8 private key: %v", err)
		}
		k, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("unsupported private key type %T", parsed)
		}
		key = k
	default:
		return nil, fmt.Errorf("unexpected PEM block type %q", block.Type)
	}
	return NewP256Signer(key)
}

// MarshalPrivateKeyPEM encodes a private key as a PEM "EC PRIVATE KEY" block.
func MarshalPrivateKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}
