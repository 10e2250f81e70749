package notary

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EthSigner signs with a secp256k1 key using Ethereum personal-message
// hashing, producing 65-byte recoverable signatures.
type EthSigner struct {
	key    *ecdsa.PrivateKey
	public *EthPublicKey
}

// NewEthSigner wraps a secp256k1 private key.
func NewEthSigner(key *ecdsa.PrivateKey) (*EthSigner, error) {
	if key == nil {
		return nil, errors.New("private key is required")
	}
	return &EthSigner{key: key, public: NewEthPublicKey(crypto.PubkeyToAddress(key.PublicKey))}, nil
}

// GenerateEthSigner creates a signer with a fresh secp256k1 key.
func GenerateEthSigner() (*EthSigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate secp256k1 key: %v", err)
	}
	return NewEthSigner(key)
}

// LoadEthSignerHex parses a hex encoded secp256k1 private key.
func LoadEthSignerHex(hexKey string) (*EthSigner, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse secp256k1 key: %v", err)
	}
	return NewEthSigner(key)
}

func (s *EthSigner) Algorithm() string { return AlgorithmETH }
func (s *EthSigner) Public() PublicKey { return s.public }

// Address returns the Ethereum address of the signing key.
func (s *EthSigner) Address() common.Address { return s.public.address }

func (s *EthSigner) Sign(msg []byte) ([]byte, error) {
	hash := accounts.TextHash(msg)
	signature, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign data with ETH style: %v", err)
	}
	return signature, nil
}

// EthPublicKey identifies a secp256k1 notary by its address; signatures are
// checked by public key recovery.
type EthPublicKey struct {
	address common.Address
}

// NewEthPublicKey returns the verifier for the given address.
func NewEthPublicKey(address common.Address) *EthPublicKey {
	return &EthPublicKey{address: address}
}

func (k *EthPublicKey) Algorithm() string { return AlgorithmETH }
func (k *EthPublicKey) KeyID() string { return k.address.Hex() }

func (k *EthPublicKey) Verify(msg, sig []byte) error {
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("%w: expected %d byte signature, got %d", ErrBadSignature, crypto.SignatureLength, len(sig))
	}

	hash := accounts.TextHash(msg)
	recovered, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return fmt.Errorf("%w: failed to recover public key: %v", ErrBadSignature, err)
	}

	if got := crypto.PubkeyToAddress(*recovered); got != k.address {
		return fmt.Errorf("%w: expected address %s, got %s", ErrBadSignature, k.address.Hex(), got.Hex())
	}
	return nil
}
