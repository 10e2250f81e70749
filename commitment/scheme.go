package commitment

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// BlinderSize is the length of the per-commitment HMAC key in bytes.
	BlinderSize = 32
	// SeedSize is the length of the per-session secret blinders are derived from.
	SeedSize = 32

	blinderInfo = "tlsn-notary/commitment-blinder/v1"
)

// ErrOpeningMismatch is returned by Scheme.Open when the opening does not
// reproduce the committed digest.
var ErrOpeningMismatch = errors.New("commitment opening does not match digest")

// Scheme is the commit/open capability the builder and the verifier rely on.
// The label binds the commitment to its id, direction and range.
type Scheme interface {
	Name() string
	Commit(blinder, label, data []byte) ([]byte, error)
	Open(digest, blinder, label, data []byte) error
}

// HMACScheme commits with digest = HMAC-SHA256(blinder, label || data).
type HMACScheme struct{}

// DefaultScheme is the scheme used when a builder is created without one.
var DefaultScheme Scheme = HMACScheme{}

func (HMACScheme) Name() string { return "HMAC-SHA256" }

func (HMACScheme) Commit(blinder, label, data []byte) ([]byte, error) {
	if len(blinder) != BlinderSize {
		return nil, fmt.Errorf("blinder must be %d bytes, got %d", BlinderSize, len(blinder))
	}
	mac := hmac.New(sha256.New, blinder)
	mac.Write(label)
	mac.Write(data)
	return mac.Sum(nil), nil
}

func (s HMACScheme) Open(digest, blinder, label, data []byte) error {
	expected, err := s.Commit(blinder, label, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOpeningMismatch, err)
	}
	if !hmac.Equal(digest, expected) {
		return ErrOpeningMismatch
	}
	return nil
}

// DeriveBlinder expands the session seed into the blinder for one commitment.
// Blinders of different ids are independent, so opening one commitment says
// nothing about the others.
func DeriveBlinder(seed []byte, id ID) ([]byte, error) {
	info := append([]byte(blinderInfo), id.bytes()...)
	r := hkdf.New(sha256.New, seed, nil, info)
	blinder := make([]byte, BlinderSize)
	if _, err := io.ReadFull(r, blinder); err != nil {
		return nil, fmt.Errorf("failed to derive blinder for commitment %d: %v", id, err)
	}
	return blinder, nil
}
