package notary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tlsn-notary/shared"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionRequest is what the prover hands the notary at finalization: the
// public shape of the transcript and the root over its commitments. The
// notary never sees plaintext.
type SessionRequest struct {
	ServerName      string
	SentLen         uint64
	RecvLen         uint64
	CommitmentCount uint64
	CommitmentRoot  []byte
	Scheme          string
}

// SignedHeader is a session header together with the notary's signature.
type SignedHeader struct {
	Header    SessionHeader
	Signature []byte
}

// Verify checks the signature with key. The key's algorithm and id must match
// the ones recorded in the header.
func (s *SignedHeader) Verify(key PublicKey) error {
	if key == nil {
		return errors.New("notary public key is required")
	}
	if s.Header.Algorithm != key.Algorithm() {
		return fmt.Errorf("%w: header algorithm %q does not match key algorithm %q", ErrBadSignature, s.Header.Algorithm, key.Algorithm())
	}
	if s.Header.NotaryKeyID != key.KeyID() {
		return fmt.Errorf("%w: header signed by key %s, expected %s", ErrBadSignature, s.Header.NotaryKeyID, key.KeyID())
	}
	return key.Verify(s.Header.SigningBytes(), s.Signature)
}

// Notarizer signs session headers. The prover only depends on this interface.
type Notarizer interface {
	Notarize(ctx context.Context, req SessionRequest) (*SignedHeader, error)
}

// Notary is an in-process notary backed by a Signer.
type Notary struct {
	signer Signer
	logger *shared.Logger
	now    func() time.Time
}

// Option configures a Notary.
type Option func(*Notary)

// WithLogger sets the notary logger.
func WithLogger(l *shared.Logger) Option {
	return func(n *Notary) { n.logger = l }
}

// WithClock overrides the time source used for header timestamps.
func WithClock(now func() time.Time) Option {
	return func(n *Notary) { n.now = now }
}

// New creates a notary that signs with signer.
func New(signer Signer, opts ...Option) *Notary {
	n := &Notary{
		signer: signer,
		logger: shared.NewNopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// PublicKey returns the key verifiers need to check this notary's headers.
func (n *Notary) PublicKey() PublicKey {
	return n.signer.Public()
}

// Notarize validates the request, assigns a session id and timestamp and
// signs the resulting header.
func (n *Notary) Notarize(ctx context.Context, req SessionRequest) (*SignedHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.CommitmentRoot) == 0 {
		return nil, errors.New("commitment root is required")
	}
	if req.Scheme == "" {
		return nil, errors.New("commitment scheme is required")
	}

	sessionID, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	header := SessionHeader{
		Version:         HeaderVersion,
		SessionID:       sessionID.String(),
		Time:            uint64(n.now().Unix()),
		ServerName:      req.ServerName,
		SentLen:         req.SentLen,
		RecvLen:         req.RecvLen,
		CommitmentCount: req.CommitmentCount,
		CommitmentRoot:  append([]byte(nil), req.CommitmentRoot...),
		Scheme:          req.Scheme,
		NotaryKeyID:     n.signer.Public().KeyID(),
		Algorithm:       n.signer.Algorithm(),
	}

	sig, err := n.signer.Sign(header.SigningBytes())
	if err != nil {
		n.logger.Critical("Failed to sign session header", zap.String("session_id", header.SessionID), zap.Error(err))
		return nil, fmt.Errorf("failed to sign session header: %w", err)
	}

	n.logger.WithSession(header.SessionID).Info("Notarized session",
		zap.String("server_name", header.ServerName),
		zap.Uint64("sent_len", header.SentLen),
		zap.Uint64("recv_len", header.RecvLen),
		zap.Uint64("commitments", header.CommitmentCount))

	return &SignedHeader{Header: header, Signature: sig}, nil
}
