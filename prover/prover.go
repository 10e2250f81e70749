package prover

import (
	"context"
	"errors"
	"fmt"

	"tlsn-notary/commitment"
	"tlsn-notary/notary"
	"tlsn-notary/proof"
	"tlsn-notary/shared"
	"tlsn-notary/transcript"

	"go.uber.org/zap"
)

// Config configures a Prover.
type Config struct {
	// ServerName is the server the transcript was exchanged with.
	ServerName string
	// Scheme defaults to commitment.DefaultScheme.
	Scheme commitment.Scheme
	// Seed fixes the blinder seed. A random seed is used when empty.
	Seed []byte
	// NotaryKey, when set, is used to check the signature on the header
	// returned by the notary.
	NotaryKey notary.PublicKey
	Logger    *shared.Logger
}

// Prover holds a finalized-on-the-wire transcript while the user commits to
// ranges of it, then obtains the notary's signature over those commitments.
type Prover struct {
	transcript *transcript.Transcript
	builder    *commitment.Builder
	serverName string
	notaryKey  notary.PublicKey
	logger     *shared.Logger

	records   []commitment.Record
	finalized bool
}

// New creates a prover over t.
func New(t *transcript.Transcript, cfg Config) (*Prover, error) {
	if t == nil {
		return nil, errors.New("transcript is required")
	}
	scheme := cfg.Scheme
	if scheme == nil {
		scheme = commitment.DefaultScheme
	}
	logger := cfg.Logger
	if logger == nil {
		logger = shared.NewNopLogger()
	}

	var (
		builder *commitment.Builder
		err     error
	)
	if len(cfg.Seed) > 0 {
		builder, err = commitment.NewBuilderWithSeed(t, scheme, cfg.Seed)
	} else {
		builder, err = commitment.NewBuilder(t, scheme)
	}
	if err != nil {
		return nil, err
	}

	return &Prover{
		transcript: t,
		builder:    builder,
		serverName: cfg.ServerName,
		notaryKey:  cfg.NotaryKey,
		logger:     logger,
	}, nil
}

// Transcript returns the transcript being notarized.
func (p *Prover) Transcript() *transcript.Transcript {
	return p.transcript
}

// CommitmentBuilder exposes the builder used to commit to ranges.
func (p *Prover) CommitmentBuilder() *commitment.Builder {
	return p.builder
}

// CommitLocated splits direction dir into public and private ranges around
// every occurrence of patterns and commits to each range. The returned ids
// are in range order.
func (p *Prover) CommitLocated(dir transcript.Direction, patterns [][]byte) (public, private []commitment.ID, err error) {
	pubRanges, privRanges := transcript.Locate(p.transcript.Data(dir), patterns)
	if public, err = p.builder.CommitRanges(dir, pubRanges); err != nil {
		return nil, nil, fmt.Errorf("failed to commit public %s ranges: %w", dir, err)
	}
	if private, err = p.builder.CommitRanges(dir, privRanges); err != nil {
		return nil, nil, fmt.Errorf("failed to commit private %s ranges: %w", dir, err)
	}
	p.logger.DebugIf("Committed located ranges",
		zap.Stringer("direction", dir),
		zap.Int("public", len(public)),
		zap.Int("private", len(private)))
	return public, private, nil
}

// Finalize seals the commitments and asks n to sign the session header. No
// commitment can be added afterwards. A failed notarization can be retried.
func (p *Prover) Finalize(ctx context.Context, n notary.Notarizer) (*proof.NotarizedSession, error) {
	if p.finalized {
		return nil, commitment.ErrSessionFinalized
	}
	if n == nil {
		return nil, errors.New("notarizer is required")
	}
	if p.records == nil {
		p.records = p.builder.Seal()
	}

	tree := commitment.NewTree(commitment.LeafHashes(p.records))
	req := notary.SessionRequest{
		ServerName:      p.serverName,
		SentLen:         uint64(len(p.transcript.Sent)),
		RecvLen:         uint64(len(p.transcript.Received)),
		CommitmentCount: uint64(len(p.records)),
		CommitmentRoot:  tree.Root(),
		Scheme:          p.builder.Scheme().Name(),
	}

	signed, err := n.Notarize(ctx, req)
	if err != nil {
		p.logger.Error("Notarization failed", zap.Error(err))
		return nil, fmt.Errorf("notarization failed: %w", err)
	}
	if signed.Header.ServerName != req.ServerName || signed.Header.Scheme != req.Scheme {
		p.logger.Security("Notary returned header for a different session",
			zap.String("session_id", signed.Header.SessionID))
		return nil, fmt.Errorf("%w: server name or scheme differs", proof.ErrSessionMismatch)
	}
	if p.notaryKey != nil {
		if err := signed.Verify(p.notaryKey); err != nil {
			p.logger.Security("Notary header signature invalid",
				zap.String("session_id", signed.Header.SessionID), zap.Error(err))
			return nil, err
		}
	}

	session, err := proof.NewNotarizedSession(p.transcript, p.records, signed)
	if err != nil {
		p.logger.Security("Notary header does not match session", zap.Error(err))
		return nil, err
	}
	p.finalized = true

	p.logger.WithSession(signed.Header.SessionID).Info("Session finalized",
		zap.Int("commitments", len(p.records)))
	return session, nil
}
