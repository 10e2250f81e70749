package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"tlsn-notary/capture"
	"tlsn-notary/commitment"
	"tlsn-notary/notary"
	"tlsn-notary/proof"
	"tlsn-notary/prover"
	"tlsn-notary/providers"
	"tlsn-notary/shared"
	"tlsn-notary/transcript"

	"go.uber.org/zap"
)

// ProofSource produces proofs for GET /proof. Fingerprint identifies the
// proof it would produce and keys the proof cache.
type ProofSource interface {
	Fingerprint() string
	Prove(ctx context.Context) (*proof.Proof, error)
}

// TargetSource fetches a URL, notarizes the exchange and reveals everything
// except the bytes matched by its rules.
type TargetSource struct {
	client   *http.Client
	target   string
	header   http.Header
	rules    []providers.RedactionRule
	notary   notary.Notarizer
	key      notary.PublicKey
	logger   *shared.Logger
	capturer func(ctx context.Context, client *http.Client, url string, header http.Header) (*transcript.Transcript, error)
}

// NewTargetSource creates a source for target. key, when set, is used to
// check the notary's signature before a proof is handed out.
func NewTargetSource(target string, rules []providers.RedactionRule, n notary.Notarizer, key notary.PublicKey, logger *shared.Logger) *TargetSource {
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	return &TargetSource{
		client:   http.DefaultClient,
		target:   target,
		header:   http.Header{},
		rules:    rules,
		notary:   n,
		key:      key,
		logger:   logger,
		capturer: capture.Get,
	}
}

// WithClient sets the HTTP client used to reach the target.
func (s *TargetSource) WithClient(c *http.Client) *TargetSource {
	s.client = c
	return s
}

// WithHeader adds a request header sent to the target.
func (s *TargetSource) WithHeader(key, value string) *TargetSource {
	s.header.Add(key, value)
	return s
}

func (s *TargetSource) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(s.target))
	for _, r := range s.rules {
		h.Write([]byte{0})
		h.Write([]byte(r.String()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *TargetSource) Prove(ctx context.Context) (*proof.Proof, error) {
	if s.target == "" {
		return nil, errors.New("no target URL configured")
	}
	u, err := url.Parse(s.target)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL: %w", err)
	}

	t, err := s.capturer(ctx, s.client, s.target, s.header)
	if err != nil {
		return nil, err
	}

	p, err := prover.New(t, prover.Config{
		ServerName: u.Hostname(),
		NotaryKey:  s.key,
		Logger:     s.logger,
	})
	if err != nil {
		return nil, err
	}

	private, err := s.privateRanges(t)
	if err != nil {
		return nil, err
	}

	var reveal []commitment.ID
	for _, dir := range []transcript.Direction{transcript.Sent, transcript.Received} {
		public := transcript.Complement(transcript.MergeRanges(private[dir]), t.Len(dir))
		ids, err := p.CommitmentBuilder().CommitRanges(dir, public)
		if err != nil {
			return nil, err
		}
		reveal = append(reveal, ids...)
		if _, err := p.CommitmentBuilder().CommitRanges(dir, private[dir]); err != nil {
			return nil, err
		}
	}

	session, err := p.Finalize(ctx, s.notary)
	if err != nil {
		return nil, err
	}

	pr, err := proof.Build(session, reveal)
	if err != nil {
		return nil, err
	}
	s.logger.WithSession(session.Header().SessionID).Info("Built proof for target",
		zap.String("server_name", u.Hostname()),
		zap.Int("revealed", len(reveal)),
		zap.Int("private", len(private[transcript.Sent])+len(private[transcript.Received])))
	return pr, nil
}

// privateRanges applies every rule to both directions. A rule must match in
// at least one of them unless it is optional.
func (s *TargetSource) privateRanges(t *transcript.Transcript) (map[transcript.Direction][]transcript.Range, error) {
	out := make(map[transcript.Direction][]transcript.Range, 2)
	for _, rule := range s.rules {
		lenient := rule
		lenient.Optional = true

		var (
			matched  bool
			firstErr error
		)
		for _, dir := range []transcript.Direction{transcript.Sent, transcript.Received} {
			ranges, err := providers.PrivateRanges(t.Data(dir), []providers.RedactionRule{lenient})
			if err != nil {
				// A body rule may not parse in the other direction.
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if len(ranges) > 0 {
				matched = true
				out[dir] = append(out[dir], ranges...)
			}
		}
		switch {
		case matched:
		case firstErr != nil:
			return nil, firstErr
		case !rule.Optional:
			return nil, fmt.Errorf("%w: %s", providers.ErrRuleNotMatched, rule)
		}
	}
	return out, nil
}

func (s *TargetSource) String() string {
	rules := make([]string, len(s.rules))
	for i, r := range s.rules {
		rules[i] = r.String()
	}
	return fmt.Sprintf("%s [%s]", s.target, strings.Join(rules, ", "))
}
