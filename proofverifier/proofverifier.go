package proofverifier

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"tlsn-notary/commitment"
	"tlsn-notary/notary"
	"tlsn-notary/proof"
	"tlsn-notary/shared"
	"tlsn-notary/transcript"

	"go.uber.org/zap"
)

var (
	ErrInvalidSignature  = errors.New("invalid notary signature")
	ErrSubstringMismatch = errors.New("substring does not match commitment")
	ErrRangeOutOfBounds  = errors.New("revealed range out of bounds")
	ErrMalformedProof    = proof.ErrMalformedProof
	ErrNotUTF8           = errors.New("revealed transcript is not valid UTF-8")
)

// Error reports which verification stage rejected a proof. Kind is one of the
// package sentinels and is matched by errors.Is.
type Error struct {
	Stage string
	Kind  error
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func stageError(stage string, kind, err error) *Error {
	return &Error{Stage: stage, Kind: kind, Err: err}
}

// RevealedTranscript is the verifier's view of a session: disclosed bytes in
// place, every other byte replaced with RedactionByte.
type RevealedTranscript struct {
	SessionID   string
	ServerName  string
	NotaryKeyID string
	Time        time.Time

	Sent     []byte
	Received []byte

	// Revealed ranges per direction, merged and sorted.
	SentRanges     []transcript.Range
	ReceivedRanges []transcript.Range
}

// Text returns the direction as a string, failing with ErrNotUTF8 when the
// revealed bytes do not form valid UTF-8.
func (r *RevealedTranscript) Text(d transcript.Direction) (string, error) {
	var b []byte
	switch d {
	case transcript.Sent:
		b = r.Sent
	case transcript.Received:
		b = r.Received
	default:
		return "", transcript.ErrUnknownDirection
	}
	if !utf8.Valid(b) {
		return "", ErrNotUTF8
	}
	return string(b), nil
}

// Verifier checks proofs against a trusted notary key.
type Verifier struct {
	schemes   map[string]commitment.Scheme
	redaction byte
	logger    *shared.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithScheme registers an additional commitment scheme by name.
func WithScheme(s commitment.Scheme) Option {
	return func(v *Verifier) { v.schemes[s.Name()] = s }
}

// WithRedactionByte overrides RedactionByte. Zero is ignored: a NUL marker
// cannot be told apart from zero bytes in binary transcripts.
func WithRedactionByte(b byte) Option {
	return func(v *Verifier) {
		if b != 0 {
			v.redaction = b
		}
	}
}

// WithLogger sets the logger used to report rejected proofs.
func WithLogger(l *shared.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// New creates a verifier that understands the default commitment scheme.
func New(opts ...Option) *Verifier {
	v := &Verifier{
		schemes:   map[string]commitment.Scheme{commitment.DefaultScheme.Name(): commitment.DefaultScheme},
		redaction: RedactionByte,
		logger:    shared.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var defaultVerifier = New()

// Verify checks p against key with the default verifier.
func Verify(p *proof.Proof, key notary.PublicKey) (*RevealedTranscript, error) {
	return defaultVerifier.Verify(p, key)
}

// VerifyJSON decodes and verifies a serialized proof with the default verifier.
func VerifyJSON(data []byte, key notary.PublicKey) (*RevealedTranscript, error) {
	return defaultVerifier.VerifyJSON(data, key)
}

// VerifyFile loads a serialized proof from path and verifies it.
func VerifyFile(path string, key notary.PublicKey) (*RevealedTranscript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read proof: %v", err)
	}
	return defaultVerifier.VerifyJSON(data, key)
}

// VerifyJSON decodes data and verifies the resulting proof.
func (v *Verifier) VerifyJSON(data []byte, key notary.PublicKey) (*RevealedTranscript, error) {
	p, err := proof.Unmarshal(data)
	if err != nil {
		v.logger.Security("Rejected malformed proof", zap.Error(err))
		return nil, stageError(StageDecode, ErrMalformedProof, err)
	}
	return v.Verify(p, key)
}

// Verify checks the notary signature on the session header and every opening
// against the signed commitment root, then reconstructs the transcript. No
// partial result is returned on failure.
func (v *Verifier) Verify(p *proof.Proof, key notary.PublicKey) (*RevealedTranscript, error) {
	if p == nil {
		return nil, stageError(StageDecode, ErrMalformedProof, errors.New("nil proof"))
	}
	header := p.Session.Header
	log := v.logger.WithSession(header.SessionID)

	// Nothing in the header is trusted until the signature checks out.
	if err := p.Session.SignedHeader().Verify(key); err != nil {
		v.logger.Security("Rejected proof with invalid notary signature",
			zap.String("session_id", header.SessionID), zap.Error(err))
		return nil, stageError(StageSignature, ErrInvalidSignature, err)
	}

	if err := v.checkHeader(&header); err != nil {
		log.Warn("Rejected proof header", zap.Error(err))
		return nil, err
	}

	scheme, ok := v.schemes[header.Scheme]
	if !ok {
		return nil, stageError(StageSubstrings, ErrSubstringMismatch,
			fmt.Errorf("unsupported commitment scheme %q", header.Scheme))
	}
	for i := range p.Substrings.Openings {
		if err := v.checkOpening(scheme, &header, &p.Substrings.Openings[i]); err != nil {
			v.logger.Security("Rejected proof opening",
				zap.String("session_id", header.SessionID),
				zap.Int("opening", i), zap.Error(err))
			return nil, err
		}
	}

	revealed := v.reconstruct(&header, p.Substrings.Openings)
	log.Debug("Verified proof",
		zap.Int("openings", len(p.Substrings.Openings)),
		zap.Int("sent_revealed", transcript.Covered(revealed.SentRanges)),
		zap.Int("recv_revealed", transcript.Covered(revealed.ReceivedRanges)))
	return revealed, nil
}

func (v *Verifier) checkHeader(h *notary.SessionHeader) error {
	switch {
	case h.Version != notary.HeaderVersion:
		return stageError(StageHeader, ErrMalformedProof, fmt.Errorf("unsupported header version %d", h.Version))
	case h.SentLen > MaxTranscriptLen || h.RecvLen > MaxTranscriptLen:
		return stageError(StageHeader, ErrMalformedProof,
			fmt.Errorf("transcript lengths %d/%d exceed limit of %d", h.SentLen, h.RecvLen, MaxTranscriptLen))
	}
	return nil
}

func (v *Verifier) checkOpening(scheme commitment.Scheme, h *notary.SessionHeader, op *proof.Opening) error {
	var n uint64
	switch op.Direction {
	case transcript.Sent:
		n = h.SentLen
	case transcript.Received:
		n = h.RecvLen
	default:
		return stageError(StageSubstrings, ErrSubstringMismatch, fmt.Errorf("opening %d: %v", op.ID, transcript.ErrUnknownDirection))
	}
	if !op.Range.Within(int(n)) {
		return stageError(StageSubstrings, ErrRangeOutOfBounds,
			fmt.Errorf("opening %d: %v exceeds %s length %d", op.ID, op.Range, op.Direction, n))
	}
	if len(op.Data) != op.Range.Len() {
		return stageError(StageSubstrings, ErrSubstringMismatch,
			fmt.Errorf("opening %d: %d bytes for range %v", op.ID, len(op.Data), op.Range))
	}

	label := commitment.Label(op.ID, op.Direction, op.Range)
	digest, err := scheme.Commit(op.Blinder, label, op.Data)
	if err != nil {
		return stageError(StageSubstrings, ErrSubstringMismatch, fmt.Errorf("opening %d: %v", op.ID, err))
	}
	leaf := commitment.HashLeaf(commitment.Leaf(op.ID, op.Direction, op.Range, digest))
	if err := commitment.VerifyInclusion(h.CommitmentRoot, leaf, uint64(op.ID), h.CommitmentCount, op.AuditPath); err != nil {
		return stageError(StageSubstrings, ErrSubstringMismatch, fmt.Errorf("opening %d: %v", op.ID, err))
	}
	return nil
}

func (v *Verifier) reconstruct(h *notary.SessionHeader, openings []proof.Opening) *RevealedTranscript {
	out := &RevealedTranscript{
		SessionID:   h.SessionID,
		ServerName:  h.ServerName,
		NotaryKeyID: h.NotaryKeyID,
		Time:        h.Timestamp(),
		Sent:        bytes.Repeat([]byte{v.redaction}, int(h.SentLen)),
		Received:    bytes.Repeat([]byte{v.redaction}, int(h.RecvLen)),
	}

	var sent, recv []transcript.Range
	for _, op := range openings {
		switch op.Direction {
		case transcript.Sent:
			copy(out.Sent[op.Range.Start:op.Range.End], op.Data)
			sent = append(sent, op.Range)
		case transcript.Received:
			copy(out.Received[op.Range.Start:op.Range.End], op.Data)
			recv = append(recv, op.Range)
		}
	}
	out.SentRanges = transcript.MergeRanges(sent)
	out.ReceivedRanges = transcript.MergeRanges(recv)
	return out
}
