package proof

import (
	"bytes"
	"errors"
	"fmt"

	"tlsn-notary/commitment"
	"tlsn-notary/notary"
	"tlsn-notary/transcript"
)

// NotarizedSession is a finalized transcript together with its commitments
// and the notary-signed header binding them. It is read-only.
type NotarizedSession struct {
	transcript *transcript.Transcript
	records    []commitment.Record
	tree       *commitment.Tree
	signed     notary.SignedHeader
}

// NewNotarizedSession pairs a transcript and its sealed commitment records
// with the header the notary signed over them. The header must describe
// exactly this transcript and commitment set.
func NewNotarizedSession(t *transcript.Transcript, records []commitment.Record, signed *notary.SignedHeader) (*NotarizedSession, error) {
	if t == nil || signed == nil {
		return nil, errors.New("transcript and signed header are required")
	}
	for i, rec := range records {
		if rec.ID != commitment.ID(i) {
			return nil, fmt.Errorf("%w: commitment %d recorded at position %d", ErrSessionMismatch, rec.ID, i)
		}
	}

	tree := commitment.NewTree(commitment.LeafHashes(records))
	h := signed.Header
	switch {
	case h.SentLen != uint64(len(t.Sent)):
		return nil, fmt.Errorf("%w: sent length %d, transcript has %d", ErrSessionMismatch, h.SentLen, len(t.Sent))
	case h.RecvLen != uint64(len(t.Received)):
		return nil, fmt.Errorf("%w: received length %d, transcript has %d", ErrSessionMismatch, h.RecvLen, len(t.Received))
	case h.CommitmentCount != uint64(len(records)):
		return nil, fmt.Errorf("%w: %d commitments signed, %d recorded", ErrSessionMismatch, h.CommitmentCount, len(records))
	case !bytes.Equal(h.CommitmentRoot, tree.Root()):
		return nil, fmt.Errorf("%w: commitment root differs", ErrSessionMismatch)
	}

	return &NotarizedSession{
		transcript: t,
		records:    records,
		tree:       tree,
		signed:     *signed,
	}, nil
}

// Header returns the signed session header.
func (s *NotarizedSession) Header() notary.SessionHeader {
	return s.signed.Header
}

// Transcript returns the notarized transcript.
func (s *NotarizedSession) Transcript() *transcript.Transcript {
	return s.transcript
}

// Commitments lists the public side of every commitment in the session.
func (s *NotarizedSession) Commitments() []Commitment {
	out := make([]Commitment, len(s.records))
	for i, rec := range s.records {
		out[i] = Commitment{ID: rec.ID, Direction: rec.Direction, Range: rec.Range}
	}
	return out
}

// CommitmentFor returns the first commitment over exactly r in direction dir.
func (s *NotarizedSession) CommitmentFor(dir transcript.Direction, r transcript.Range) (commitment.ID, bool) {
	for _, rec := range s.records {
		if rec.Direction == dir && rec.Range == r {
			return rec.ID, true
		}
	}
	return 0, false
}

// SessionProof returns the portable session part of a proof.
func (s *NotarizedSession) SessionProof() SessionProof {
	h := s.signed.Header
	h.CommitmentRoot = append([]byte(nil), h.CommitmentRoot...)
	return SessionProof{
		Header:    h,
		Signature: append([]byte(nil), s.signed.Signature...),
	}
}

// BuildSubstringsProof starts a two-phase reveal: call RevealByID for each
// commitment to disclose, then Build.
func (s *NotarizedSession) BuildSubstringsProof() *Builder {
	return &Builder{session: s, seen: make(map[commitment.ID]bool)}
}

func (s *NotarizedSession) record(id commitment.ID) (commitment.Record, bool) {
	if int(id) >= len(s.records) {
		return commitment.Record{}, false
	}
	return s.records[id], true
}
