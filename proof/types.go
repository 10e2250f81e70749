package proof

import (
	"errors"

	"tlsn-notary/commitment"
	"tlsn-notary/notary"
	"tlsn-notary/transcript"
)

var (
	// ErrUnknownCommitment is returned when revealing an id the session never produced.
	ErrUnknownCommitment = errors.New("unknown commitment")
	// ErrBuildIncomplete is returned when a substrings proof builder is used
	// outside its reveal-then-build sequence.
	ErrBuildIncomplete = errors.New("substrings proof build incomplete")
	// ErrMalformedProof is returned when a serialized proof is structurally invalid.
	ErrMalformedProof = errors.New("malformed proof")
	// ErrSessionMismatch is returned when a signed header does not describe
	// the transcript and commitments it is paired with.
	ErrSessionMismatch = errors.New("notarized header does not match session")
)

// SessionProof carries the notary-signed header. The header itself holds the
// session identity (id, server name, time).
type SessionProof struct {
	Header    notary.SessionHeader `json:"header"`
	Signature []byte               `json:"signature"`
}

// SignedHeader returns the session proof as a notary.SignedHeader.
func (s *SessionProof) SignedHeader() *notary.SignedHeader {
	return &notary.SignedHeader{Header: s.Header, Signature: s.Signature}
}

// Opening reveals one commitment: the committed bytes, the blinder that opens
// the digest and the Merkle audit path from the commitment leaf to the header
// root. The leaf index is the commitment id.
type Opening struct {
	ID        commitment.ID        `json:"id"`
	Direction transcript.Direction `json:"direction"`
	Range     transcript.Range     `json:"range"`
	Data      []byte               `json:"data"`
	Blinder   []byte               `json:"blinder"`
	AuditPath [][]byte             `json:"audit_path"`
}

// SubstringsProof is the set of openings chosen for disclosure.
type SubstringsProof struct {
	Openings []Opening `json:"openings"`
}

// Proof is the portable artifact handed to verifiers.
type Proof struct {
	Session    SessionProof    `json:"session"`
	Substrings SubstringsProof `json:"substrings"`
}

// Commitment is the public description of one commitment in a session.
type Commitment struct {
	ID        commitment.ID
	Direction transcript.Direction
	Range     transcript.Range
}
