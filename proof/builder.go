package proof

import (
	"fmt"

	"tlsn-notary/commitment"
)

// Builder assembles a substrings proof from a notarized session. Register the
// commitments to disclose with RevealByID, then call Build once.
type Builder struct {
	session *NotarizedSession
	reveal  []commitment.ID
	seen    map[commitment.ID]bool
	built   bool
}

// RevealByID marks commitment id for disclosure. Revealing the same id twice
// is a no-op.
//
// Ids are leaf indices and are not bound to a session: an id beyond this
// session's commitments fails with ErrUnknownCommitment, but an id taken from
// another session that is in range reveals this session's commitment with
// that index. Use CommitmentFor to look ids up by direction and range.
func (b *Builder) RevealByID(id commitment.ID) error {
	if b.session == nil || b.built {
		return ErrBuildIncomplete
	}
	if _, ok := b.session.record(id); !ok {
		return fmt.Errorf("%w: %d", ErrUnknownCommitment, id)
	}
	if b.seen[id] {
		return nil
	}
	b.seen[id] = true
	b.reveal = append(b.reveal, id)
	return nil
}

// RevealAll marks every id in ids for disclosure, stopping at the first error.
func (b *Builder) RevealAll(ids []commitment.ID) error {
	for _, id := range ids {
		if err := b.RevealByID(id); err != nil {
			return err
		}
	}
	return nil
}

// Build produces the proof. Openings appear in the order they were revealed.
// A builder can only be built once.
func (b *Builder) Build() (*Proof, error) {
	if b.session == nil || b.built {
		return nil, ErrBuildIncomplete
	}

	openings := make([]Opening, 0, len(b.reveal))
	for _, id := range b.reveal {
		rec, _ := b.session.record(id)
		path, err := b.session.tree.AuditPath(int(id))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBuildIncomplete, err)
		}
		if path == nil {
			path = [][]byte{}
		}
		openings = append(openings, Opening{
			ID:        rec.ID,
			Direction: rec.Direction,
			Range:     rec.Range,
			Data:      append([]byte{}, b.session.transcript.Slice(rec.Direction, rec.Range)...),
			Blinder:   append([]byte(nil), rec.Blinder...),
			AuditPath: path,
		})
	}
	b.built = true

	return &Proof{
		Session:    b.session.SessionProof(),
		Substrings: SubstringsProof{Openings: openings},
	}, nil
}

// Build reveals ids from session in one step.
func Build(session *NotarizedSession, ids []commitment.ID) (*Proof, error) {
	b := session.BuildSubstringsProof()
	if err := b.RevealAll(ids); err != nil {
		return nil, err
	}
	return b.Build()
}
