package commitment

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"tlsn-notary/transcript"
)

var (
	// ErrInvalidRange is returned when a commitment range does not fit its direction.
	ErrInvalidRange = errors.New("invalid commitment range")
	// ErrSessionFinalized is returned when committing after the builder was sealed.
	ErrSessionFinalized = errors.New("session already finalized")
)

// ID is the opaque handle of one commitment within a session.
type ID uint32

func (id ID) bytes() []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(id))
	return b[:]
}

// Record is a commitment as held by the prover: the public part (id,
// direction, range, digest) plus the secret blinder needed to open it.
type Record struct {
	ID        ID
	Direction transcript.Direction
	Range     transcript.Range
	Digest    []byte
	Blinder   []byte
}

// Label encodes the fields a commitment digest is bound to.
func Label(id ID, dir transcript.Direction, r transcript.Range) []byte {
	b := make([]byte, 0, 21)
	b = append(b, id.bytes()...)
	b = append(b, byte(dir))
	b = binary.BigEndian.AppendUint64(b, uint64(r.Start))
	b = binary.BigEndian.AppendUint64(b, uint64(r.End))
	return b
}

// Leaf encodes a commitment as a Merkle leaf: its label followed by its digest.
func Leaf(id ID, dir transcript.Direction, r transcript.Range, digest []byte) []byte {
	return append(Label(id, dir, r), digest...)
}

// Builder records range commitments over a transcript before the session is
// finalized. It is not safe for concurrent use.
type Builder struct {
	transcript *transcript.Transcript
	scheme     Scheme
	seed       []byte
	records    []Record
	sealed     bool
}

// NewBuilder creates a builder over t with a fresh random blinder seed.
// A nil scheme selects DefaultScheme.
func NewBuilder(t *transcript.Transcript, scheme Scheme) (*Builder, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate commitment seed: %v", err)
	}
	return NewBuilderWithSeed(t, scheme, seed)
}

// NewBuilderWithSeed creates a builder with a caller supplied seed.
func NewBuilderWithSeed(t *transcript.Transcript, scheme Scheme, seed []byte) (*Builder, error) {
	if t == nil {
		return nil, errors.New("transcript cannot be nil")
	}
	if len(seed) < SeedSize {
		return nil, fmt.Errorf("seed must be at least %d bytes, got %d", SeedSize, len(seed))
	}
	if scheme == nil {
		scheme = DefaultScheme
	}
	return &Builder{
		transcript: t,
		scheme:     scheme,
		seed:       append([]byte(nil), seed...),
	}, nil
}

// Commit binds the bytes of dir covered by r and returns the new commitment's id.
// Committing the same range twice yields two distinct ids.
func (b *Builder) Commit(dir transcript.Direction, r transcript.Range) (ID, error) {
	if b.sealed {
		return 0, ErrSessionFinalized
	}
	if !dir.Valid() {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRange, dir)
	}

	n := b.transcript.Len(dir)
	if !r.Within(n) {
		return 0, fmt.Errorf("%w: %v out of bounds for %s transcript of length %d", ErrInvalidRange, r, dir, n)
	}
	if r.Empty() && n != 0 {
		return 0, fmt.Errorf("%w: empty range %v over non-empty %s transcript", ErrInvalidRange, r, dir)
	}

	id := ID(len(b.records))
	blinder, err := DeriveBlinder(b.seed, id)
	if err != nil {
		return 0, err
	}
	digest, err := b.scheme.Commit(blinder, Label(id, dir, r), b.transcript.Slice(dir, r))
	if err != nil {
		return 0, fmt.Errorf("failed to commit %s %v: %w", dir, r, err)
	}

	b.records = append(b.records, Record{
		ID:        id,
		Direction: dir,
		Range:     r,
		Digest:    digest,
		Blinder:   blinder,
	})
	return id, nil
}

// CommitSent commits a range of the sent direction.
func (b *Builder) CommitSent(r transcript.Range) (ID, error) {
	return b.Commit(transcript.Sent, r)
}

// CommitRecv commits a range of the received direction.
func (b *Builder) CommitRecv(r transcript.Range) (ID, error) {
	return b.Commit(transcript.Received, r)
}

// CommitRanges commits every range in rs for dir and returns the ids in order.
func (b *Builder) CommitRanges(dir transcript.Direction, rs []transcript.Range) ([]ID, error) {
	ids := make([]ID, 0, len(rs))
	for _, r := range rs {
		id, err := b.Commit(dir, r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Scheme returns the commitment scheme in use.
func (b *Builder) Scheme() Scheme {
	return b.scheme
}

// Len returns the number of commitments made so far.
func (b *Builder) Len() int {
	return len(b.records)
}

// Seal stops the builder from accepting further commitments and returns the records.
func (b *Builder) Seal() []Record {
	b.sealed = true
	out := make([]Record, len(b.records))
	copy(out, b.records)
	return out
}

// Sealed reports whether Seal has been called.
func (b *Builder) Sealed() bool {
	return b.sealed
}

// LeafHashes returns the Merkle leaf hashes of records, indexed by commitment id.
func LeafHashes(records []Record) [][]byte {
	leaves := make([][]byte, len(records))
	for i, rec := range records {
		leaves[i] = HashLeaf(Leaf(rec.ID, rec.Direction, rec.Range, rec.Digest))
	}
	return leaves
}
