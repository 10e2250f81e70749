package transcript

import (
	"errors"
	"fmt"
)

// Direction identifies one side of the authenticated session.
type Direction uint8

const (
	Sent     Direction = 0 // bytes written by the prover to the server
	Received Direction = 1 // bytes read by the prover from the server
)

// ErrUnknownDirection is returned when decoding a direction that is neither sent nor received.
var ErrUnknownDirection = errors.New("unknown transcript direction")

func (d Direction) String() string {
	switch d {
	case Sent:
		return "sent"
	case Received:
		return "received"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Valid reports whether d is one of the two defined directions.
func (d Direction) Valid() bool {
	return d == Sent || d == Received
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDirection, uint8(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	switch string(text) {
	case "sent":
		*d = Sent
	case "received":
		*d = Received
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDirection, text)
	}
	return nil
}

// Range is a half-open interval [Start, End) over one direction's byte indices.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes covered by r.
func (r Range) Len() int {
	return r.End - r.Start
}

// Empty reports whether r covers no bytes.
func (r Range) Empty() bool {
	return r.End <= r.Start
}

// Within reports whether r is well formed and fits inside a sequence of length n.
func (r Range) Within(n int) bool {
	return r.Start >= 0 && r.Start <= r.End && r.End <= n
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// Transcript holds the plaintext of both directions of a finalized session.
// It must not be modified once a session has been notarized over it.
type Transcript struct {
	Sent     []byte
	Received []byte
}

// New copies sent and received into a fresh Transcript.
func New(sent, received []byte) *Transcript {
	return &Transcript{
		Sent:     append([]byte(nil), sent...),
		Received: append([]byte(nil), received...),
	}
}

// Data returns the bytes of the given direction, or nil for an invalid direction.
func (t *Transcript) Data(d Direction) []byte {
	switch d {
	case Sent:
		return t.Sent
	case Received:
		return t.Received
	default:
		return nil
	}
}

// Len returns the length of the given direction.
func (t *Transcript) Len(d Direction) int {
	return len(t.Data(d))
}

// Slice returns the bytes of d covered by r. The range must already be validated.
func (t *Transcript) Slice(d Direction, r Range) []byte {
	return t.Data(d)[r.Start:r.End]
}
