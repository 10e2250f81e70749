package notary

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// HeaderVersion is the current SessionHeader layout version.
const HeaderVersion = 1

// headerDomain prefixes the signed bytes so a header signature cannot be
// replayed as a signature over some other message type.
const headerDomain = "tlsn-notary/session-header/v1\x00"

// Field numbers of the header wire encoding.
const (
	fieldVersion         protowire.Number = 1
	fieldSessionID       protowire.Number = 2
	fieldTime            protowire.Number = 3
	fieldServerName      protowire.Number = 4
	fieldSentLen         protowire.Number = 5
	fieldRecvLen         protowire.Number = 6
	fieldCommitmentCount protowire.Number = 7
	fieldCommitmentRoot  protowire.Number = 8
	fieldScheme          protowire.Number = 9
	fieldNotaryKeyID     protowire.Number = 10
	fieldAlgorithm       protowire.Number = 11
)

// SessionHeader is the notary-signed anchor of a notarized session.
type SessionHeader struct {
	Version         uint32 `json:"version"`
	SessionID       string `json:"session_id"`
	Time            uint64 `json:"time"` // seconds since the Unix epoch
	ServerName      string `json:"server_name"`
	SentLen         uint64 `json:"sent_len"`
	RecvLen         uint64 `json:"recv_len"`
	CommitmentCount uint64 `json:"commitment_count"`
	CommitmentRoot  []byte `json:"commitment_root"`
	Scheme          string `json:"commitment_scheme"`
	NotaryKeyID     string `json:"notary_key_id"`
	Algorithm       string `json:"algorithm"`
}

// Timestamp converts the header time to a time.Time in UTC.
func (h *SessionHeader) Timestamp() time.Time {
	return time.Unix(int64(h.Time), 0).UTC()
}

// Encode returns the deterministic protobuf wire encoding of the header.
// Every field is written, in field number order, including zero values.
func (h *SessionHeader) Encode() []byte {
	var b []byte
	b = appendVarint(b, fieldVersion, uint64(h.Version))
	b = appendBytes(b, fieldSessionID, []byte(h.SessionID))
	b = appendVarint(b, fieldTime, h.Time)
	b = appendBytes(b, fieldServerName, []byte(h.ServerName))
	b = appendVarint(b, fieldSentLen, h.SentLen)
	b = appendVarint(b, fieldRecvLen, h.RecvLen)
	b = appendVarint(b, fieldCommitmentCount, h.CommitmentCount)
	b = appendBytes(b, fieldCommitmentRoot, h.CommitmentRoot)
	b = appendBytes(b, fieldScheme, []byte(h.Scheme))
	b = appendBytes(b, fieldNotaryKeyID, []byte(h.NotaryKeyID))
	b = appendBytes(b, fieldAlgorithm, []byte(h.Algorithm))
	return b
}

// SigningBytes returns the exact message the notary signs.
func (h *SessionHeader) SigningBytes() []byte {
	return append([]byte(headerDomain), h.Encode()...)
}

// DecodeHeader parses the wire encoding produced by Encode. Fields must appear
// exactly once and in order; anything else is rejected.
func DecodeHeader(b []byte) (*SessionHeader, error) {
	h := &SessionHeader{}
	next := fieldVersion

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("malformed header tag: %v", protowire.ParseError(n))
		}
		if num != next {
			return nil, fmt.Errorf("unexpected header field %d, want %d", num, next)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("malformed header field %d: %v", num, protowire.ParseError(n))
			}
			if err := h.setVarint(num, v); err != nil {
				return nil, err
			}
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("malformed header field %d: %v", num, protowire.ParseError(n))
			}
			if err := h.setBytes(num, v); err != nil {
				return nil, err
			}
			b = b[n:]
		default:
			return nil, fmt.Errorf("unexpected wire type %d for header field %d", typ, num)
		}
		next++
	}

	if next != fieldAlgorithm+1 {
		return nil, errors.New("truncated session header")
	}
	return h, nil
}

func (h *SessionHeader) setVarint(num protowire.Number, v uint64) error {
	switch num {
	case fieldVersion:
		if v > 1<<32-1 {
			return fmt.Errorf("header version %d overflows", v)
		}
		h.Version = uint32(v)
	case fieldTime:
		h.Time = v
	case fieldSentLen:
		h.SentLen = v
	case fieldRecvLen:
		h.RecvLen = v
	case fieldCommitmentCount:
		h.CommitmentCount = v
	default:
		return fmt.Errorf("header field %d is not a varint", num)
	}
	return nil
}

func (h *SessionHeader) setBytes(num protowire.Number, v []byte) error {
	switch num {
	case fieldSessionID:
		h.SessionID = string(v)
	case fieldServerName:
		h.ServerName = string(v)
	case fieldCommitmentRoot:
		h.CommitmentRoot = append([]byte(nil), v...)
	case fieldScheme:
		h.Scheme = string(v)
	case fieldNotaryKeyID:
		h.NotaryKeyID = string(v)
	case fieldAlgorithm:
		h.Algorithm = string(v)
	default:
		return fmt.Errorf("header field %d is not length delimited", num)
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}
