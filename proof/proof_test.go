package proof_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"tlsn-notary/commitment"
	"tlsn-notary/notary"
	"tlsn-notary/proof"
	"tlsn-notary/prover"
	"tlsn-notary/transcript"
)

const (
	testSent = "GET /balance HTTP/1.1\r\nAuthorization: secret123\r\n\r\n"
	testRecv = "HTTP/1.1 200 OK\r\n\r\n{\"balance\":42}"
)

func newSession(t *testing.T) (*proof.NotarizedSession, []commitment.ID, []commitment.ID) {
	t.Helper()

	signer, err := notary.GenerateP256Signer()
	if err != nil {
		t.Fatalf("Failed to generate signer: %v", err)
	}
	p, err := prover.New(transcript.New([]byte(testSent), []byte(testRecv)), prover.Config{
		ServerName: "bank.example",
		NotaryKey:  signer.Public(),
	})
	if err != nil {
		t.Fatalf("Failed to create prover: %v", err)
	}
	public, private, err := p.CommitLocated(transcript.Sent, [][]byte{[]byte("secret123")})
	if err != nil {
		t.Fatalf("Failed to commit sent ranges: %v", err)
	}
	recv, _, err := p.CommitLocated(transcript.Received, nil)
	if err != nil {
		t.Fatalf("Failed to commit received ranges: %v", err)
	}

	session, err := p.Finalize(context.Background(), notary.New(signer))
	if err != nil {
		t.Fatalf("Failed to finalize: %v", err)
	}
	return session, append(public, recv...), private
}

func TestBuilderRevealsInOrder(t *testing.T) {
	session, public, private := newSession(t)

	b := session.BuildSubstringsProof()
	for _, id := range []commitment.ID{public[1], public[0], public[1]} {
		if err := b.RevealByID(id); err != nil {
			t.Fatalf("Failed to reveal %d: %v", id, err)
		}
	}
	p, err := b.Build()
	if err != nil {
		t.Fatalf("Failed to build proof: %v", err)
	}

	if got := len(p.Substrings.Openings); got != 2 {
		t.Fatalf("Expected 2 openings, got %d", got)
	}
	if p.Substrings.Openings[0].ID != public[1] || p.Substrings.Openings[1].ID != public[0] {
		t.Errorf("Openings out of reveal order: %d, %d", p.Substrings.Openings[0].ID, p.Substrings.Openings[1].ID)
	}
	for _, op := range p.Substrings.Openings {
		if op.ID == private[0] {
			t.Errorf("Private commitment %d leaked into proof", op.ID)
		}
		want := session.Transcript().Slice(op.Direction, op.Range)
		if !bytes.Equal(op.Data, want) {
			t.Errorf("Opening %d data %q, want %q", op.ID, op.Data, want)
		}
	}
}

func TestBuilderErrors(t *testing.T) {
	session, public, _ := newSession(t)

	t.Run("id from a larger session", func(t *testing.T) {
		signer, err := notary.GenerateP256Signer()
		if err != nil {
			t.Fatalf("Failed to generate signer: %v", err)
		}
		p, err := prover.New(transcript.New([]byte(testSent), []byte(testRecv)), prover.Config{ServerName: "bank.example"})
		if err != nil {
			t.Fatalf("Failed to create prover: %v", err)
		}
		var last commitment.ID
		for i := 0; i <= len(session.Commitments()); i++ {
			if last, err = p.CommitmentBuilder().CommitSent(transcript.Range{Start: 0, End: i + 1}); err != nil {
				t.Fatalf("Failed to commit: %v", err)
			}
		}
		if _, err := p.Finalize(context.Background(), notary.New(signer)); err != nil {
			t.Fatalf("Failed to finalize: %v", err)
		}

		err = session.BuildSubstringsProof().RevealByID(last)
		if !errors.Is(err, proof.ErrUnknownCommitment) {
			t.Fatalf("Expected ErrUnknownCommitment for id %d, got %v", last, err)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		b := session.BuildSubstringsProof()
		err := b.RevealByID(commitment.ID(len(session.Commitments())))
		if !errors.Is(err, proof.ErrUnknownCommitment) {
			t.Fatalf("Expected ErrUnknownCommitment, got %v", err)
		}
	})

	t.Run("build twice", func(t *testing.T) {
		b := session.BuildSubstringsProof()
		if err := b.RevealByID(public[0]); err != nil {
			t.Fatalf("Failed to reveal: %v", err)
		}
		if _, err := b.Build(); err != nil {
			t.Fatalf("Failed to build: %v", err)
		}
		if _, err := b.Build(); !errors.Is(err, proof.ErrBuildIncomplete) {
			t.Errorf("Expected ErrBuildIncomplete on second build, got %v", err)
		}
		if err := b.RevealByID(public[0]); !errors.Is(err, proof.ErrBuildIncomplete) {
			t.Errorf("Expected ErrBuildIncomplete on reveal after build, got %v", err)
		}
	})

	t.Run("zero builder", func(t *testing.T) {
		var b proof.Builder
		if _, err := b.Build(); !errors.Is(err, proof.ErrBuildIncomplete) {
			t.Errorf("Expected ErrBuildIncomplete, got %v", err)
		}
	})

	t.Run("empty reveal set", func(t *testing.T) {
		p, err := proof.Build(session, nil)
		if err != nil {
			t.Fatalf("Failed to build: %v", err)
		}
		if p.Substrings.Openings == nil || len(p.Substrings.Openings) != 0 {
			t.Errorf("Expected empty non-nil openings, got %#v", p.Substrings.Openings)
		}
	})
}

func TestNewNotarizedSessionRejectsMismatch(t *testing.T) {
	session, _, _ := newSession(t)
	records := make([]commitment.Record, 0)
	header := session.Header()

	if _, err := proof.NewNotarizedSession(session.Transcript(), records, &notary.SignedHeader{Header: header}); !errors.Is(err, proof.ErrSessionMismatch) {
		t.Errorf("Expected ErrSessionMismatch for missing records, got %v", err)
	}

	short := transcript.New([]byte(testSent[:10]), []byte(testRecv))
	if _, err := proof.NewNotarizedSession(short, records, &notary.SignedHeader{Header: header}); !errors.Is(err, proof.ErrSessionMismatch) {
		t.Errorf("Expected ErrSessionMismatch for short transcript, got %v", err)
	}
}

func TestCommitmentFor(t *testing.T) {
	session, _, private := newSession(t)

	start := strings.Index(testSent, "secret123")
	id, ok := session.CommitmentFor(transcript.Sent, transcript.Range{Start: start, End: start + 9})
	if !ok || id != private[0] {
		t.Errorf("CommitmentFor = %d, %v; want %d, true", id, ok, private[0])
	}
	if _, ok := session.CommitmentFor(transcript.Received, transcript.Range{Start: 0, End: 1}); ok {
		t.Error("Expected no commitment for unknown range")
	}
}

func TestCodecRoundTrip(t *testing.T) {
	session, public, _ := newSession(t)
	p, err := proof.Build(session, public)
	if err != nil {
		t.Fatalf("Failed to build proof: %v", err)
	}

	data, err := proof.Marshal(p)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	decoded, err := proof.Unmarshal(data)
	if err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	again, err := proof.Marshal(decoded)
	if err != nil {
		t.Fatalf("Failed to re-marshal: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Errorf("Round trip changed encoding:\n%s\n%s", data, again)
	}
}

func TestUnmarshalRejectsMalformed(t *testing.T) {
	session, public, _ := newSession(t)
	p, err := proof.Build(session, public[:1])
	if err != nil {
		t.Fatalf("Failed to build proof: %v", err)
	}
	data, err := proof.Marshal(p)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	mutate := func(fn func(m map[string]interface{})) []byte {
		var m map[string]interface{}
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("Failed to decode proof: %v", err)
		}
		fn(m)
		out, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("Failed to encode proof: %v", err)
		}
		return out
	}
	opening := func(m map[string]interface{}) map[string]interface{} {
		return m["substrings"].(map[string]interface{})["openings"].([]interface{})[0].(map[string]interface{})
	}

	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", nil},
		{"not json", []byte("proof")},
		{"array", []byte("[]")},
		{"trailing data", append(append([]byte{}, data...), []byte(" {}")...)},
		{"unknown top-level field", mutate(func(m map[string]interface{}) { m["extra"] = true })},
		{"missing session", mutate(func(m map[string]interface{}) { delete(m, "session") })},
		{"bad direction", mutate(func(m map[string]interface{}) { opening(m)["direction"] = "sideways" })},
		{"negative range", mutate(func(m map[string]interface{}) {
			opening(m)["range"] = map[string]interface{}{"start": -1, "end": 2}
		})},
		{"non base64 data", mutate(func(m map[string]interface{}) { opening(m)["data"] = "!!" })},
		{"missing blinder", mutate(func(m map[string]interface{}) { delete(opening(m), "blinder") })},
		{"null audit path", mutate(func(m map[string]interface{}) { opening(m)["audit_path"] = nil })},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := proof.Unmarshal(tt.input); !errors.Is(err, proof.ErrMalformedProof) {
				t.Errorf("Expected ErrMalformedProof, got %v", err)
			}
		})
	}
}
