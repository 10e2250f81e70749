package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"tlsn-notary/commitment"
	"tlsn-notary/notary"
	"tlsn-notary/proof"
	"tlsn-notary/proofverifier"
	"tlsn-notary/prover"
	"tlsn-notary/providers"
	"tlsn-notary/shared"
	"tlsn-notary/transcript"
)

const (
	demoRequest  = "GET /api/balance HTTP/1.1\r\nHost: bank.example.com\r\nAuthorization: Bearer secret123\r\nCookie: session=abc123\r\n\r\n"
	demoResponse = "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\n\r\n{\"account\":\"DE89370400440532013000\",\"owner\":\"Alice\",\"balance\":1250}"
)

func main() {
	algorithm := flag.String("algorithm", notary.AlgorithmP256, "notary signing algorithm ("+notary.AlgorithmP256+" or "+notary.AlgorithmETH+")")
	rules := flag.String("rules", "header:authorization,header:cookie,jsonpath:$.account", "comma separated redaction rules")
	out := flag.String("out", "", "write the proof JSON to this file")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	logger, err := shared.NewLogger(shared.LoggerConfig{ServiceName: shared.ServiceProver, Development: *verbose, Quiet: !*verbose})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	fmt.Println("=== Selective Disclosure Demo ===")
	fmt.Println()

	signer, err := newSigner(*algorithm)
	if err != nil {
		log.Fatalf("Failed to create notary key: %v", err)
	}
	fmt.Printf("Notary key: %s (%s)\n", signer.Public().KeyID(), signer.Algorithm())

	t := transcript.New([]byte(demoRequest), []byte(demoResponse))
	p, err := prover.New(t, prover.Config{
		ServerName: "bank.example.com",
		NotaryKey:  signer.Public(),
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("Failed to create prover: %v", err)
	}

	// 1. locate private bytes in each direction
	parsed := providers.ParseRules(strings.Split(*rules, ","))
	var reveal []commitment.ID
	for _, dir := range []transcript.Direction{transcript.Sent, transcript.Received} {
		private, err := providers.PrivateRanges(t.Data(dir), optional(parsed))
		if err != nil {
			log.Fatalf("Failed to apply rules to %s data: %v", dir, err)
		}
		merged := transcript.MergeRanges(private)
		public := transcript.Complement(merged, t.Len(dir))
		fmt.Printf("%-8s %4d bytes, %d private ranges %v\n", dir, t.Len(dir), len(merged), merged)

		// 2. commit public and private ranges
		ids, err := p.CommitmentBuilder().CommitRanges(dir, public)
		if err != nil {
			log.Fatalf("Failed to commit %s ranges: %v", dir, err)
		}
		reveal = append(reveal, ids...)
		if _, err := p.CommitmentBuilder().CommitRanges(dir, private); err != nil {
			log.Fatalf("Failed to commit %s ranges: %v", dir, err)
		}
	}

	// 3. notarize
	session, err := p.Finalize(context.Background(), notary.New(signer, notary.WithLogger(logger)))
	if err != nil {
		log.Fatalf("Failed to notarize session: %v", err)
	}
	h := session.Header()
	fmt.Printf("\nSession %s notarized: %d commitments, root %x\n", h.SessionID, h.CommitmentCount, h.CommitmentRoot)

	// 4. prove
	b := session.BuildSubstringsProof()
	for _, id := range reveal {
		if err := b.RevealByID(id); err != nil {
			log.Fatalf("Failed to reveal commitment %d: %v", id, err)
		}
	}
	pr, err := b.Build()
	if err != nil {
		log.Fatalf("Failed to build proof: %v", err)
	}
	data, err := proof.Marshal(pr)
	if err != nil {
		log.Fatalf("Failed to encode proof: %v", err)
	}
	fmt.Printf("Proof: %d openings, %d bytes\n", len(pr.Substrings.Openings), len(data))

	if *out != "" {
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			log.Fatalf("Failed to write proof: %v", err)
		}
		fmt.Printf("Proof written to %s\n", *out)
	}

	// 5. verify what the verifier sees
	revealed, err := proofverifier.VerifyJSON(data, signer.Public())
	if err != nil {
		log.Fatalf("Proof rejected: %v", err)
	}
	for _, dir := range []transcript.Direction{transcript.Sent, transcript.Received} {
		text, err := revealed.Text(dir)
		if err != nil {
			log.Fatalf("Failed to render %s data: %v", dir, err)
		}
		fmt.Printf("\n--- %s (verified) ---\n%s\n", dir, text)
	}
}

func newSigner(algorithm string) (notary.Signer, error) {
	switch algorithm {
	case notary.AlgorithmP256:
		return notary.GenerateP256Signer()
	case notary.AlgorithmETH:
		return notary.GenerateEthSigner()
	}
	return nil, fmt.Errorf("unknown algorithm %q", algorithm)
}

// optional lets a rule match in only one direction.
func optional(rules []providers.RedactionRule) []providers.RedactionRule {
	out := make([]providers.RedactionRule, len(rules))
	for i, r := range rules {
		r.Optional = true
		out[i] = r
	}
	return out
}
