package proofverifier

// Redaction and reconstruction limits
const (
	// RedactionByte fills every transcript byte not covered by a verified
	// opening. A revealed byte can also equal RedactionByte; consult
	// RevealedTranscript ranges when the distinction matters.
	RedactionByte byte = 'X'

	// MaxTranscriptLen bounds the per-direction length a verifier will
	// reconstruct.
	MaxTranscriptLen = 64 << 20
)

// Verification stages, reported in Error.Stage
const (
	StageDecode     = "decode"
	StageHeader     = "header"
	StageSignature  = "signature"
	StageSubstrings = "substrings"
)
