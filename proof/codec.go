package proof

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// MaxEncodedSize bounds the size of a serialized proof accepted by Unmarshal.
const MaxEncodedSize = 16 << 20

const base64Pattern = `^[A-Za-z0-9+/]*={0,2}$`

var proofSchema = map[string]interface{}{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []interface{}{"session", "substrings"},
	"properties": map[string]interface{}{
		"session": map[string]interface{}{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []interface{}{"header", "signature"},
			"properties": map[string]interface{}{
				"header":    headerSchema,
				"signature": bytesSchema(1),
			},
		},
		"substrings": map[string]interface{}{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []interface{}{"openings"},
			"properties": map[string]interface{}{
				"openings": map[string]interface{}{
					"type":  "array",
					"items": openingSchema,
				},
			},
		},
	},
}

var headerSchema = map[string]interface{}{
	"type":                 "object",
	"additionalProperties": false,
	"required": []interface{}{
		"version", "session_id", "time", "server_name", "sent_len", "recv_len",
		"commitment_count", "commitment_root", "commitment_scheme", "notary_key_id", "algorithm",
	},
	"properties": map[string]interface{}{
		"version":           uintSchema,
		"session_id":        map[string]interface{}{"type": "string", "minLength": 1},
		"time":              uintSchema,
		"server_name":       map[string]interface{}{"type": "string"},
		"sent_len":          uintSchema,
		"recv_len":          uintSchema,
		"commitment_count":  uintSchema,
		"commitment_root":   bytesSchema(1),
		"commitment_scheme": map[string]interface{}{"type": "string", "minLength": 1},
		"notary_key_id":     map[string]interface{}{"type": "string", "minLength": 1},
		"algorithm":         map[string]interface{}{"type": "string", "minLength": 1},
	},
}

var openingSchema = map[string]interface{}{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []interface{}{"id", "direction", "range", "data", "blinder", "audit_path"},
	"properties": map[string]interface{}{
		"id":        uintSchema,
		"direction": map[string]interface{}{"type": "string", "enum": []interface{}{"sent", "received"}},
		"range": map[string]interface{}{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []interface{}{"start", "end"},
			"properties": map[string]interface{}{
				"start": uintSchema,
				"end":   uintSchema,
			},
		},
		"data":    bytesSchema(0),
		"blinder": bytesSchema(1),
		"audit_path": map[string]interface{}{
			"type":  "array",
			"items": bytesSchema(1),
		},
	},
}

var uintSchema = map[string]interface{}{"type": "integer", "minimum": 0}

func bytesSchema(minLength int) map[string]interface{} {
	return map[string]interface{}{
		"type":      "string",
		"pattern":   base64Pattern,
		"minLength": minLength,
	}
}

var (
	compiledSchema     *gojsonschema.Schema
	compiledSchemaErr  error
	compiledSchemaOnce sync.Once
)

func schema() (*gojsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		compiledSchema, compiledSchemaErr = gojsonschema.NewSchema(gojsonschema.NewGoLoader(proofSchema))
	})
	return compiledSchema, compiledSchemaErr
}

// Marshal serializes p as JSON.
func Marshal(p *Proof) ([]byte, error) {
	if p == nil {
		return nil, errors.New("nil proof")
	}
	return json.Marshal(p)
}

// Unmarshal parses a serialized proof. Input that does not have the exact
// proof shape is rejected with ErrMalformedProof before any field is used.
func Unmarshal(data []byte) (*Proof, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedProof)
	}
	if len(data) > MaxEncodedSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrMalformedProof, len(data), MaxEncodedSize)
	}

	sch, err := schema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile proof schema: %w", err)
	}
	result, err := sch.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	if !result.Valid() {
		var b strings.Builder
		for _, e := range result.Errors() {
			if b.Len() > 0 {
				b.WriteString("; ")
			}
			b.WriteString(e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrMalformedProof, b.String())
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var p Proof
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after proof", ErrMalformedProof)
	}
	return &p, nil
}
