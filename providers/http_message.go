package providers

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"tlsn-notary/transcript"
)

var headerBodySeparator = []byte("\r\n\r\n")

// httpMessage locates the parts of an HTTP/1.x request or response by byte
// offset. A message without a header block is treated as a bare body.
type httpMessage struct {
	raw       []byte
	bodyStart int
	// lower-cased header name -> value ranges, one per occurrence
	headers map[string][]transcript.Range
}

func parseHTTPMessage(raw []byte) *httpMessage {
	m := &httpMessage{raw: raw, headers: make(map[string][]transcript.Range)}

	headEnd := bytes.Index(raw, headerBodySeparator)
	if headEnd < 0 {
		return m
	}
	m.bodyStart = headEnd + len(headerBodySeparator)

	// Skip the request or status line.
	pos := bytes.Index(raw[:headEnd], []byte("\r\n"))
	if pos < 0 {
		return m
	}
	pos += 2
	for pos < headEnd {
		lineEnd := bytes.Index(raw[pos:headEnd], []byte("\r\n"))
		if lineEnd < 0 {
			lineEnd = headEnd - pos
		}
		line := raw[pos : pos+lineEnd]
		if colon := bytes.IndexByte(line, ':'); colon > 0 {
			name := strings.ToLower(string(bytes.TrimSpace(line[:colon])))
			valueStart := colon + 1
			for valueStart < len(line) && (line[valueStart] == ' ' || line[valueStart] == '\t') {
				valueStart++
			}
			valueEnd := len(line)
			for valueEnd > valueStart && (line[valueEnd-1] == ' ' || line[valueEnd-1] == '\t') {
				valueEnd--
			}
			if valueEnd > valueStart {
				m.headers[name] = append(m.headers[name], transcript.Range{Start: pos + valueStart, End: pos + valueEnd})
			}
		}
		pos += lineEnd + 2
	}
	return m
}

func (m *httpMessage) body() []byte {
	return m.raw[m.bodyStart:]
}

func (m *httpMessage) shift(ranges []transcript.Range) []transcript.Range {
	for i := range ranges {
		ranges[i].Start += m.bodyStart
		ranges[i].End += m.bodyStart
	}
	return ranges
}

func (m *httpMessage) apply(rule RedactionRule) ([]transcript.Range, error) {
	switch rule.Kind {
	case KindHeader:
		return append([]transcript.Range(nil), m.headers[strings.ToLower(rule.Value)]...), nil
	case KindJSONPath:
		if len(m.body()) == 0 {
			return nil, nil
		}
		ranges, err := jsonValueRanges(m.body(), rule.Value)
		if errors.Is(err, errNoMatch) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return m.shift(ranges), nil
	case KindXPath:
		if len(m.body()) == 0 {
			return nil, nil
		}
		ranges, err := extractHTMLElementsIndexes(string(m.body()), rule.Value, rule.ContentsOnly)
		if errors.Is(err, errNoMatch) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return m.shift(ranges), nil
	}
	return nil, fmt.Errorf("rule kind %q does not apply to message parts", rule.Kind)
}
