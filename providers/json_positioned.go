package providers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"tlsn-notary/transcript"

	gojson "github.com/coreos/go-json"
	jp "github.com/reclaimprotocol/jsonpathplus-go"
)

// errNoMatch reports that a JSONPath or XPath expression selected nothing.
var errNoMatch = errors.New("expression matched nothing")

// pathStep is one hop of a normalized JSONPath: an object key or, when
// index >= 0, an array element.
type pathStep struct {
	key   string
	index int
}

func (s pathStep) String() string {
	if s.index >= 0 {
		return fmt.Sprintf("[%d]", s.index)
	}
	return "." + s.key
}

// jsonValueRanges returns the byte range in doc of every value selected by
// expr. jsonpathplus evaluates the expression; the normalized result paths
// are then replayed over a coreos/go-json tree, which keeps offsets.
func jsonValueRanges(doc []byte, expr string) ([]transcript.Range, error) {
	results, err := jp.Query(expr, string(doc))
	if err != nil {
		return nil, fmt.Errorf("JSONPath query failed: %v", err)
	}
	if len(results) == 0 {
		return nil, errNoMatch
	}

	var root gojson.Node
	if err := gojson.Unmarshal(doc, &root); err != nil {
		return nil, fmt.Errorf("failed to parse JSON for offsets: %v", err)
	}

	out := make([]transcript.Range, 0, len(results))
	for _, res := range results {
		steps, err := parseResultPath(res.Path)
		if err != nil {
			return nil, err
		}
		node, err := nodeAt(&root, steps)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %q: %v", res.Path, err)
		}
		// go-json reports an inclusive end offset.
		r := transcript.Range{Start: node.Start, End: node.End + 1}
		if !r.Within(len(doc)) {
			return nil, fmt.Errorf("value at %q has out of bounds offsets %s", res.Path, r)
		}
		out = append(out, r)
	}
	return out, nil
}

// parseResultPath reads the normalized paths jsonpathplus reports, e.g.
// $.a[1]['b c'].d.
func parseResultPath(path string) ([]pathStep, error) {
	rest := strings.TrimPrefix(path, "$")
	var steps []pathStep

	for len(rest) > 0 {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			if end == 0 {
				return nil, fmt.Errorf("empty key in path %q", path)
			}
			steps = append(steps, pathStep{key: rest[:end], index: -1})
			rest = rest[end:]

		case '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated bracket in path %q", path)
			}
			inner := rest[1:end]
			rest = rest[end+1:]
			if unquoted := strings.Trim(inner, `'"`); unquoted != inner {
				steps = append(steps, pathStep{key: unquoted, index: -1})
				continue
			}
			idx, err := strconv.Atoi(inner)
			if err != nil {
				// bare bracketed key
				steps = append(steps, pathStep{key: inner, index: -1})
				continue
			}
			steps = append(steps, pathStep{index: idx})

		default:
			// a path written without the leading '.'
			rest = "." + rest
		}
	}
	return steps, nil
}

func nodeAt(root *gojson.Node, steps []pathStep) (*gojson.Node, error) {
	node := root
	for _, step := range steps {
		switch v := node.Value.(type) {
		case map[string]gojson.Node:
			child, ok := v[step.key]
			if step.index >= 0 {
				child, ok = v[strconv.Itoa(step.index)]
			}
			if !ok {
				return nil, fmt.Errorf("no member %s", step)
			}
			node = &child
		case []gojson.Node:
			if step.index < 0 || step.index >= len(v) {
				return nil, fmt.Errorf("no element %s", step)
			}
			node = &v[step.index]
		default:
			return nil, fmt.Errorf("cannot descend into %T at %s", v, step)
		}
	}
	return node, nil
}
