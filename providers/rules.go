package providers

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"tlsn-notary/transcript"
)

// ErrRuleNotMatched is returned when a required rule finds nothing in a message.
var ErrRuleNotMatched = errors.New("redaction rule did not match")

// RuleKind selects how a RedactionRule finds private bytes.
type RuleKind string

const (
	KindPattern  RuleKind = "pattern"
	KindRegex    RuleKind = "regex"
	KindJSONPath RuleKind = "jsonpath"
	KindXPath    RuleKind = "xpath"
	KindHeader   RuleKind = "header"
)

// RedactionRule marks part of an HTTP message as private.
//
// Pattern and Regex rules search the whole message. JSONPath and XPath rules
// search the body only. Header rules select the value of the named header.
type RedactionRule struct {
	Kind  RuleKind `json:"type"`
	Value string   `json:"value"`
	// ContentsOnly limits an XPath match to the element's inner content.
	ContentsOnly bool `json:"contentsOnly,omitempty"`
	// Optional rules may match nothing.
	Optional bool `json:"optional,omitempty"`
}

func Pattern(s string) RedactionRule     { return RedactionRule{Kind: KindPattern, Value: s} }
func Regex(expr string) RedactionRule    { return RedactionRule{Kind: KindRegex, Value: expr} }
func JSONPath(expr string) RedactionRule { return RedactionRule{Kind: KindJSONPath, Value: expr} }
func Header(name string) RedactionRule   { return RedactionRule{Kind: KindHeader, Value: name} }

// XPath selects matched elements; with contentsOnly only their inner content.
func XPath(expr string, contentsOnly bool) RedactionRule {
	return RedactionRule{Kind: KindXPath, Value: expr, ContentsOnly: contentsOnly}
}

func (r RedactionRule) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.Value)
}

// ParseRule reads a rule written as "kind:value". Text without a known kind
// prefix is a literal pattern.
func ParseRule(s string) RedactionRule {
	if kind, value, ok := strings.Cut(s, ":"); ok {
		switch k := RuleKind(strings.ToLower(kind)); k {
		case KindPattern, KindRegex, KindJSONPath, KindHeader:
			return RedactionRule{Kind: k, Value: value}
		case KindXPath:
			return XPath(value, false)
		case "xpath-contents":
			return XPath(value, true)
		}
	}
	return Pattern(s)
}

// ParseRules parses every entry with ParseRule, skipping blanks.
func ParseRules(entries []string) []RedactionRule {
	rules := make([]RedactionRule, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e) == "" {
			continue
		}
		rules = append(rules, ParseRule(e))
	}
	return rules
}

// PrivateRanges applies rules to an HTTP message and returns every private
// range found, in rule order. Ranges are not merged.
func PrivateRanges(msg []byte, rules []RedactionRule) ([]transcript.Range, error) {
	var (
		parsed *httpMessage
		out    []transcript.Range
	)
	for _, rule := range rules {
		if rule.Value == "" {
			continue
		}

		var (
			found []transcript.Range
			err   error
		)
		switch rule.Kind {
		case KindPattern, "":
			_, found = transcript.Locate(msg, [][]byte{[]byte(rule.Value)})
		case KindRegex:
			found, err = regexRanges(msg, rule.Value)
		case KindJSONPath, KindXPath, KindHeader:
			if parsed == nil {
				parsed = parseHTTPMessage(msg)
			}
			found, err = parsed.apply(rule)
		default:
			err = fmt.Errorf("unknown rule kind %q", rule.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule, err)
		}
		if len(found) == 0 && !rule.Optional {
			return nil, fmt.Errorf("%w: %s", ErrRuleNotMatched, rule)
		}
		out = append(out, found...)
	}
	return out, nil
}

// makeRegex enables dotAll and converts JS-style named groups (?<name>...)
// to RE2 (?P<name>...).
func makeRegex(str string) (*regexp.Regexp, error) {
	return regexp.Compile("(?s)" + jsNamedGroupPattern.ReplaceAllString(str, `(?P<$1>`))
}

var jsNamedGroupPattern = regexp.MustCompile(`\(\?<([A-Za-z][A-Za-z0-9_]*)>`)

// regexRanges returns one range per match: the first named group when the
// expression has one, otherwise the whole match.
func regexRanges(msg []byte, expr string) ([]transcript.Range, error) {
	re, err := makeRegex(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid regexp %q: %w", expr, err)
	}

	group := 0
	for i, name := range re.SubexpNames() {
		if i > 0 && name != "" {
			group = i
			break
		}
	}

	var out []transcript.Range
	for _, m := range re.FindAllSubmatchIndex(msg, -1) {
		start, end := m[2*group], m[2*group+1]
		if start < 0 || end <= start {
			continue
		}
		out = append(out, transcript.Range{Start: start, End: end})
	}
	return out, nil
}
