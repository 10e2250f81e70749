package providers

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func httpResponse(contentType, body string) []byte {
	return []byte(fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n%s", contentType, len(body), body))
}

func TestPrivateRangesPatternAndHeader(t *testing.T) {
	msg := []byte("GET /balance HTTP/1.1\r\nHost: bank.example\r\nAuthorization:  Bearer secret123 \r\nCookie: sid=abc\r\n\r\n")

	tests := []struct {
		name  string
		rules []RedactionRule
		want  []string
	}{
		{
			name:  "literal pattern",
			rules: []RedactionRule{Pattern("secret123")},
			want:  []string{"secret123"},
		},
		{
			name:  "header value is trimmed",
			rules: []RedactionRule{Header("authorization")},
			want:  []string{"Bearer secret123"},
		},
		{
			name:  "header name is case insensitive",
			rules: []RedactionRule{Header("COOKIE")},
			want:  []string{"sid=abc"},
		},
		{
			name:  "regex whole match",
			rules: []RedactionRule{Regex(`sid=[a-z]+`)},
			want:  []string{"sid=abc"},
		},
		{
			name:  "regex named group",
			rules: []RedactionRule{Regex(`Bearer (?<token>[a-z0-9]+)`)},
			want:  []string{"secret123"},
		},
		{
			name:  "rules keep order",
			rules: []RedactionRule{Header("cookie"), Pattern("secret")},
			want:  []string{"sid=abc", "secret"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranges, err := PrivateRanges(msg, tt.rules)
			if err != nil {
				t.Fatalf("Failed to compute private ranges: %v", err)
			}
			if len(ranges) != len(tt.want) {
				t.Fatalf("Expected %d ranges, got %v", len(tt.want), ranges)
			}
			for i, r := range ranges {
				if got := string(msg[r.Start:r.End]); got != tt.want[i] {
					t.Errorf("Range %d covers %q, want %q", i, got, tt.want[i])
				}
			}
		})
	}
}

func TestPrivateRangesJSONPath(t *testing.T) {
	body := `{"account":{"owner":"alice","balance":4217},"currency":"EUR"}`
	msg := httpResponse("application/json", body)

	ranges, err := PrivateRanges(msg, []RedactionRule{JSONPath("$.account.balance"), JSONPath("$.account.owner")})
	if err != nil {
		t.Fatalf("Failed to compute private ranges: %v", err)
	}
	if len(ranges) != 2 {
		t.Fatalf("Expected 2 ranges, got %v", ranges)
	}

	bodyStart := len(msg) - len(body)
	for i, want := range []string{"4217", "alice"} {
		r := ranges[i]
		if r.Start < bodyStart || !r.Within(len(msg)) {
			t.Fatalf("Range %v is not inside the body starting at %d", r, bodyStart)
		}
		if got := string(msg[r.Start:r.End]); !strings.Contains(got, want) {
			t.Errorf("Range %v covers %q, expected it to contain %q", r, got, want)
		}
	}
}

func TestPrivateRangesXPath(t *testing.T) {
	body := `<html><body><div id="name">Alice</div><div id="iban">DE89370400440532013000</div></body></html>`
	msg := httpResponse("text/html", body)

	ranges, err := PrivateRanges(msg, []RedactionRule{XPath(`//div[@id='iban']`, true)})
	if err != nil {
		t.Fatalf("Failed to compute private ranges: %v", err)
	}
	if len(ranges) != 1 {
		t.Fatalf("Expected 1 range, got %v", ranges)
	}
	got := string(msg[ranges[0].Start:ranges[0].End])
	if !strings.Contains(got, "DE89370400440532013000") {
		t.Errorf("Range covers %q, expected the IBAN", got)
	}
	if strings.Contains(got, "Alice") {
		t.Errorf("Range %q leaks into a sibling element", got)
	}
}

func TestPrivateRangesNotMatched(t *testing.T) {
	msg := httpResponse("application/json", `{"balance":1}`)

	tests := []struct {
		name string
		rule RedactionRule
	}{
		{"pattern", Pattern("secret")},
		{"regex", Regex(`token=\w+`)},
		{"header", Header("authorization")},
		{"jsonpath", JSONPath("$.missing")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := PrivateRanges(msg, []RedactionRule{tt.rule}); !errors.Is(err, ErrRuleNotMatched) {
				t.Errorf("Expected ErrRuleNotMatched, got %v", err)
			}

			optional := tt.rule
			optional.Optional = true
			ranges, err := PrivateRanges(msg, []RedactionRule{optional})
			if err != nil {
				t.Errorf("Optional rule should not fail: %v", err)
			}
			if len(ranges) != 0 {
				t.Errorf("Expected no ranges, got %v", ranges)
			}
		})
	}
}

func TestPrivateRangesInvalidRule(t *testing.T) {
	msg := []byte("hello")

	if _, err := PrivateRanges(msg, []RedactionRule{Regex("(")}); err == nil || errors.Is(err, ErrRuleNotMatched) {
		t.Errorf("Expected regexp compile error, got %v", err)
	}
	if _, err := PrivateRanges(msg, []RedactionRule{{Kind: "css", Value: "div"}}); err == nil {
		t.Error("Expected error for unknown rule kind")
	}
	ranges, err := PrivateRanges(msg, []RedactionRule{Pattern("")})
	if err != nil || len(ranges) != 0 {
		t.Errorf("Empty rule should match nothing, got %v, %v", ranges, err)
	}
}

func TestParseRule(t *testing.T) {
	tests := []struct {
		in   string
		want RedactionRule
	}{
		{"secret123", Pattern("secret123")},
		{"regex:tok=\\w+", Regex("tok=\\w+")},
		{"JSONPath:$.a.b", JSONPath("$.a.b")},
		{"header:Authorization", Header("Authorization")},
		{"xpath://div", XPath("//div", false)},
		{"xpath-contents://div", XPath("//div", true)},
		{"user:pass", Pattern("user:pass")},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseRule(tt.in); got != tt.want {
				t.Errorf("ParseRule(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}

	if rules := ParseRules([]string{"a", " ", "header:x"}); len(rules) != 2 {
		t.Errorf("Expected blanks to be skipped, got %v", rules)
	}
}

func TestParseResultPath(t *testing.T) {
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{"$", "", false},
		{"$.account.owner", ".account.owner", false},
		{"$.items[2].id", ".items[2].id", false},
		{"$['first name'][0]", ".first name[0]", false},
		{"$[\"a\"].b", ".a.b", false},
		{"$.items[2", "", true},
		{"$..x", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			steps, err := parseResultPath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseResultPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			var b strings.Builder
			for _, s := range steps {
				b.WriteString(s.String())
			}
			if !tt.wantErr && b.String() != tt.want {
				t.Errorf("parseResultPath(%q) = %q, want %q", tt.path, b.String(), tt.want)
			}
		})
	}
}
