package providers

import (
	"fmt"

	"tlsn-notary/transcript"

	xp "github.com/reclaimprotocol/xpath-go"
)

// extractHTMLElementsIndexes evaluates an XPath against html and returns the
// byte range of each matched element. When contentsOnly is true, the range
// covers only the element's inner content.
func extractHTMLElementsIndexes(html string, xpathExpression string, contentsOnly bool) ([]transcript.Range, error) {
	matches, err := xp.QueryWithOptions(xpathExpression, html, xp.Options{
		IncludeLocation: true,
		OutputFormat:    "nodes",
		ContentsOnly:    contentsOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate XPath %q: %v", xpathExpression, err)
	}
	if len(matches) == 0 {
		return nil, errNoMatch
	}

	out := make([]transcript.Range, 0, len(matches))
	for _, m := range matches {
		if m.StartLocation < 0 || m.EndLocation > len(html) || m.StartLocation > m.EndLocation {
			return nil, fmt.Errorf("invalid range computed for XPath %q: [%d,%d)", xpathExpression, m.StartLocation, m.EndLocation)
		}
		out = append(out, transcript.Range{Start: m.StartLocation, End: m.EndLocation})
	}
	return out, nil
}
