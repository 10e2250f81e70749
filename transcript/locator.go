package transcript

import (
	"bytes"
	"sort"
)

// Locate finds every occurrence of every private pattern in data and returns
// the public ranges (everything not matched) together with the raw private
// matches.
//
// Private matches are returned as found: overlapping and duplicate windows are
// all kept. The public side is computed from the merged private set, so the
// byte positions of public and private ranges never intersect and together
// cover [0, len(data)).
func Locate(data []byte, patterns [][]byte) (public, private []Range) {
	for _, p := range patterns {
		if len(p) == 0 || len(p) > len(data) {
			continue
		}
		for i := 0; i+len(p) <= len(data); i++ {
			if bytes.Equal(data[i:i+len(p)], p) {
				private = append(private, Range{Start: i, End: i + len(p)})
			}
		}
	}

	public = Complement(private, len(data))
	return public, private
}

// MergeRanges sorts ranges by start offset and coalesces ranges that overlap
// or touch. Empty ranges are dropped. The input slice is not modified.
func MergeRanges(ranges []Range) []Range {
	if len(ranges) == 0 {
		return nil
	}

	sorted := make([]Range, 0, len(ranges))
	for _, r := range ranges {
		if !r.Empty() {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	var merged []Range
	for _, r := range sorted {
		if n := len(merged); n > 0 && r.Start <= merged[n-1].End {
			if r.End > merged[n-1].End {
				merged[n-1].End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// Complement returns the gaps of [0, n) not covered by ranges.
// Ranges reaching past n are clipped.
func Complement(ranges []Range, n int) []Range {
	var out []Range
	last := 0
	for _, r := range MergeRanges(ranges) {
		if r.Start >= n {
			break
		}
		if r.Start > last {
			out = append(out, Range{Start: last, End: r.Start})
		}
		if r.End > last {
			last = r.End
		}
	}
	if last < n {
		out = append(out, Range{Start: last, End: n})
	}
	return out
}

// Covered returns the total number of distinct byte positions covered by ranges.
func Covered(ranges []Range) int {
	total := 0
	for _, r := range MergeRanges(ranges) {
		total += r.Len()
	}
	return total
}
