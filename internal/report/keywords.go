package report

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeKeywords trims and NFC-normalizes keywords, collapses inner
// whitespace, and drops blanks and case-insensitive duplicates. The first
// spelling of a keyword wins and order is kept.
func NormalizeKeywords(in []string) []string {
	fold := cases.Fold()
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.Join(strings.Fields(norm.NFC.String(k)), " ")
		if k == "" {
			continue
		}
		key := fold.String(k)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, k)
	}
	return out
}

// normalizeKeyword is the single-keyword form used for result filters.
func normalizeKeyword(k string) string {
	return strings.Join(strings.Fields(norm.NFC.String(k)), " ")
}
