package domain

import (
	"strings"

	"golang.org/x/text/cases"
)

// MaxTagLength bounds a single normalized tag.
const MaxTagLength = 64

var tagCaser = cases.Fold()

// NormalizeTag trims and case-folds a tag. Empty results are dropped by callers.
func NormalizeTag(raw string) string {
	tag := strings.Join(strings.Fields(raw), " ")
	tag = tagCaser.String(tag)
	if len([]rune(tag)) > MaxTagLength {
		tag = string([]rune(tag)[:MaxTagLength])
	}
	return tag
}

// NormalizeTags normalizes a tag list and removes blanks and duplicates,
// keeping first-seen order.
func NormalizeTags(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		tag := NormalizeTag(r)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// MergeTags is the set union of existing and requested, existing order first.
// Merging the same request twice yields the same set.
func MergeTags(existing, requested []string) []string {
	combined := make([]string, 0, len(existing)+len(requested))
	combined = append(combined, existing...)
	combined = append(combined, requested...)
	return NormalizeTags(combined)
}
