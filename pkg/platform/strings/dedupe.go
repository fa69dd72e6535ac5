// Package strings provides helpers for list-valued settings.
package strings

import (
	"strings"
)

// SplitList splits a comma-separated setting into trimmed, non-empty items.
//
//	SplitList(" a, b,,a ") // []string{"a", "b", "a"}
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Dedupe drops repeated values, keeping the first occurrence of each.
func Dedupe(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
