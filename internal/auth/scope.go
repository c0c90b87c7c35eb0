package auth

import "strings"

// NormalizeScope splits on whitespace, drops duplicates keeping first-seen
// order, and falls back to DefaultScope.
func NormalizeScope(scope string) string {
	parts := strings.Fields(scope)
	if len(parts) == 0 {
		return DefaultScope
	}

	seen := make(map[string]bool, len(parts))
	out := parts[:0]

	for _, p := range parts {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}

	return strings.Join(out, " ")
}
