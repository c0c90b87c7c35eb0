package docs

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// internalBase resolves bare paths the way a browser would against an
// arbitrary origin, so only the pathname is kept.
var internalBase = &url.URL{Scheme: "https", Host: "internal.example"}

var (
	extensionPattern = regexp.MustCompile(`\.[a-zA-Z0-9]{1,12}$`)
	absoluteLocation = regexp.MustCompile(`(?i)^https?://`)
)

// IsSafePath reports whether p is a rooted, same-origin path with no
// control characters and no ".." once percent-decoded.
func IsSafePath(p string) bool {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
		return false
	}
	if strings.Contains(p, "://") || strings.ContainsAny(p, "\\\r\n\x00") {
		return false
	}

	decoded, err := url.PathUnescape(stripQuery(p))
	if err != nil {
		return false
	}

	return !strings.Contains(decoded, "..")
}

// ExtractPathname returns the path component of p without query or fragment.
func ExtractPathname(p string) string {
	ref, err := url.Parse(p)
	if err != nil {
		return stripQuery(p)
	}

	pathname := internalBase.ResolveReference(ref).EscapedPath()
	if pathname == "" {
		return "/"
	}
	return pathname
}

// IsAPIPath reports whether pathname targets the /api/ tree, which is never
// proxied.
func IsAPIPath(pathname string) bool {
	return strings.HasPrefix(pathname, "/api/")
}

// ParsePrefixes splits a comma list into rooted prefixes without trailing
// slashes. Empty input means no restriction.
func ParsePrefixes(raw string) []string {
	var prefixes []string

	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if !strings.HasPrefix(part, "/") {
			part = "/" + part
		}

		for strings.Contains(part, "//") {
			part = strings.ReplaceAll(part, "//", "/")
		}

		if part != "/" {
			part = strings.TrimSuffix(part, "/")
		}

		prefixes = append(prefixes, part)
	}

	return prefixes
}

// IsPathAllowed matches pathname against prefixes on segment boundaries.
func IsPathAllowed(pathname string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}

	for _, prefix := range prefixes {
		if prefix == "/" || pathname == prefix || strings.HasPrefix(pathname, prefix+"/") {
			return true
		}
	}

	return false
}

// LocationToPath turns a search index location (relative, rooted or
// absolute, possibly with a fragment) into a rooted path. It returns ""
// for an absolute location that cannot be parsed.
func LocationToPath(location string) string {
	location, _, _ = strings.Cut(location, "#")
	if location == "" {
		return "/"
	}

	if absoluteLocation.MatchString(location) {
		u, err := url.Parse(location)
		if err != nil {
			return ""
		}
		if p := u.EscapedPath(); p != "" {
			return p
		}
		return "/"
	}

	if strings.HasPrefix(location, "/") {
		return location
	}
	return "/" + location
}

// Candidates lists the paths tried for p, in order. Extension-less paths
// also try the directory form and its index.html.
func Candidates(p string) []string {
	pathname := ExtractPathname(p)
	candidates := []string{pathname}

	last := pathname[strings.LastIndex(pathname, "/")+1:]
	if extensionPattern.MatchString(last) {
		return candidates
	}

	switch {
	case pathname == "/":
		candidates = append(candidates, "/index.html")
	case strings.HasSuffix(pathname, "/"):
		candidates = append(candidates, pathname+"index.html")
	default:
		candidates = append(candidates, pathname+"/", pathname+"/index.html")
	}

	return candidates
}

// ClampInt bounds v to [lo, hi]. Zero means unset and yields fallback.
func ClampInt(v, lo, hi, fallback int) int {
	if v == 0 {
		return fallback
	}
	return min(max(v, lo), hi)
}

// Truncate cuts s to maxChars characters and marks the cut.
func Truncate(s string, maxChars int) string {
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	return string([]rune(s)[:maxChars]) + "\n\n[TRUNCATED]"
}

func stripQuery(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		return p[:i]
	}
	return p
}
