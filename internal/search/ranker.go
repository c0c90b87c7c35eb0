package search

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/alexjbarnes/kbgate/internal/docs"
	"golang.org/x/text/unicode/norm"
)

// Scoring weights.
const (
	phraseInTitle = 40
	phraseInText  = 20
	termInTitle   = 14
	termInPath    = 6
	termInText    = 2
	maxTextHits   = 5
	allTermsBonus = 12
	maxTerms      = 10
)

var (
	termSplit  = regexp.MustCompile(`[^a-z0-9]+`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Options controls a ranking pass.
type Options struct {
	Query           string
	BaseURL         *url.URL
	AllowedPrefixes []string
	RequestedPrefix string
	MaxChars        int
}

// Result is a scored document.
type Result struct {
	ID       string
	Title    string
	Location string
	Path     string
	URL      string
	Snippet  string
	Score    int
}

// Rank scores every visible doc against the query and returns matches
// best first, ties broken by path. Docs outside the allowed prefixes, under
// /api/, or with unsafe locations are never returned.
func Rank(entries []Doc, opts Options) []Result {
	phrase := fold(opts.Query)
	terms := tokenize(phrase)

	var ranked []Result

	for _, doc := range entries {
		location := strings.TrimSpace(doc.Location)
		if location == "" {
			continue
		}

		path := docs.LocationToPath(location)
		if path == "" || !docs.IsSafePath(path) || docs.IsAPIPath(docs.ExtractPathname(path)) {
			continue
		}
		if !docs.IsPathAllowed(path, opts.AllowedPrefixes) {
			continue
		}
		if opts.RequestedPrefix != "" && !docs.IsPathAllowed(path, []string{opts.RequestedPrefix}) {
			continue
		}

		title := strings.TrimSpace(doc.Title)
		score := scoreDoc(fold(title), fold(doc.Text), fold(location), terms, phrase)
		if score <= 0 {
			continue
		}

		ref, err := url.Parse(location)
		if err != nil {
			continue
		}

		resultURL := ref.String()
		if opts.BaseURL != nil {
			resultURL = opts.BaseURL.ResolveReference(ref).String()
		}

		if title == "" {
			title = path
		}

		ranked = append(ranked, Result{
			ID:       MakeResultID(location),
			Title:    title,
			Location: location,
			Path:     path,
			URL:      resultURL,
			Snippet:  snippet(doc.Text, terms, opts.MaxChars),
			Score:    score,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Path < ranked[j].Path
	})

	return ranked
}

// fold applies NFKC and lowercases rune by rune, so rune offsets in the
// result line up with norm.NFKC.String of the input.
func fold(s string) string {
	return strings.Map(unicode.ToLower, norm.NFKC.String(s))
}

func tokenize(folded string) []string {
	var terms []string
	seen := make(map[string]bool)

	for _, part := range termSplit.Split(folded, -1) {
		if len(part) <= 1 || seen[part] {
			continue
		}
		seen[part] = true
		terms = append(terms, part)
		if len(terms) == maxTerms {
			break
		}
	}

	return terms
}

func scoreDoc(title, text, location string, terms []string, phrase string) int {
	score := 0
	if phrase != "" && strings.Contains(title, phrase) {
		score += phraseInTitle
	}
	if phrase != "" && strings.Contains(text, phrase) {
		score += phraseInText
	}

	matched := 0
	for _, term := range terms {
		hit := false
		if strings.Contains(title, term) {
			score += termInTitle
			hit = true
		}
		if strings.Contains(location, term) {
			score += termInPath
			hit = true
		}
		if n := strings.Count(text, term); n > 0 {
			score += min(n, maxTextHits) * termInText
			hit = true
		}
		if hit {
			matched++
		}
	}

	if len(terms) > 1 && matched == len(terms) {
		score += allTermsBonus
	}

	return score
}

// snippet returns up to maxChars characters of text around the earliest
// term hit, with "..." marking cut ends.
func snippet(text string, terms []string, maxChars int) string {
	clean := strings.TrimSpace(whitespace.ReplaceAllString(norm.NFKC.String(text), " "))
	if clean == "" {
		return ""
	}

	lower := strings.Map(unicode.ToLower, clean)
	best := -1
	for _, term := range terms {
		if i := strings.Index(lower, term); i >= 0 && (best == -1 || i < best) {
			best = i
		}
	}

	if best == -1 {
		return docs.Truncate(clean, maxChars)
	}

	runes := []rune(clean)
	hit := utf8.RuneCountInString(lower[:best])

	start := max(0, hit-maxChars*35/100)
	end := min(len(runes), start+maxChars)

	out := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		out = "..." + out
	}
	if end < len(runes) {
		out += "..."
	}

	return out
}
