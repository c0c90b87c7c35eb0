package search

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBase = &url.URL{Scheme: "https", Host: "kb.example.com", Path: "/"}

func testDocs() []Doc {
	return []Doc{
		{Location: "person/ada-lovelace/", Title: "Ada Lovelace", Text: "Ada Lovelace wrote the first program for the analytical engine."},
		{Location: "topic/analytical-engine/", Title: "Analytical Engine", Text: "Designed by Babbage. Ada described it."},
		{Location: "org/royal-society/", Title: "Royal Society", Text: "A learned society."},
		{Location: "api/search/", Title: "Ada API", Text: "ada ada ada"},
		{Location: "", Title: "Ada orphan", Text: "ada"},
		{Location: "../secret/", Title: "Ada secret", Text: "ada"},
	}
}

func TestRank_ScoresAndOrder(t *testing.T) {
	got := Rank(testDocs(), Options{Query: "Ada Lovelace", BaseURL: testBase, MaxChars: 320})
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "Ada Lovelace", first.Title)
	assert.Equal(t, "/person/ada-lovelace/", first.Path)
	assert.Equal(t, "https://kb.example.com/person/ada-lovelace/", first.URL)
	assert.Equal(t, MakeResultID("person/ada-lovelace/"), first.ID)
	// phrase title 40 + phrase text 20
	// ada: title 14 + location 6 + text 1*2; lovelace: title 14 + location 6 + text 1*2
	// all terms 12
	assert.Equal(t, 40+20+22+22+12, first.Score)

	// ada: text 1*2 only
	assert.Equal(t, "/topic/analytical-engine/", got[1].Path)
	assert.Equal(t, 2, got[1].Score)
}

func TestRank_TieBreaksOnPath(t *testing.T) {
	entries := []Doc{
		{Location: "b/", Title: "Widget"},
		{Location: "a/", Title: "Widget"},
	}

	got := Rank(entries, Options{Query: "widget", MaxChars: 120})
	require.Len(t, got, 2)
	assert.Equal(t, "/a/", got[0].Path)
	assert.Equal(t, "/b/", got[1].Path)
	assert.Equal(t, "a/", got[0].URL)
}

func TestRank_Prefixes(t *testing.T) {
	got := Rank(testDocs(), Options{Query: "ada", AllowedPrefixes: []string{"/topic"}, MaxChars: 320})
	require.Len(t, got, 1)
	assert.Equal(t, "/topic/analytical-engine/", got[0].Path)

	got = Rank(testDocs(), Options{Query: "ada", RequestedPrefix: "/person", MaxChars: 320})
	require.Len(t, got, 1)
	assert.Equal(t, "/person/ada-lovelace/", got[0].Path)
}

func TestRank_UntitledFallsBackToPath(t *testing.T) {
	got := Rank([]Doc{{Location: "notes/x/", Text: "quantum"}}, Options{Query: "quantum", MaxChars: 120})
	require.Len(t, got, 1)
	assert.Equal(t, "/notes/x/", got[0].Title)
}

func TestRank_NormalizesUnicode(t *testing.T) {
	entries := []Doc{{Location: "x/", Title: "ＡＤＡ Notes"}}

	got := Rank(entries, Options{Query: "ada", MaxChars: 120})
	require.Len(t, got, 1)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"ada", "lovelace"}, tokenize("ada, a lovelace ada"))
	assert.Len(t, tokenize("aa bb cc dd ee ff gg hh ii jj kk ll"), maxTerms)
	assert.Empty(t, tokenize("a b c"))
}

func TestSnippet(t *testing.T) {
	text := strings.Repeat("filler ", 100) + "needle here " + strings.Repeat("tail ", 100)

	got := snippet(text, []string{"needle"}, 120)
	assert.True(t, strings.HasPrefix(got, "..."))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Contains(t, got, "needle")

	assert.Equal(t, "short text", snippet("short \n\t text", nil, 120))
	assert.Equal(t, "", snippet("   ", []string{"x"}, 120))
	assert.Equal(t, "needle at start", snippet("needle at start", []string{"needle"}, 120))
	assert.Equal(t, "abc\n\n[TRUNCATED]", snippet("abcdef", []string{"zz"}, 3))
}
