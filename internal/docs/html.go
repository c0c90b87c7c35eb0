package docs

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Closing any of these starts a new line in the text rendering.
var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "tr": true, "table": true, "br": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

var (
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// HTMLToText strips markup from an HTML page, dropping script and style
// bodies and breaking lines at block boundaries. Entities are decoded.
func HTMLToText(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))

	var b strings.Builder
	skip := 0

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}

		switch tt {
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if tt == html.StartTagToken {
					skip++
				}
			case "br":
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch tag := string(name); {
			case tag == "script" || tag == "style":
				if skip > 0 {
					skip--
				}
			case blockElements[tag]:
				b.WriteByte('\n')
			}
		}
	}

	text := strings.ReplaceAll(b.String(), "\u00a0", " ")
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// ExtractTitle returns the decoded text of the first <title>, or "".
func ExtractTitle(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))

	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			if string(name) != "title" {
				continue
			}
			if z.Next() == html.TextToken {
				return strings.TrimSpace(string(z.Text()))
			}
			return ""
		}
	}
}
