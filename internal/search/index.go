// Package search ranks entries of a static-site search index (the mkdocs
// search_index.json shape) against a free-text query.
package search

import (
	"net/url"
	"strings"

	kberrors "github.com/alexjbarnes/kbgate/internal/errors"
	"github.com/tidwall/gjson"
)

const idPrefix = "loc:"

// Doc is one indexed page or section.
type Doc struct {
	Location string
	Title    string
	Text     string
}

// ParseDocs accepts either a bare JSON array of docs or an object with a
// "docs" array. Fields that are not strings are treated as empty.
func ParseDocs(raw []byte) ([]Doc, error) {
	if !gjson.ValidBytes(raw) {
		return nil, kberrors.ErrInvalidIndex
	}

	root := gjson.ParseBytes(raw)

	var entries gjson.Result
	switch {
	case root.IsArray():
		entries = root
	case root.IsObject() && root.Get("docs").IsArray():
		entries = root.Get("docs")
	default:
		return nil, kberrors.ErrInvalidIndex
	}

	var docs []Doc
	entries.ForEach(func(_, entry gjson.Result) bool {
		docs = append(docs, Doc{
			Location: stringField(entry, "location"),
			Title:    stringField(entry, "title"),
			Text:     stringField(entry, "text"),
		})
		return true
	})

	return docs, nil
}

func stringField(entry gjson.Result, key string) string {
	if !entry.IsObject() {
		return ""
	}
	if v := entry.Get(key); v.Type == gjson.String {
		return v.Str
	}
	return ""
}

// MakeResultID encodes a location as an opaque result id.
func MakeResultID(location string) string {
	return idPrefix + url.PathEscape(location)
}

// ParseResultID reverses MakeResultID. It reports false for ids without
// the prefix, with bad escapes, or with a blank location.
func ParseResultID(id string) (string, bool) {
	rest, ok := strings.CutPrefix(id, idPrefix)
	if !ok {
		return "", false
	}

	location, err := url.PathUnescape(rest)
	if err != nil || strings.TrimSpace(location) == "" {
		return "", false
	}

	return location, true
}
