package feed

import (
	"github.com/lysyi3m/aifeed/app/content"
)

type Metadata struct {
	Title       string
	Link        string
	Description string
	Language    string
}

// Entry is a normalized RSS/Atom entry, newest-first as the feed lists it.
type Entry struct {
	GUID        string
	Title       string
	Link        string
	Links       []string
	Description string
	Content     string
	Published   content.Published
	Authors     []string
	ImageURL    string
}

// Extraction is the outcome of turning an HTML page into plain text.
type Extraction struct {
	Text   string
	Method string
}

const (
	MethodSelector    = "selector"
	MethodReadability = "readability"
)
