package feed

import (
	"bytes"
	"cmp"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/lysyi3m/aifeed/app/content"
)

type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

func (p *Parser) Run(data []byte) (*Metadata, []Entry, error) {
	feed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	metadata := &Metadata{
		Title:       feed.Title,
		Link:        feed.Link,
		Description: feed.Description,
		Language:    feed.Language,
	}

	entries := make([]Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, p.normalizeItem(item))
	}

	return metadata, entries, nil
}

func (p *Parser) normalizeItem(item *gofeed.Item) Entry {
	entry := Entry{
		GUID:        strings.TrimSpace(cmp.Or(item.GUID, item.Link)),
		Title:       strings.TrimSpace(item.Title),
		Link:        item.Link,
		Links:       item.Links,
		Description: item.Description,
		Content:     item.Content,
		Authors:     p.extractAuthors(item),
	}

	switch {
	case item.PublishedParsed != nil:
		entry.Published = content.PublishedFromTime(item.PublishedParsed)
	case item.UpdatedParsed != nil:
		entry.Published = content.PublishedFromTime(item.UpdatedParsed)
	default:
		entry.Published, _ = content.ParsePublished(cmp.Or(item.Published, item.Updated))
	}

	if item.Image != nil {
		entry.ImageURL = item.Image.URL
	}
	if entry.ImageURL == "" {
		for _, enclosure := range item.Enclosures {
			if enclosure != nil && strings.HasPrefix(enclosure.Type, "image/") {
				entry.ImageURL = enclosure.URL
				break
			}
		}
	}

	return entry
}

func (p *Parser) extractAuthors(item *gofeed.Item) []string {
	var authors []string

	if len(item.Authors) > 0 {
		for _, author := range item.Authors {
			if author != nil {
				if name := p.formatAuthor(author.Name, author.Email); name != "" {
					authors = append(authors, name)
				}
			}
		}
	} else if item.Author != nil {
		if name := p.formatAuthor(item.Author.Name, item.Author.Email); name != "" {
			authors = append(authors, name)
		}
	}

	return authors
}

func (p *Parser) formatAuthor(name, email string) string {
	return cmp.Or(strings.TrimSpace(name), strings.TrimSpace(email))
}

// Summary picks the short text of an entry: summary/description first,
// rich content otherwise.
func (e Entry) Summary() string {
	return cmp.Or(strings.TrimSpace(e.Description), strings.TrimSpace(e.Content))
}

// LinkContaining returns the first entry link whose URL contains fragment.
func (e Entry) LinkContaining(fragment string) string {
	for _, l := range e.Links {
		if strings.Contains(l, fragment) {
			return l
		}
	}
	return ""
}
