package content

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type ContentType string

const (
	ContentTypePaper ContentType = "paper"
	ContentTypeNews  ContentType = "news"
	ContentTypeVideo ContentType = "video"
	ContentTypeBlog  ContentType = "blog"
)

func ParseContentType(s string) (ContentType, bool) {
	switch ContentType(strings.ToLower(strings.TrimSpace(s))) {
	case ContentTypePaper:
		return ContentTypePaper, true
	case ContentTypeNews:
		return ContentTypeNews, true
	case ContentTypeVideo:
		return ContentTypeVideo, true
	case ContentTypeBlog:
		return ContentTypeBlog, true
	}
	return "", false
}

type SourceType string

const (
	SourceTypeArxiv   SourceType = "arxiv_papers"
	SourceTypeNews    SourceType = "news_articles"
	SourceTypeYouTube SourceType = "youtube_videos"
	SourceTypeBlogs   SourceType = "blog_posts"
)

// ContentType maps a source kind to the coarse kind of the items it yields.
func (s SourceType) ContentType() ContentType {
	switch s {
	case SourceTypeArxiv:
		return ContentTypePaper
	case SourceTypeNews:
		return ContentTypeNews
	case SourceTypeYouTube:
		return ContentTypeVideo
	case SourceTypeBlogs:
		return ContentTypeBlog
	}
	return ""
}

// Item is a single unit of collected content. Fields a source does not
// provide stay at their zero value.
type Item struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	URL         string      `json:"url"`
	Source      string      `json:"source"`
	SourceType  SourceType  `json:"source_type"`
	ContentType ContentType `json:"content_type"`
	Description string      `json:"description,omitempty"`
	Summary     string      `json:"summary,omitempty"`
	Authors     string      `json:"authors,omitempty"`
	Channel     string      `json:"channel,omitempty"`
	Published   string      `json:"published,omitempty"`
	Thumbnail   string      `json:"thumbnail,omitempty"`

	// Extracted article body, used for enrichment and kept in the raw payload only.
	FullText string `json:"full_text,omitempty"`

	Duration  string `json:"duration,omitempty"`
	ViewCount int64  `json:"view_count,omitempty"`
	LikeCount int64  `json:"like_count,omitempty"`

	Categories      []string `json:"categories"`
	Keywords        []string `json:"keywords"`
	ImportanceScore int      `json:"importance_score"`

	Bookmarked    bool      `json:"bookmarked"`
	IsRead        bool      `json:"is_read"`
	ProcessedAt   time.Time `json:"processed_at"`
	LastFetchedAt time.Time `json:"last_fetched_at"`
}

// Validate rejects items that cannot enter the pipeline.
func (i Item) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("item id is required")
	}
	if strings.TrimSpace(i.Title) == "" {
		return fmt.Errorf("item %s: title is required", i.ID)
	}
	if _, ok := ParseContentType(string(i.ContentType)); !ok {
		return fmt.Errorf("item %s: unknown content type %q", i.ID, i.ContentType)
	}
	return nil
}

// AnalysisText is the text enrichment works from: the extracted body when
// present, the description otherwise.
func (i Item) AnalysisText() string {
	if strings.TrimSpace(i.FullText) != "" {
		return i.FullText
	}
	return i.Description
}

// RawPayload serializes the item as collected, before user flags and
// enrichment timestamps exist.
func (i Item) RawPayload() (string, error) {
	raw := i
	raw.Bookmarked = false
	raw.IsRead = false
	raw.ProcessedAt = time.Time{}
	raw.LastFetchedAt = time.Time{}

	data, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("failed to marshal raw payload: %w", err)
	}
	return string(data), nil
}

type Watermark struct {
	SourceID            string     `json:"source_id" db:"source_id"`
	LastSuccessfulFetch *time.Time `json:"last_successful_fetch,omitempty" db:"last_successful_fetch"`
	LastItemID          string     `json:"last_item_id" db:"last_item_id"`
}
