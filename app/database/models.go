package database

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/lysyi3m/aifeed/app/content"
)

// timestampLayout is fixed-width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

var itemColumns = []string{
	"id", "title", "url", "source", "source_type", "content_type",
	"description", "summary", "authors", "published", "thumbnail",
	"categories", "keywords", "importance_score", "channel", "raw_data",
	"processed_at", "bookmarked", "is_read", "last_fetched_at",
}

// itemRow mirrors the items table.
type itemRow struct {
	ID              string         `db:"id"`
	Title           string         `db:"title"`
	URL             sql.NullString `db:"url"`
	Source          sql.NullString `db:"source"`
	SourceType      sql.NullString `db:"source_type"`
	ContentType     string         `db:"content_type"`
	Description     sql.NullString `db:"description"`
	Summary         sql.NullString `db:"summary"`
	Authors         sql.NullString `db:"authors"`
	Published       sql.NullString `db:"published"`
	Thumbnail       sql.NullString `db:"thumbnail"`
	Categories      sql.NullString `db:"categories"`
	Keywords        sql.NullString `db:"keywords"`
	ImportanceScore int            `db:"importance_score"`
	Channel         sql.NullString `db:"channel"`
	RawData         sql.NullString `db:"raw_data"`
	ProcessedAt     sql.NullString `db:"processed_at"`
	Bookmarked      bool           `db:"bookmarked"`
	IsRead          bool           `db:"is_read"`
	LastFetchedAt   sql.NullString `db:"last_fetched_at"`
}

// videoExtras are restored from the raw payload.
type videoExtras struct {
	Duration  string `json:"duration"`
	ViewCount int64  `json:"view_count"`
	LikeCount int64  `json:"like_count"`
}

func (r itemRow) toItem() content.Item {
	item := content.Item{
		ID:              r.ID,
		Title:           r.Title,
		URL:             r.URL.String,
		Source:          r.Source.String,
		SourceType:      content.SourceType(r.SourceType.String),
		ContentType:     content.ContentType(r.ContentType),
		Description:     r.Description.String,
		Summary:         r.Summary.String,
		Authors:         r.Authors.String,
		Published:       r.Published.String,
		Thumbnail:       r.Thumbnail.String,
		Categories:      decodeList(r.Categories),
		Keywords:        decodeList(r.Keywords),
		ImportanceScore: r.ImportanceScore,
		Channel:         r.Channel.String,
		Bookmarked:      r.Bookmarked,
		IsRead:          r.IsRead,
		ProcessedAt:     parseTimestamp(r.ProcessedAt),
		LastFetchedAt:   parseTimestamp(r.LastFetchedAt),
	}

	if item.ContentType == content.ContentTypeVideo && r.RawData.Valid {
		var extras videoExtras
		if err := json.Unmarshal([]byte(r.RawData.String), &extras); err == nil {
			item.Duration = extras.Duration
			item.ViewCount = extras.ViewCount
			item.LikeCount = extras.LikeCount
		}
	}

	return item
}

func decodeList(s sql.NullString) []string {
	list := []string{}
	if s.Valid && s.String != "" {
		_ = json.Unmarshal([]byte(s.String), &list)
	}
	return list
}

func encodeList(list []string) string {
	if list == nil {
		list = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(list); err != nil {
		return "[]"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTimestamp(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timestampLayout), Valid: true}
}

func parseTimestamp(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(timestampLayout, s.String)
	if err != nil {
		if t, err = time.Parse(time.RFC3339Nano, s.String); err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}
