package collector

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/lysyi3m/aifeed/app/content"
	"github.com/lysyi3m/aifeed/app/feed"
)

const descriptionChars = 300

// Collector gathers fresh items from one kind of source.
type Collector interface {
	Name() content.SourceType
	Collect(ctx context.Context) ([]content.Item, error)
}

// WatermarkUpdate is a progress marker to persist once the items collected
// alongside it have been stored.
type WatermarkUpdate struct {
	SourceID   string
	LastItemID string
}

// WatermarkSource is a Collector that tracks incremental progress per feed.
// Updates are returned rather than written so that a feed only advances when
// its items were actually persisted.
type WatermarkSource interface {
	Collector
	CollectIncremental(ctx context.Context) ([]content.Item, []WatermarkUpdate, error)
}

// Fetcher is the subset of the resilient fetcher collectors use.
type Fetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
	FetchWithParams(ctx context.Context, url string, params url.Values, timeout time.Duration) ([]byte, error)
}

// Extractor downloads an article page and returns its body text.
type Extractor interface {
	Fetch(ctx context.Context, url string) (feed.Extraction, error)
}

// WatermarkStore reads per-feed progress.
type WatermarkStore interface {
	GetWatermark(ctx context.Context, sourceID string) (*content.Watermark, error)
}

// idTail returns the last path segment of an id or URL, ignoring a trailing
// slash. The whole value is returned when no segment remains.
func idTail(s string) string {
	s = strings.TrimSpace(s)
	trimmed := strings.TrimRight(s, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 && i < len(trimmed)-1 {
		return trimmed[i+1:]
	}
	if trimmed == "" {
		return s
	}
	return trimmed
}

// perSource splits a result budget across n sources, never below one.
func perSource(total, n int) int {
	if n <= 0 {
		return total
	}
	return max(1, total/n)
}

func fullText(ctx context.Context, extractor Extractor, link string, logger *slog.Logger) string {
	if extractor == nil || link == "" {
		return ""
	}
	result, err := extractor.Fetch(ctx, link)
	if err != nil {
		logger.Warn("Could not extract article text", "url", link, "error", err)
		return ""
	}
	return result.Text
}

// keep drops items that fail validation, logging each one.
func keep(items []content.Item, logger *slog.Logger) []content.Item {
	valid := items[:0]
	for _, item := range items {
		if err := item.Validate(); err != nil {
			logger.Warn("Skipping invalid item", "error", err)
			continue
		}
		valid = append(valid, item)
	}
	return valid
}
