package collector

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lysyi3m/aifeed/app/cfg"
	"github.com/lysyi3m/aifeed/app/content"
	"github.com/lysyi3m/aifeed/app/feed"
)

type Blogs struct {
	config     cfg.BlogsSource
	fetcher    Fetcher
	extractor  Extractor
	watermarks WatermarkStore
	parser     *feed.Parser
	logger     *slog.Logger
}

func NewBlogs(config cfg.BlogsSource, fetcher Fetcher, extractor Extractor, watermarks WatermarkStore, logger *slog.Logger) *Blogs {
	return &Blogs{
		config:     config,
		fetcher:    fetcher,
		extractor:  extractor,
		watermarks: watermarks,
		parser:     feed.NewParser(),
		logger:     logger.With("source", content.SourceTypeBlogs),
	}
}

func (b *Blogs) Name() content.SourceType {
	return content.SourceTypeBlogs
}

func (b *Blogs) Collect(ctx context.Context) ([]content.Item, error) {
	items, _, err := b.CollectIncremental(ctx)
	return items, err
}

// CollectIncremental walks each feed newest-first down to the last entry seen
// on a previous run. A failing feed is skipped; the call fails only when
// every feed failed.
func (b *Blogs) CollectIncremental(ctx context.Context) ([]content.Item, []WatermarkUpdate, error) {
	perFeed := perSource(b.config.MaxResults, len(b.config.Feeds))

	var items []content.Item
	var updates []WatermarkUpdate
	var errs []error
	for _, source := range b.config.Feeds {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		feedItems, update, err := b.collectFeed(ctx, source, perFeed)
		if err != nil {
			b.logger.Warn("Skipping feed", "feed", source.Name, "url", source.URL, "error", err)
			errs = append(errs, err)
			continue
		}
		items = append(items, feedItems...)
		if update != nil {
			updates = append(updates, *update)
		}
	}

	if len(b.config.Feeds) > 0 && len(errs) == len(b.config.Feeds) {
		return nil, nil, fmt.Errorf("all blog feeds failed: %w", errors.Join(errs...))
	}

	b.logger.Info("Collected blog posts", "count", len(items), "feeds", len(b.config.Feeds), "failed", len(errs))
	return items, updates, nil
}

func (b *Blogs) collectFeed(ctx context.Context, source cfg.BlogFeed, limit int) ([]content.Item, *WatermarkUpdate, error) {
	lastSeen := ""
	if b.watermarks != nil {
		w, err := b.watermarks.GetWatermark(ctx, source.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load watermark: %w", err)
		}
		if w != nil {
			lastSeen = w.LastItemID
		}
	}

	data, err := b.fetcher.Fetch(ctx, source.URL, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch feed: %w", err)
	}

	_, entries, err := b.parser.Run(data)
	if err != nil {
		return nil, nil, err
	}

	var fresh []feed.Entry
	for _, entry := range entries {
		if lastSeen != "" && entry.GUID == lastSeen {
			break
		}
		fresh = append(fresh, entry)
	}
	if len(fresh) == 0 {
		return nil, nil, nil
	}

	update := &WatermarkUpdate{SourceID: source.URL, LastItemID: fresh[0].GUID}

	if len(fresh) > limit {
		fresh = fresh[:limit]
	}

	items := make([]content.Item, 0, len(fresh))
	for _, entry := range fresh {
		item := content.Item{
			ID:          idTail(entry.GUID),
			Title:       entry.Title,
			URL:         entry.Link,
			Source:      source.Name,
			SourceType:  content.SourceTypeBlogs,
			ContentType: content.ContentTypeBlog,
			Description: content.Truncate(feed.HTMLToText(entry.Summary()), descriptionChars),
			Authors:     strings.Join(entry.Authors, ", "),
			Published:   entry.Published.String(),
			Thumbnail:   cmp.Or(entry.ImageURL, feed.FirstImage(entry.Content)),
			FullText:    fullText(ctx, b.extractor, entry.Link, b.logger),
		}
		if err := item.Validate(); err != nil {
			b.logger.Warn("Skipping invalid entry", "feed", source.Name, "error", err)
			continue
		}
		items = append(items, item)
	}

	return items, update, nil
}
