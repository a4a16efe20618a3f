package database

import (
	"context"
	"time"

	"github.com/lysyi3m/aifeed/app/content"
)

type ItemRepository interface {
	UpsertItem(ctx context.Context, item content.Item) error
	UpsertItems(ctx context.Context, items []content.Item) (UpsertSummary, error)
	GetItem(ctx context.Context, id string) (*content.Item, error)
	GetByType(ctx context.Context, contentType content.ContentType, limit, offset int, filters Filters) ([]content.Item, error)
	Search(ctx context.Context, query string, limit, offset int, filters Filters) ([]content.Item, error)
	GetBookmarked(ctx context.Context, limit, offset int) ([]content.Item, error)
	SetFlags(ctx context.Context, id string, flags Flags) (bool, error)
	GetLatestSummary(ctx context.Context) (*time.Time, error)
	GetStats(ctx context.Context) (*Stats, error)
}

type SourceRepository interface {
	GetWatermark(ctx context.Context, sourceID string) (*content.Watermark, error)
	PutWatermark(ctx context.Context, sourceID string, fetchedAt time.Time, lastItemID string) error
	ListWatermarks(ctx context.Context) ([]content.Watermark, error)
}

var (
	_ ItemRepository   = (*itemRepository)(nil)
	_ SourceRepository = (*sourceRepository)(nil)
)
