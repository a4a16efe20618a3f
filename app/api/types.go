package api

import (
	"context"
	"time"

	"github.com/lysyi3m/aifeed/app/content"
	"github.com/lysyi3m/aifeed/app/database"
	"github.com/lysyi3m/aifeed/app/feed"
	"github.com/lysyi3m/aifeed/app/pipeline"
)

type GeneratorInterface interface {
	Run(channel feed.Channel, items []content.Item) (string, error)
}

var _ GeneratorInterface = (*feed.Generator)(nil)

// ItemService is the application surface the handlers serve.
type ItemService interface {
	Refresh(ctx context.Context) (pipeline.RefreshResult, error)
	Refreshing() bool
	GetByType(ctx context.Context, contentType content.ContentType, page, limit int, filters database.Filters) (pipeline.Page, error)
	Search(ctx context.Context, query string, page, limit int, filters database.Filters) (pipeline.Page, error)
	GetBookmarked(ctx context.Context, page, limit int) (pipeline.Page, error)
	GetItem(ctx context.Context, id string) (*content.Item, error)
	SetFlags(ctx context.Context, id string, flags database.Flags) (bool, error)
	LatestSummary(ctx context.Context) (*time.Time, error)
	Stats(ctx context.Context) (*database.Stats, error)
}

var _ ItemService = (*pipeline.Service)(nil)

type Handler struct {
	service   ItemService
	generator GeneratorInterface
	baseURL   string
	version   string
}
