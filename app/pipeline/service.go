package pipeline

import (
	"context"
	"time"

	"github.com/lysyi3m/aifeed/app/content"
	"github.com/lysyi3m/aifeed/app/database"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is one slice of a ranked listing. Pages are numbered from 1.
type Page struct {
	Items   []content.Item `json:"items"`
	Page    int            `json:"page"`
	Limit   int            `json:"limit"`
	HasMore bool           `json:"has_more"`
}

// Refresher runs refresh cycles.
type Refresher interface {
	Refresh(ctx context.Context) (RefreshResult, error)
	Running() bool
}

// Service is the read and annotate surface over the store, plus refresh.
type Service struct {
	refresher Refresher
	items     database.ItemRepository
	sources   database.SourceRepository
}

func NewService(refresher Refresher, items database.ItemRepository, sources database.SourceRepository) *Service {
	return &Service{refresher: refresher, items: items, sources: sources}
}

func (s *Service) Refresh(ctx context.Context) (RefreshResult, error) {
	return s.refresher.Refresh(ctx)
}

func (s *Service) Refreshing() bool {
	return s.refresher.Running()
}

func (s *Service) GetByType(ctx context.Context, contentType content.ContentType, page, limit int, filters database.Filters) (Page, error) {
	page, limit = normalizePage(page, limit)
	items, err := s.items.GetByType(ctx, contentType, limit+1, (page-1)*limit, filters)
	if err != nil {
		return Page{}, err
	}
	return newPage(items, page, limit), nil
}

func (s *Service) Search(ctx context.Context, query string, page, limit int, filters database.Filters) (Page, error) {
	page, limit = normalizePage(page, limit)
	items, err := s.items.Search(ctx, query, limit+1, (page-1)*limit, filters)
	if err != nil {
		return Page{}, err
	}
	return newPage(items, page, limit), nil
}

func (s *Service) GetBookmarked(ctx context.Context, page, limit int) (Page, error) {
	page, limit = normalizePage(page, limit)
	items, err := s.items.GetBookmarked(ctx, limit+1, (page-1)*limit)
	if err != nil {
		return Page{}, err
	}
	return newPage(items, page, limit), nil
}

func (s *Service) GetItem(ctx context.Context, id string) (*content.Item, error) {
	return s.items.GetItem(ctx, id)
}

func (s *Service) SetFlags(ctx context.Context, id string, flags database.Flags) (bool, error) {
	return s.items.SetFlags(ctx, id, flags)
}

func (s *Service) LatestSummary(ctx context.Context) (*time.Time, error) {
	return s.items.GetLatestSummary(ctx)
}

// Stats reports item counts together with each incremental source's
// watermark.
func (s *Service) Stats(ctx context.Context) (*database.Stats, error) {
	stats, err := s.items.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	if s.sources != nil {
		if stats.Sources, err = s.sources.ListWatermarks(ctx); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return page, min(limit, MaxPageSize)
}

// newPage trims the extra row fetched past limit.
func newPage(items []content.Item, page, limit int) Page {
	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	return Page{Items: items, Page: page, Limit: limit, HasMore: hasMore}
}
