package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lysyi3m/aifeed/app/collector"
	"github.com/lysyi3m/aifeed/app/content"
	"github.com/lysyi3m/aifeed/app/database"
	"github.com/lysyi3m/aifeed/app/metrics"
)

const DefaultConcurrency = 4

var ErrRefreshInProgress = errors.New("refresh already in progress")

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type SourceResult struct {
	Source    content.SourceType `json:"source"`
	Collected int                `json:"collected"`
	Stored    int                `json:"stored"`
	Skipped   int                `json:"skipped"`
	Err       string             `json:"error,omitempty"`
}

type RefreshResult struct {
	Status    Status         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Sources   []SourceResult `json:"sources"`
}

// Enricher annotates a batch of items, preserving order and count.
type Enricher interface {
	BatchEnrich(ctx context.Context, items []content.Item) []content.Item
}

// Pipeline runs refresh cycles: collect, enrich, store, then advance
// watermarks. At most one cycle runs at a time.
type Pipeline struct {
	collectors  []collector.Collector
	enricher    Enricher
	items       database.ItemRepository
	sources     database.SourceRepository
	metrics     *metrics.Metrics
	concurrency int
	logger      *slog.Logger
	now         func() time.Time

	running atomic.Bool
}

func New(collectors []collector.Collector, enricher Enricher, items database.ItemRepository, sources database.SourceRepository, m *metrics.Metrics, concurrency int, logger *slog.Logger) *Pipeline {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Pipeline{
		collectors:  collectors,
		enricher:    enricher,
		items:       items,
		sources:     sources,
		metrics:     m,
		concurrency: concurrency,
		logger:      logger.With("component", "pipeline"),
		now:         time.Now,
	}
}

func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Refresh runs one cycle over every collector. Source failures are recorded
// in the result; a store failure or cancellation fails the whole cycle.
func (p *Pipeline) Refresh(ctx context.Context) (RefreshResult, error) {
	if !p.running.CompareAndSwap(false, true) {
		return RefreshResult{Status: StatusError, Timestamp: p.now()}, ErrRefreshInProgress
	}
	defer p.running.Store(false)

	started := p.now()
	result := RefreshResult{
		RunID:   uuid.NewString(),
		Sources: make([]SourceResult, len(p.collectors)),
	}
	logger := p.logger.With("run_id", result.RunID)
	logger.Info("Refresh started", "sources", len(p.collectors))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, c := range p.collectors {
		g.Go(func() error {
			res, err := p.runSource(gctx, c, logger.With("source", c.Name()))
			result.Sources[i] = res
			return err
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	result.Timestamp = p.now()
	result.Status = StatusSuccess
	if err != nil {
		result.Status = StatusError
	}
	p.metrics.RefreshFinished(string(result.Status), started)

	if err != nil {
		logger.Error("Refresh failed", "error", err, "duration", time.Since(started))
		return result, err
	}

	stored := 0
	for _, res := range result.Sources {
		stored += res.Stored
	}
	logger.Info("Refresh completed", "stored", stored, "duration", time.Since(started))
	return result, nil
}

func (p *Pipeline) runSource(ctx context.Context, c collector.Collector, logger *slog.Logger) (SourceResult, error) {
	res := SourceResult{Source: c.Name()}

	var items []content.Item
	var updates []collector.WatermarkUpdate
	var err error
	if ws, ok := c.(collector.WatermarkSource); ok {
		items, updates, err = ws.CollectIncremental(ctx)
	} else {
		items, err = c.Collect(ctx)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		logger.Error("Collection failed", "error", err)
		res.Err = err.Error()
		return res, nil
	}

	for i := range items {
		items[i].SourceType = c.Name()
		items[i].ContentType = c.Name().ContentType()
	}
	res.Collected = len(items)
	p.metrics.SourceCollected(string(c.Name()), len(items))
	logger.Info("Collected items", "count", len(items))

	if len(items) > 0 {
		enriched := p.enricher.BatchEnrich(ctx, items)
		if err := ctx.Err(); err != nil {
			return res, err
		}

		summary, err := p.items.UpsertItems(ctx, enriched)
		res.Stored = summary.Stored
		res.Skipped = len(summary.Skipped)
		p.metrics.SourceStored(string(c.Name()), summary.Stored, len(summary.Skipped))
		for _, id := range summary.Skipped {
			logger.Warn("Skipped item rejected by store constraint", "item", id)
		}
		if err != nil {
			res.Err = err.Error()
			return res, fmt.Errorf("failed to store %s items: %w", c.Name(), err)
		}
	}

	// Constraint skips are permanent and do not hold watermarks back.
	for _, update := range updates {
		if err := p.sources.PutWatermark(ctx, update.SourceID, p.now(), update.LastItemID); err != nil {
			res.Err = err.Error()
			return res, fmt.Errorf("failed to commit watermark for %s: %w", update.SourceID, err)
		}
		logger.Debug("Watermark advanced", "feed", update.SourceID, "last_item", update.LastItemID)
	}

	return res, nil
}
