package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/aifeed/app/pipeline"
)

// Refresher runs one refresh cycle.
type Refresher interface {
	Refresh(ctx context.Context) (pipeline.RefreshResult, error)
}

type RefreshTask struct {
	Task
	refresher Refresher
	logger    *slog.Logger
}

// NewRefreshTask retries once; the next tick covers anything beyond that.
func NewRefreshTask(refresher Refresher, logger *slog.Logger) *RefreshTask {
	return &RefreshTask{
		Task:      NewTask(TaskTypeRefresh, 1),
		refresher: refresher,
		logger:    logger,
	}
}

func (t *RefreshTask) Execute(ctx context.Context) error {
	result, err := t.refresher.Refresh(ctx)
	if errors.Is(err, pipeline.ErrRefreshInProgress) {
		t.logger.Info("Refresh already running, skipping", "id", t.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	failed := 0
	for _, source := range result.Sources {
		if source.Err != "" {
			failed++
		}
	}

	t.logger.Info("Task completed",
		"type", string(t.Type),
		"run_id", result.RunID,
		"sources", len(result.Sources),
		"failed_sources", failed,
		"duration", t.GetDuration().String())
	return nil
}
