package tasks

import (
	"context"
	"fmt"
	"log/slog"
)

// Backuper writes a copy of the store into a directory.
type Backuper interface {
	Backup(ctx context.Context, dir string) (string, error)
}

type BackupTask struct {
	Task
	backuper Backuper
	dir      string
	logger   *slog.Logger
}

func NewBackupTask(backuper Backuper, dir string, logger *slog.Logger) *BackupTask {
	return &BackupTask{
		Task:     NewTask(TaskTypeBackup, DefaultMaxRetries),
		backuper: backuper,
		dir:      dir,
		logger:   logger,
	}
}

func (t *BackupTask) Execute(ctx context.Context) error {
	path, err := t.backuper.Backup(ctx, t.dir)
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	t.logger.Info("Task completed", "type", string(t.Type), "path", path, "duration", t.GetDuration().String())
	return nil
}
