package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

const (
	DefaultInterval    = time.Hour
	DefaultWorkerCount = 2
	DefaultTaskTimeout = 30 * time.Minute
	maxRetryDelay      = 30 * time.Second
	queueSize          = 16
)

type Config struct {
	Interval       time.Duration
	BackupInterval time.Duration
	BackupDir      string
	WorkerCount    int
	TaskTimeout    time.Duration
}

// Scheduler runs a refresh on start and every Interval, plus optional
// periodic backups, on a small worker pool with retry.
type Scheduler struct {
	refresher  Refresher
	backuper   Backuper
	cfg        Config
	logger     *slog.Logger
	retryDelay func(attempt int) time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	taskQueue  chan TaskInterface
}

func NewScheduler(refresher Refresher, backuper Backuper, cfg Config, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultWorkerCount
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}

	return &Scheduler{
		refresher:  refresher,
		backuper:   backuper,
		cfg:        cfg,
		logger:     logger.With("component", "scheduler"),
		retryDelay: retryDelay,
		ctx:        ctx,
		cancel:     cancel,
		taskQueue:  make(chan TaskInterface, queueSize),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.cfg.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		var backups <-chan time.Time
		if s.cfg.BackupInterval > 0 && s.backuper != nil {
			backupTicker := time.NewTicker(s.cfg.BackupInterval)
			defer backupTicker.Stop()
			backups = backupTicker.C
		}

		s.logger.Info("Scheduler started", "interval", s.cfg.Interval.String(), "backup_interval", s.cfg.BackupInterval.String())
		s.enqueueRefresh()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueRefresh()
			case <-backups:
				if err := s.EnqueueTask(NewBackupTask(s.backuper, s.cfg.BackupDir, s.logger)); err != nil {
					s.logger.Warn("Failed to enqueue BackupTask", "error", err)
				}
			}
		}
	}()
}

// Stop cancels running tasks and waits for workers and pending retries.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) enqueueRefresh() {
	if err := s.EnqueueTask(NewRefreshTask(s.refresher, s.logger)); err != nil {
		s.logger.Warn("Failed to enqueue RefreshTask", "error", err)
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, s.cfg.TaskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		return
	}

	s.logger.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

	if s.ctx.Err() != nil {
		return
	}

	if !task.CanRetry() {
		s.logger.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		return
	}

	task.IncrementRetryCount()
	delay := s.retryDelay(task.GetRetryCount())
	s.logger.Warn("Task retry scheduled", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", delay.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-s.ctx.Done():
			s.logger.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
		case <-timer.C:
			if retryErr := s.EnqueueTask(task); retryErr != nil {
				s.logger.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
			}
		}
	}()
}

func retryDelay(attempt int) time.Duration {
	return min(time.Duration(1<<uint(attempt-1))*time.Second, maxRetryDelay)
}
