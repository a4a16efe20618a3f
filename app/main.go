package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/lysyi3m/aifeed/app/api"
	"github.com/lysyi3m/aifeed/app/cfg"
	"github.com/lysyi3m/aifeed/app/collector"
	"github.com/lysyi3m/aifeed/app/database"
	"github.com/lysyi3m/aifeed/app/enrichment"
	"github.com/lysyi3m/aifeed/app/feed"
	"github.com/lysyi3m/aifeed/app/fetcher"
	"github.com/lysyi3m/aifeed/app/metrics"
	"github.com/lysyi3m/aifeed/app/pipeline"
	"github.com/lysyi3m/aifeed/app/tasks"
)

func main() {
	config, err := cfg.Load(os.Args[1:])
	if errors.Is(err, cfg.ErrHelp) {
		return
	}
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger(config.LogLevel, os.Stderr)
	slog.SetDefault(logger)

	if err := run(config, logger); err != nil {
		logger.Error("Command failed", "command", config.Command, "error", err)
		os.Exit(1)
	}
}

type app struct {
	db       *database.DB
	pipeline *pipeline.Pipeline
	service  *pipeline.Service
	metrics  *metrics.Metrics
}

func run(config *cfg.Cfg, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting AIFeed", "version", config.Version, "command", config.Command)

	db, err := database.NewConnection(config.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return err
	}
	logger.Info("Database ready", "path", config.DBPath, "schema_version", version, "dirty", dirty)

	switch config.Command {
	case "stats":
		return showStats(ctx, database.NewItemRepository(db), database.NewSourceRepository(db))
	case "backup":
		path, err := db.Backup(ctx, config.BackupDir)
		if err != nil {
			return err
		}
		fmt.Printf("Database backed up to %s\n", path)
		return nil
	case "clear":
		if !config.Confirmed {
			return fmt.Errorf("clear deletes every stored item; rerun with --yes to confirm")
		}
		if err := db.Clear(ctx); err != nil {
			return err
		}
		fmt.Println("Database cleared")
		return nil
	}

	a, err := newApp(config, db, logger)
	if err != nil {
		return err
	}

	switch config.Command {
	case "refresh":
		return refreshOnce(ctx, a, logger)
	case "scheduler":
		scheduler := newScheduler(config, a, logger)
		scheduler.Start()
		<-ctx.Done()
		logger.Info("Shutting down scheduler")
		scheduler.Stop()
		return nil
	default:
		return serve(ctx, config, a, logger)
	}
}

func newApp(config *cfg.Cfg, db *database.DB, logger *slog.Logger) (*app, error) {
	sources, err := cfg.LoadSources(config.SourcesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}

	m := metrics.New()
	items := database.NewItemRepository(db)
	watermarks := database.NewSourceRepository(db)

	f := fetcher.New(&http.Client{}, fetcher.Config{
		UserAgent:     config.UserAgent,
		Timeout:       config.FetchTimeout,
		MaxRetries:    config.FetchRetries,
		BackoffFactor: config.FetchBackoff,
	}, logger)
	extractor := feed.NewContentExtractor(f, config.MaxArticleChars, logger)

	var collectors []collector.Collector
	if sources.Arxiv.Enabled {
		collectors = append(collectors, collector.NewArxiv(sources.Arxiv, f, logger))
	}
	if sources.News.Enabled {
		if config.NewsAPIKey != "" {
			collectors = append(collectors, collector.NewNews(sources.News, config.NewsAPIKey, f, extractor, logger))
		} else {
			logger.Warn("News source disabled (NEWS_API_KEY not set)")
		}
	}
	if sources.YouTube.Enabled {
		if config.YouTubeAPIKey != "" {
			collectors = append(collectors, collector.NewYouTube(sources.YouTube, config.YouTubeAPIKey, f, logger))
		} else {
			logger.Warn("YouTube source disabled (YOUTUBE_API_KEY not set)")
		}
	}
	if sources.Blogs.Enabled {
		collectors = append(collectors, collector.NewBlogs(sources.Blogs, f, extractor, watermarks, logger))
	}

	names := make([]string, 0, len(collectors))
	for _, c := range collectors {
		names = append(names, string(c.Name()))
	}
	logger.Info("Sources configured", "sources", names)

	enricher := enrichment.NewService(enrichment.Config{
		APIKey:            config.AnthropicAPIKey,
		Model:             config.AnthropicModel,
		BaseURL:           config.AnthropicBaseURL,
		RateLimitCooldown: config.RateLimitCooldown,
	}, m, logger)
	if !enricher.Enabled() {
		logger.Warn("LLM enrichment disabled (ANTHROPIC_API_KEY not set)")
	}

	p := pipeline.New(collectors, enricher, items, watermarks, m, config.Concurrency, logger)

	return &app{
		db:       db,
		pipeline: p,
		service:  pipeline.NewService(p, items, watermarks),
		metrics:  m,
	}, nil
}

func newScheduler(config *cfg.Cfg, a *app, logger *slog.Logger) tasks.TaskSchedulerInterface {
	return tasks.NewScheduler(a.pipeline, a.db, tasks.Config{
		Interval:       config.SchedulerInterval,
		BackupInterval: config.BackupInterval,
		BackupDir:      config.BackupDir,
	}, logger)
}

func refreshOnce(ctx context.Context, a *app, logger *slog.Logger) error {
	result, err := a.pipeline.Refresh(ctx)
	for _, source := range result.Sources {
		logger.Info("Source finished",
			"source", source.Source,
			"collected", source.Collected,
			"stored", source.Stored,
			"skipped", source.Skipped,
			"error", source.Err)
	}
	if err != nil {
		return err
	}

	logger.Info("Refresh finished", "status", result.Status, "run_id", result.RunID)
	return nil
}

func showStats(ctx context.Context, items database.ItemRepository, sources database.SourceRepository) error {
	stats, err := items.GetStats(ctx)
	if err != nil {
		return err
	}
	watermarks, err := sources.ListWatermarks(ctx)
	if err != nil {
		return err
	}

	lastUpdate := "never"
	if stats.LastUpdate != nil {
		lastUpdate = stats.LastUpdate.Local().Format(time.DateTime)
	}

	fmt.Println("AIFeed statistics")
	fmt.Printf("  Total items:  %d\n", stats.Total)
	fmt.Printf("  Bookmarked:   %d\n", stats.Bookmarked)
	fmt.Printf("  Unread:       %d\n", stats.Unread)
	fmt.Printf("  Last update:  %s\n", lastUpdate)

	types := make([]string, 0, len(stats.ByContentType))
	for t := range stats.ByContentType {
		types = append(types, t)
	}
	sort.Strings(types)

	fmt.Println("  By type:")
	for _, t := range types {
		fmt.Printf("    %-8s %d\n", t, stats.ByContentType[t])
	}

	if len(watermarks) > 0 {
		fmt.Println("  Sources:")
		for _, w := range watermarks {
			fetched := "never"
			if w.LastSuccessfulFetch != nil {
				fetched = w.LastSuccessfulFetch.Local().Format(time.DateTime)
			}
			fmt.Printf("    %s  last fetch %s  last item %s\n", w.SourceID, fetched, w.LastItemID)
		}
	}
	return nil
}

func serve(ctx context.Context, config *cfg.Cfg, a *app, logger *slog.Logger) error {
	scheduler := newScheduler(config, a, logger)
	scheduler.Start()
	defer scheduler.Stop()

	baseURL := config.BaseUrl
	if baseURL == "" {
		baseURL = "http://localhost:" + config.Port
	}

	handler := api.NewHandler(a.service, baseURL, config.Version)
	server := api.NewServer(handler, config.APIAccessKey, a.metrics.Handler())

	// POST /api/refresh holds its connection for a whole cycle.
	httpServer := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "port", config.Port, "base_url", baseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	} else {
		logger.Info("HTTP server stopped")
	}

	return nil
}
