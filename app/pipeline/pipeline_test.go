package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/aifeed/app/cfg"
	"github.com/lysyi3m/aifeed/app/collector"
	"github.com/lysyi3m/aifeed/app/content"
	"github.com/lysyi3m/aifeed/app/database"
	"github.com/lysyi3m/aifeed/app/fetcher"
	"github.com/lysyi3m/aifeed/app/metrics"
)

type fakeCollector struct {
	name    content.SourceType
	items   []content.Item
	updates []collector.WatermarkUpdate
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeCollector) Name() content.SourceType {
	return f.name
}

func (f *fakeCollector) Collect(ctx context.Context) ([]content.Item, error) {
	items, _, err := f.CollectIncremental(ctx)
	return items, err
}

func (f *fakeCollector) CollectIncremental(ctx context.Context) ([]content.Item, []collector.WatermarkUpdate, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	items := make([]content.Item, len(f.items))
	copy(items, f.items)
	return items, f.updates, nil
}

type plainCollector struct {
	name  content.SourceType
	items []content.Item
}

func (p *plainCollector) Name() content.SourceType { return p.name }

func (p *plainCollector) Collect(ctx context.Context) ([]content.Item, error) {
	return p.items, nil
}

type stubEnricher struct{}

func (stubEnricher) BatchEnrich(ctx context.Context, items []content.Item) []content.Item {
	for i := range items {
		items[i].Categories = []string{"Research"}
		items[i].Keywords = []string{}
		items[i].ImportanceScore = 6
		items[i].Summary = "summary"
		items[i].ProcessedAt = time.Now()
	}
	return items
}

type failingItems struct {
	database.ItemRepository
}

func (failingItems) UpsertItems(ctx context.Context, items []content.Item) (database.UpsertSummary, error) {
	return database.UpsertSummary{}, errors.New("disk I/O error")
}

// failOnItem stores items until it reaches the given id, then fails the
// batch with a non-constraint error.
type failOnItem struct {
	database.ItemRepository
	id string
}

func (f failOnItem) UpsertItems(ctx context.Context, items []content.Item) (database.UpsertSummary, error) {
	var summary database.UpsertSummary
	for _, item := range items {
		if item.ID == f.id {
			return summary, errors.New("database is locked")
		}
		if err := f.ItemRepository.UpsertItem(ctx, item); err != nil {
			return summary, err
		}
		summary.Stored++
	}
	return summary, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStores(t *testing.T) (database.ItemRepository, database.SourceRepository) {
	t.Helper()
	db, err := database.NewConnection(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return database.NewItemRepository(db), database.NewSourceRepository(db)
}

func items(prefix string, n int) []content.Item {
	out := make([]content.Item, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-%d", prefix, i)
		out = append(out, content.Item{
			ID:    id,
			Title: "Title " + id,
			URL:   "https://example.com/" + id,
		})
	}
	return out
}

func TestRefresh_StoresAllSources(t *testing.T) {
	itemRepo, sourceRepo := newStores(t)

	blogs := &fakeCollector{
		name:    content.SourceTypeBlogs,
		items:   items("blog", 2),
		updates: []collector.WatermarkUpdate{{SourceID: "https://lab.example.com/feed", LastItemID: "blog-0"}},
	}
	papers := &plainCollector{name: content.SourceTypeArxiv, items: items("paper", 3)}

	p := New([]collector.Collector{blogs, papers}, stubEnricher{}, itemRepo, sourceRepo, metrics.New(), 2, testLogger())
	result, err := p.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if result.Status != StatusSuccess {
		t.Errorf("Expected success, got %s", result.Status)
	}
	if result.RunID == "" || result.Timestamp.IsZero() {
		t.Errorf("Expected run id and timestamp, got %+v", result)
	}
	if len(result.Sources) != 2 || result.Sources[0].Stored != 2 || result.Sources[1].Stored != 3 {
		t.Errorf("Unexpected source results: %+v", result.Sources)
	}

	stored, err := itemRepo.GetItem(context.Background(), "paper-0")
	if err != nil || stored == nil {
		t.Fatalf("Expected stored paper, got %v, %v", stored, err)
	}
	if stored.ContentType != content.ContentTypePaper || stored.SourceType != content.SourceTypeArxiv {
		t.Errorf("Expected items stamped with source kind, got %s/%s", stored.ContentType, stored.SourceType)
	}

	w, err := sourceRepo.GetWatermark(context.Background(), "https://lab.example.com/feed")
	if err != nil || w == nil || w.LastItemID != "blog-0" {
		t.Errorf("Expected watermark committed, got %+v, %v", w, err)
	}
}

func TestRefresh_SourceFailureDoesNotBlockOthers(t *testing.T) {
	itemRepo, sourceRepo := newStores(t)

	broken := &fakeCollector{name: content.SourceTypeNews, err: errors.New("api unreachable")}
	papers := &plainCollector{name: content.SourceTypeArxiv, items: items("paper", 2)}

	p := New([]collector.Collector{broken, papers}, stubEnricher{}, itemRepo, sourceRepo, nil, 4, testLogger())
	result, err := p.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Expected cycle to succeed, got %v", err)
	}
	if result.Status != StatusSuccess {
		t.Errorf("Expected success, got %s", result.Status)
	}
	if result.Sources[0].Err == "" {
		t.Error("Expected failed source to be reported")
	}
	if result.Sources[1].Stored != 2 {
		t.Errorf("Expected other source stored, got %+v", result.Sources[1])
	}
}

func TestRefresh_ConstraintViolationSkipped(t *testing.T) {
	itemRepo, sourceRepo := newStores(t)

	dupes := items("news", 2)
	dupes[1].URL = dupes[0].URL
	news := &plainCollector{name: content.SourceTypeNews, items: dupes}

	p := New([]collector.Collector{news}, stubEnricher{}, itemRepo, sourceRepo, nil, 1, testLogger())
	result, err := p.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if result.Sources[0].Stored != 1 || result.Sources[0].Skipped != 1 {
		t.Errorf("Expected 1 stored and 1 skipped, got %+v", result.Sources[0])
	}
}

func TestRefresh_StoreFailureIsFatal(t *testing.T) {
	itemRepo, sourceRepo := newStores(t)

	blogs := &fakeCollector{
		name:    content.SourceTypeBlogs,
		items:   items("blog", 1),
		updates: []collector.WatermarkUpdate{{SourceID: "https://lab.example.com/feed", LastItemID: "blog-0"}},
	}

	p := New([]collector.Collector{blogs}, stubEnricher{}, failingItems{itemRepo}, sourceRepo, nil, 1, testLogger())
	result, err := p.Refresh(context.Background())
	if err == nil {
		t.Fatal("Expected store failure to fail the cycle")
	}
	if result.Status != StatusError {
		t.Errorf("Expected error status, got %s", result.Status)
	}

	w, err := sourceRepo.GetWatermark(context.Background(), "https://lab.example.com/feed")
	if err != nil {
		t.Fatalf("GetWatermark failed: %v", err)
	}
	if w != nil {
		t.Errorf("Expected watermark not to advance, got %+v", w)
	}

	if p.Running() {
		t.Error("Expected guard to be released after a failed cycle")
	}
}

func TestRefresh_SingleInFlight(t *testing.T) {
	itemRepo, sourceRepo := newStores(t)

	slow := &fakeCollector{
		name:    content.SourceTypeArxiv,
		items:   items("paper", 1),
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	p := New([]collector.Collector{slow}, stubEnricher{}, itemRepo, sourceRepo, nil, 1, testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := p.Refresh(context.Background())
		done <- err
	}()
	<-slow.started

	if _, err := p.Refresh(context.Background()); !errors.Is(err, ErrRefreshInProgress) {
		t.Errorf("Expected ErrRefreshInProgress, got %v", err)
	}
	if !p.Running() {
		t.Error("Expected refresh to be reported as running")
	}

	close(slow.block)
	if err := <-done; err != nil {
		t.Errorf("First refresh failed: %v", err)
	}
	if p.Running() {
		t.Error("Expected guard to be released")
	}
}

func TestRefresh_Cancelled(t *testing.T) {
	itemRepo, sourceRepo := newStores(t)

	slow := &fakeCollector{
		name:    content.SourceTypeArxiv,
		items:   items("paper", 1),
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	p := New([]collector.Collector{slow}, stubEnricher{}, itemRepo, sourceRepo, nil, 1, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-slow.started
		cancel()
	}()

	result, err := p.Refresh(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if result.Status != StatusError {
		t.Errorf("Expected error status, got %s", result.Status)
	}

	if stored, _ := itemRepo.GetItem(context.Background(), "paper-0"); stored != nil {
		t.Error("Expected nothing persisted after cancellation")
	}
}

func TestService_Pagination(t *testing.T) {
	itemRepo, sourceRepo := newStores(t)

	news := &plainCollector{name: content.SourceTypeNews, items: items("news", 11)}
	p := New([]collector.Collector{news}, stubEnricher{}, itemRepo, sourceRepo, nil, 1, testLogger())
	svc := NewService(p, itemRepo, sourceRepo)

	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	first, err := svc.GetByType(context.Background(), content.ContentTypeNews, 1, 10, database.Filters{})
	if err != nil {
		t.Fatalf("GetByType failed: %v", err)
	}
	if len(first.Items) != 10 || !first.HasMore {
		t.Errorf("Expected 10 items and has_more, got %d, %v", len(first.Items), first.HasMore)
	}

	second, err := svc.GetByType(context.Background(), content.ContentTypeNews, 2, 10, database.Filters{})
	if err != nil {
		t.Fatalf("GetByType failed: %v", err)
	}
	if len(second.Items) != 1 || second.HasMore {
		t.Errorf("Expected 1 item and no more, got %d, %v", len(second.Items), second.HasMore)
	}

	results, err := svc.Search(context.Background(), "news-1", 0, 0, database.Filters{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if results.Page != 1 || results.Limit != DefaultPageSize || len(results.Items) != 2 {
		t.Errorf("Expected news-1 and news-10 on default page, got %+v", results)
	}

	latest, err := svc.LatestSummary(context.Background())
	if err != nil || latest == nil {
		t.Errorf("Expected latest summary time, got %v, %v", latest, err)
	}
}

func TestService_StatsIncludesWatermarks(t *testing.T) {
	itemRepo, sourceRepo := newStores(t)
	ctx := context.Background()

	blogs := &fakeCollector{
		name:    content.SourceTypeBlogs,
		items:   items("blog", 2),
		updates: []collector.WatermarkUpdate{{SourceID: "https://lab.example.com/feed", LastItemID: "blog-0"}},
	}
	p := New([]collector.Collector{blogs}, stubEnricher{}, itemRepo, sourceRepo, nil, 1, testLogger())
	svc := NewService(p, itemRepo, sourceRepo)

	if _, err := svc.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("Expected 2 items, got %d", stats.Total)
	}
	if len(stats.Sources) != 1 || stats.Sources[0].LastItemID != "blog-0" || stats.Sources[0].LastSuccessfulFetch == nil {
		t.Errorf("Expected blog watermark in stats, got %+v", stats.Sources)
	}
}

const labPosts = "https://lab.example.com/posts/"

func labFeed(ids ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Lab</title><link>https://lab.example.com</link><description>Posts</description>`)
	for _, id := range ids {
		b.WriteString(`<item><title>Post ` + id + `</title><link>` + labPosts + id + `</link><guid>` + labPosts + id + `</guid>` +
			`<description>About ` + id + `</description><pubDate>Tue, 02 Jan 2024 10:00:00 GMT</pubDate></item>`)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

func newLabBlogs(t *testing.T, sourceRepo database.SourceRepository) (*collector.Blogs, string) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(labFeed("E7", "E6", "E5", "E4")))
	}))
	t.Cleanup(server.Close)

	f := fetcher.New(nil, fetcher.Config{Timeout: 5 * time.Second}, testLogger())
	blogs := collector.NewBlogs(cfg.BlogsSource{
		MaxResults: 10,
		Feeds:      []cfg.BlogFeed{{Name: "Lab", URL: server.URL}},
	}, f, nil, sourceRepo, testLogger())
	return blogs, server.URL
}

func TestRefresh_BlogWatermarkAdvancesAfterStore(t *testing.T) {
	itemRepo, sourceRepo := newStores(t)
	ctx := context.Background()
	blogs, feedURL := newLabBlogs(t, sourceRepo)

	if err := sourceRepo.PutWatermark(ctx, feedURL, time.Now(), labPosts+"E5"); err != nil {
		t.Fatalf("PutWatermark failed: %v", err)
	}

	p := New([]collector.Collector{blogs}, stubEnricher{}, itemRepo, sourceRepo, nil, 1, testLogger())
	result, err := p.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if result.Sources[0].Collected != 2 || result.Sources[0].Stored != 2 {
		t.Errorf("Expected E7 and E6 only, got %+v", result.Sources[0])
	}
	for _, id := range []string{"E7", "E6"} {
		if stored, _ := itemRepo.GetItem(ctx, id); stored == nil {
			t.Errorf("Expected %s stored", id)
		}
	}
	if stored, _ := itemRepo.GetItem(ctx, "E5"); stored != nil {
		t.Error("Expected entries at or below the watermark to be left alone")
	}

	w, err := sourceRepo.GetWatermark(ctx, feedURL)
	if err != nil || w == nil || w.LastItemID != labPosts+"E7" {
		t.Errorf("Expected watermark at E7, got %+v, %v", w, err)
	}

	result, err = p.Refresh(ctx)
	if err != nil {
		t.Fatalf("Second refresh failed: %v", err)
	}
	if result.Sources[0].Collected != 0 {
		t.Errorf("Expected nothing new on second run, got %+v", result.Sources[0])
	}
}

func TestRefresh_BlogWatermarkHeldOnStoreFailure(t *testing.T) {
	itemRepo, sourceRepo := newStores(t)
	ctx := context.Background()
	blogs, feedURL := newLabBlogs(t, sourceRepo)

	if err := sourceRepo.PutWatermark(ctx, feedURL, time.Now(), labPosts+"E5"); err != nil {
		t.Fatalf("PutWatermark failed: %v", err)
	}

	p := New([]collector.Collector{blogs}, stubEnricher{}, failOnItem{itemRepo, "E6"}, sourceRepo, nil, 1, testLogger())
	if _, err := p.Refresh(ctx); err == nil {
		t.Fatal("Expected store failure to fail the cycle")
	}

	if stored, _ := itemRepo.GetItem(ctx, "E7"); stored == nil {
		t.Error("Expected E7 stored before the failure")
	}
	if stored, _ := itemRepo.GetItem(ctx, "E6"); stored != nil {
		t.Error("Expected E6 not stored")
	}
	w, err := sourceRepo.GetWatermark(ctx, feedURL)
	if err != nil || w == nil || w.LastItemID != labPosts+"E5" {
		t.Fatalf("Expected watermark to stay at E5, got %+v, %v", w, err)
	}

	retry := New([]collector.Collector{blogs}, stubEnricher{}, itemRepo, sourceRepo, nil, 1, testLogger())
	result, err := retry.Refresh(ctx)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if result.Sources[0].Stored != 2 {
		t.Errorf("Expected E7 and E6 refetched on retry, got %+v", result.Sources[0])
	}
	if stored, _ := itemRepo.GetItem(ctx, "E6"); stored == nil {
		t.Error("Expected E6 stored on retry")
	}
	w, err = sourceRepo.GetWatermark(ctx, feedURL)
	if err != nil || w == nil || w.LastItemID != labPosts+"E7" {
		t.Errorf("Expected watermark at E7 after retry, got %+v, %v", w, err)
	}
}

func TestRefresh_ConstraintSkipDoesNotHoldWatermark(t *testing.T) {
	itemRepo, sourceRepo := newStores(t)
	ctx := context.Background()
	blogs, feedURL := newLabBlogs(t, sourceRepo)

	if err := sourceRepo.PutWatermark(ctx, feedURL, time.Now(), labPosts+"E5"); err != nil {
		t.Fatalf("PutWatermark failed: %v", err)
	}
	taken := content.Item{ID: "other", Title: "Mirror", URL: labPosts + "E6", ContentType: content.ContentTypeBlog, SourceType: content.SourceTypeBlogs}
	if err := itemRepo.UpsertItem(ctx, taken); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	p := New([]collector.Collector{blogs}, stubEnricher{}, itemRepo, sourceRepo, nil, 1, testLogger())
	result, err := p.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if result.Sources[0].Stored != 1 || result.Sources[0].Skipped != 1 {
		t.Errorf("Expected E7 stored and E6 skipped, got %+v", result.Sources[0])
	}
	w, err := sourceRepo.GetWatermark(ctx, feedURL)
	if err != nil || w == nil || w.LastItemID != labPosts+"E7" {
		t.Errorf("Expected watermark at E7 despite the skip, got %+v, %v", w, err)
	}
}
