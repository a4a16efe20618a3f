package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/lysyi3m/aifeed/app/content"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewConnection(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func testItem(id string, contentType content.ContentType, importance int) content.Item {
	return content.Item{
		ID:              id,
		Title:           "Title " + id,
		URL:             "https://example.com/" + id,
		Source:          "Example",
		SourceType:      content.SourceTypeBlogs,
		ContentType:     contentType,
		Description:     "Description of " + id,
		Summary:         "Summary of " + id,
		Published:       "2024-01-01T00:00:00Z",
		Categories:      []string{"Research"},
		Keywords:        []string{"transformers"},
		ImportanceScore: importance,
		ProcessedAt:     time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func boolPtr(b bool) *bool { return &b }

func TestUpsertItem_Idempotent(t *testing.T) {
	repo := NewItemRepository(newTestDB(t))
	ctx := context.Background()

	item := testItem("a", content.ContentTypeBlog, 7)
	for i := 0; i < 2; i++ {
		if err := repo.UpsertItem(ctx, item); err != nil {
			t.Fatalf("Upsert %d failed: %v", i, err)
		}
	}

	stats, err := repo.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("Expected 1 row after repeated upsert, got %d", stats.Total)
	}

	stored, err := repo.GetItem(ctx, "a")
	if err != nil || stored == nil {
		t.Fatalf("Expected stored item, got %v, %v", stored, err)
	}
	if stored.ImportanceScore != 7 || stored.Categories[0] != "Research" || stored.Keywords[0] != "transformers" {
		t.Errorf("Unexpected stored item: %+v", stored)
	}
	if stored.LastFetchedAt.IsZero() {
		t.Error("Expected last_fetched_at to be set")
	}
	if !stored.ProcessedAt.Equal(item.ProcessedAt) {
		t.Errorf("Expected processed_at %v, got %v", item.ProcessedAt, stored.ProcessedAt)
	}
}

func TestUpsertItem_PreservesFlags(t *testing.T) {
	repo := NewItemRepository(newTestDB(t))
	ctx := context.Background()

	item := testItem("a", content.ContentTypeBlog, 5)
	if err := repo.UpsertItem(ctx, item); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	ok, err := repo.SetFlags(ctx, "a", Flags{Bookmarked: boolPtr(true), IsRead: boolPtr(true)})
	if err != nil || !ok {
		t.Fatalf("SetFlags failed: %v, %v", ok, err)
	}

	item.Title = "Updated title"
	item.ImportanceScore = 9
	item.Bookmarked = false
	if err := repo.UpsertItem(ctx, item); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}

	stored, err := repo.GetItem(ctx, "a")
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if stored.Title != "Updated title" || stored.ImportanceScore != 9 {
		t.Errorf("Expected source fields to be replaced, got %+v", stored)
	}
	if !stored.Bookmarked || !stored.IsRead {
		t.Errorf("Expected flags to survive upsert, got bookmarked=%v is_read=%v", stored.Bookmarked, stored.IsRead)
	}
}

func TestUpsertItem_URLConflict(t *testing.T) {
	repo := NewItemRepository(newTestDB(t))
	ctx := context.Background()

	first := testItem("a", content.ContentTypeNews, 5)
	if err := repo.UpsertItem(ctx, first); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	second := testItem("b", content.ContentTypeNews, 5)
	second.URL = first.URL
	err := repo.UpsertItem(ctx, second)

	var constraintErr *ConstraintError
	if !errors.As(err, &constraintErr) {
		t.Fatalf("Expected ConstraintError, got %v", err)
	}
	if !errors.Is(err, ErrConstraint) {
		t.Error("Expected error to match ErrConstraint")
	}
	if constraintErr.ItemID != "b" {
		t.Errorf("Expected item id 'b', got %q", constraintErr.ItemID)
	}

	if stored, _ := repo.GetItem(ctx, "b"); stored != nil {
		t.Error("Expected conflicting item not to be stored")
	}
}

func TestUpsertItem_EmptyURLsDoNotCollide(t *testing.T) {
	repo := NewItemRepository(newTestDB(t))
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		item := testItem(id, content.ContentTypePaper, 5)
		item.URL = ""
		if err := repo.UpsertItem(ctx, item); err != nil {
			t.Fatalf("Upsert %s failed: %v", id, err)
		}
	}
}

func TestGetByType_FiltersAndOrdering(t *testing.T) {
	repo := NewItemRepository(newTestDB(t))
	ctx := context.Background()

	items := []content.Item{
		testItem("low", content.ContentTypePaper, 2),
		testItem("high", content.ContentTypePaper, 9),
		testItem("mid-old", content.ContentTypePaper, 5),
		testItem("mid-new", content.ContentTypePaper, 5),
		testItem("video", content.ContentTypeVideo, 10),
	}
	items[2].Published = "2023-01-01T00:00:00Z"
	items[3].Published = "2024-06-01T00:00:00Z"
	items[3].Categories = []string{"Ethics", "Policy"}
	items[0].Categories = []string{"Policy"}
	for _, item := range items {
		if err := repo.UpsertItem(ctx, item); err != nil {
			t.Fatalf("Upsert %s failed: %v", item.ID, err)
		}
	}

	papers, err := repo.GetByType(ctx, content.ContentTypePaper, 10, 0, Filters{})
	if err != nil {
		t.Fatalf("GetByType failed: %v", err)
	}
	assertIDs(t, papers, "high", "mid-new", "mid-old", "low")

	papers, err = repo.GetByType(ctx, content.ContentTypePaper, 10, 0, Filters{MinImportance: 5})
	if err != nil {
		t.Fatalf("GetByType failed: %v", err)
	}
	assertIDs(t, papers, "high", "mid-new", "mid-old")

	papers, err = repo.GetByType(ctx, content.ContentTypePaper, 10, 0, Filters{Topics: []string{"Policy", "Hardware"}})
	if err != nil {
		t.Fatalf("GetByType failed: %v", err)
	}
	assertIDs(t, papers, "mid-new", "low")

	papers, err = repo.GetByType(ctx, content.ContentTypePaper, 10, 0, Filters{Topics: []string{"Hardware"}})
	if err != nil {
		t.Fatalf("GetByType failed: %v", err)
	}
	if len(papers) != 0 {
		t.Errorf("Expected no items, got %d", len(papers))
	}
}

func TestGetByType_Pagination(t *testing.T) {
	repo := NewItemRepository(newTestDB(t))
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		if err := repo.UpsertItem(ctx, testItem(fmt.Sprintf("item-%02d", i), content.ContentTypeNews, 5)); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	firstPage, err := repo.GetByType(ctx, content.ContentTypeNews, 11, 0, Filters{})
	if err != nil {
		t.Fatalf("GetByType failed: %v", err)
	}
	if len(firstPage) != 11 {
		t.Errorf("Expected 11 items when asking limit+1, got %d", len(firstPage))
	}

	secondPage, err := repo.GetByType(ctx, content.ContentTypeNews, 11, 10, Filters{})
	if err != nil {
		t.Fatalf("GetByType failed: %v", err)
	}
	if len(secondPage) != 1 {
		t.Errorf("Expected 1 item on second page, got %d", len(secondPage))
	}

	rest, err := repo.GetByType(ctx, content.ContentTypeNews, 0, 5, Filters{})
	if err != nil {
		t.Fatalf("GetByType failed: %v", err)
	}
	if len(rest) != 6 {
		t.Errorf("Expected 6 items with offset and no limit, got %d", len(rest))
	}
}

func TestSearch_Coverage(t *testing.T) {
	repo := NewItemRepository(newTestDB(t))
	ctx := context.Background()

	byTitle := testItem("title", content.ContentTypeBlog, 5)
	byTitle.Title = "Diffusion Models Explained"
	byDescription := testItem("description", content.ContentTypeNews, 6)
	byDescription.Description = "A deep dive into DIFFUSION"
	bySummary := testItem("summary", content.ContentTypePaper, 7)
	bySummary.Summary = "diffusion for audio"
	byKeyword := testItem("keyword", content.ContentTypeVideo, 8)
	byKeyword.Keywords = []string{"Diffusion"}
	byCategory := testItem("category", content.ContentTypeBlog, 4)
	byCategory.Categories = []string{"Tools"}
	unrelated := testItem("unrelated", content.ContentTypeBlog, 10)

	for _, item := range []content.Item{byTitle, byDescription, bySummary, byKeyword, byCategory, unrelated} {
		if err := repo.UpsertItem(ctx, item); err != nil {
			t.Fatalf("Upsert %s failed: %v", item.ID, err)
		}
	}

	results, err := repo.Search(ctx, "diffusion", 20, 0, Filters{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	assertIDs(t, results, "keyword", "summary", "description", "title")

	results, err = repo.Search(ctx, "tools", 20, 0, Filters{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	assertIDs(t, results, "category")

	results, err = repo.Search(ctx, "diffusion", 20, 0, Filters{MinImportance: 7})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	assertIDs(t, results, "keyword", "summary")

	results, err = repo.Search(ctx, "diffusion", 20, 0, Filters{SourceTypes: []string{string(content.SourceTypeBlogs)}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 4 {
		t.Errorf("Expected all test items to share a source type, got %d", len(results))
	}

	results, err = repo.Search(ctx, "diffusion", 20, 0, Filters{SourceTypes: []string{string(content.SourceTypeYouTube)}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no results for other source type, got %d", len(results))
	}
}

func TestSearch_EmptyAndWildcardQuery(t *testing.T) {
	repo := NewItemRepository(newTestDB(t))
	ctx := context.Background()

	if err := repo.UpsertItem(ctx, testItem("a", content.ContentTypeBlog, 5)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	results, err := repo.Search(ctx, "   ", 10, 0, Filters{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected empty result for blank query, got %d", len(results))
	}

	results, err = repo.Search(ctx, "%", 10, 0, Filters{})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected literal percent not to match everything, got %d", len(results))
	}
}

func TestSearch_MatchesListElements(t *testing.T) {
	repo := NewItemRepository(newTestDB(t))
	ctx := context.Background()

	telecom := testItem("telecom", content.ContentTypeNews, 5)
	telecom.Keywords = []string{"AT&T", "earnings"}
	other := testItem("other", content.ContentTypeNews, 6)
	other.Keywords = []string{"<b>bold</b>"}

	for _, item := range []content.Item{telecom, other} {
		if err := repo.UpsertItem(ctx, item); err != nil {
			t.Fatalf("Upsert %s failed: %v", item.ID, err)
		}
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"at&t", []string{"telecom"}},
		{"<b>", []string{"other"}},
		{"[", nil},
		{`","`, nil},
		{`"`, nil},
	}
	for _, tt := range tests {
		results, err := repo.Search(ctx, tt.query, 10, 0, Filters{})
		if err != nil {
			t.Fatalf("Search %q failed: %v", tt.query, err)
		}
		assertIDs(t, results, tt.want...)
	}

	stored, err := repo.GetItem(ctx, "telecom")
	if err != nil || stored == nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if stored.Keywords[0] != "AT&T" {
		t.Errorf("Expected keyword to round trip, got %v", stored.Keywords)
	}
}

func TestEncodeList(t *testing.T) {
	if got := encodeList([]string{"AT&T", "<x>"}); got != `["AT&T","<x>"]` {
		t.Errorf("Expected unescaped JSON, got %s", got)
	}
	if got := encodeList(nil); got != "[]" {
		t.Errorf("Expected empty array, got %s", got)
	}
}

func TestSetFlags(t *testing.T) {
	repo := NewItemRepository(newTestDB(t))
	ctx := context.Background()

	if err := repo.UpsertItem(ctx, testItem("a", content.ContentTypeBlog, 5)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	ok, err := repo.SetFlags(ctx, "missing", Flags{Bookmarked: boolPtr(true)})
	if err != nil {
		t.Fatalf("Expected no error for unknown id, got %v", err)
	}
	if ok {
		t.Error("Expected false for unknown id")
	}

	ok, err = repo.SetFlags(ctx, "a", Flags{})
	if err != nil || ok {
		t.Errorf("Expected false without flags, got %v, %v", ok, err)
	}

	ok, err = repo.SetFlags(ctx, "a", Flags{IsRead: boolPtr(true)})
	if err != nil || !ok {
		t.Fatalf("Expected success, got %v, %v", ok, err)
	}

	stored, _ := repo.GetItem(ctx, "a")
	if !stored.IsRead || stored.Bookmarked {
		t.Errorf("Expected only is_read to change, got %+v", stored)
	}
}

func TestGetBookmarked(t *testing.T) {
	repo := NewItemRepository(newTestDB(t))
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := repo.UpsertItem(ctx, testItem(id, content.ContentTypeBlog, 5)); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
	for _, id := range []string{"a", "c"} {
		if _, err := repo.SetFlags(ctx, id, Flags{Bookmarked: boolPtr(true)}); err != nil {
			t.Fatalf("SetFlags failed: %v", err)
		}
	}

	bookmarked, err := repo.GetBookmarked(ctx, 10, 0)
	if err != nil {
		t.Fatalf("GetBookmarked failed: %v", err)
	}
	if len(bookmarked) != 2 {
		t.Fatalf("Expected 2 bookmarked items, got %d", len(bookmarked))
	}
	for _, item := range bookmarked {
		if !item.Bookmarked {
			t.Errorf("Expected item %s to be bookmarked", item.ID)
		}
	}
}

func TestGetLatestSummaryAndStats(t *testing.T) {
	repo := NewItemRepository(newTestDB(t))
	ctx := context.Background()

	latest, err := repo.GetLatestSummary(ctx)
	if err != nil {
		t.Fatalf("GetLatestSummary failed: %v", err)
	}
	if latest != nil {
		t.Errorf("Expected nil for empty store, got %v", latest)
	}

	older := testItem("a", content.ContentTypePaper, 5)
	newer := testItem("b", content.ContentTypeVideo, 5)
	newer.ProcessedAt = older.ProcessedAt.Add(90 * time.Minute)
	for _, item := range []content.Item{older, newer} {
		if err := repo.UpsertItem(ctx, item); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
	if _, err := repo.SetFlags(ctx, "a", Flags{Bookmarked: boolPtr(true), IsRead: boolPtr(true)}); err != nil {
		t.Fatalf("SetFlags failed: %v", err)
	}

	latest, err = repo.GetLatestSummary(ctx)
	if err != nil {
		t.Fatalf("GetLatestSummary failed: %v", err)
	}
	if latest == nil || !latest.Equal(newer.ProcessedAt) {
		t.Errorf("Expected latest %v, got %v", newer.ProcessedAt, latest)
	}

	stats, err := repo.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.Total != 2 || stats.ByContentType["paper"] != 1 || stats.ByContentType["video"] != 1 {
		t.Errorf("Unexpected counts: %+v", stats)
	}
	if stats.Bookmarked != 1 || stats.Unread != 1 {
		t.Errorf("Expected 1 bookmarked and 1 unread, got %+v", stats)
	}
}

func TestVideoExtrasRestoredFromRawPayload(t *testing.T) {
	repo := NewItemRepository(newTestDB(t))
	ctx := context.Background()

	video := testItem("vid", content.ContentTypeVideo, 5)
	video.Duration = "PT12M3S"
	video.ViewCount = 1200
	video.LikeCount = 34
	if err := repo.UpsertItem(ctx, video); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	stored, err := repo.GetItem(ctx, "vid")
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if stored.Duration != "PT12M3S" || stored.ViewCount != 1200 || stored.LikeCount != 34 {
		t.Errorf("Expected video extras, got %+v", stored)
	}
}

func TestGetItem_NotFound(t *testing.T) {
	repo := NewItemRepository(newTestDB(t))

	item, err := repo.GetItem(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if item != nil {
		t.Errorf("Expected nil item, got %+v", item)
	}
}

func assertIDs(t *testing.T, items []content.Item, expected ...string) {
	t.Helper()
	if len(items) != len(expected) {
		ids := make([]string, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ID)
		}
		t.Fatalf("Expected ids %v, got %v", expected, ids)
	}
	for i, id := range expected {
		if items[i].ID != id {
			t.Errorf("Position %d: expected %s, got %s", i, id, items[i].ID)
		}
	}
}

func TestUpsertItems_SkipsConstraintViolations(t *testing.T) {
	repo := NewItemRepository(newTestDB(t))
	ctx := context.Background()

	a := testItem("a", content.ContentTypeNews, 5)
	b := testItem("b", content.ContentTypeNews, 5)
	b.URL = a.URL
	c := testItem("c", content.ContentTypeNews, 5)

	summary, err := repo.UpsertItems(ctx, []content.Item{a, b, c})
	if err != nil {
		t.Fatalf("UpsertItems failed: %v", err)
	}
	if summary.Stored != 2 {
		t.Errorf("Expected 2 stored, got %d", summary.Stored)
	}
	if len(summary.Skipped) != 1 || summary.Skipped[0] != "b" {
		t.Errorf("Expected 'b' to be skipped, got %v", summary.Skipped)
	}
}
