package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/lysyi3m/aifeed/app/content"
)

const upsertItemQuery = `
	INSERT INTO items (
		id, title, url, source, source_type, content_type,
		description, summary, authors, published, thumbnail,
		categories, keywords, importance_score, channel, raw_data,
		processed_at, last_fetched_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = EXCLUDED.title,
		url = EXCLUDED.url,
		source = EXCLUDED.source,
		source_type = EXCLUDED.source_type,
		content_type = EXCLUDED.content_type,
		description = EXCLUDED.description,
		summary = EXCLUDED.summary,
		authors = EXCLUDED.authors,
		published = EXCLUDED.published,
		thumbnail = EXCLUDED.thumbnail,
		categories = EXCLUDED.categories,
		keywords = EXCLUDED.keywords,
		importance_score = EXCLUDED.importance_score,
		channel = EXCLUDED.channel,
		raw_data = EXCLUDED.raw_data,
		processed_at = EXCLUDED.processed_at,
		last_fetched_at = EXCLUDED.last_fetched_at`

var (
	searchColumns = []string{"title", "description", "summary"}
	listColumns   = []string{"keywords", "categories"}
)

type itemRepository struct {
	db  *DB
	now func() time.Time
}

func NewItemRepository(db *DB) ItemRepository {
	return &itemRepository{db: db, now: time.Now}
}

// UpsertItem inserts the item or replaces every source-derived field of the
// stored row. Bookmark and read flags are never touched.
func (r *itemRepository) UpsertItem(ctx context.Context, item content.Item) error {
	raw, err := item.RawPayload()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, upsertItemQuery,
		item.ID, item.Title, nullString(item.URL), nullString(item.Source),
		nullString(string(item.SourceType)), string(item.ContentType),
		nullString(item.Description), nullString(item.Summary), nullString(item.Authors),
		nullString(item.Published), nullString(item.Thumbnail),
		encodeList(item.Categories), encodeList(item.Keywords), item.ImportanceScore,
		nullString(item.Channel), raw,
		formatTimestamp(item.ProcessedAt), formatTimestamp(r.now()),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return &ConstraintError{ItemID: item.ID, Err: err}
		}
		return fmt.Errorf("failed to upsert item: %w", err)
	}

	return nil
}

// UpsertItems stores items one by one. Constraint violations are skipped and
// reported; any other failure aborts the batch.
func (r *itemRepository) UpsertItems(ctx context.Context, items []content.Item) (UpsertSummary, error) {
	var summary UpsertSummary
	for _, item := range items {
		err := r.UpsertItem(ctx, item)
		if errors.Is(err, ErrConstraint) {
			summary.Skipped = append(summary.Skipped, item.ID)
			continue
		}
		if err != nil {
			return summary, err
		}
		summary.Stored++
	}
	return summary, nil
}

func (r *itemRepository) GetItem(ctx context.Context, id string) (*content.Item, error) {
	query, args, err := r.selectItems().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var row itemRow
	err = r.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	item := row.toItem()
	return &item, nil
}

// GetByType returns items of one content type, most important first.
func (r *itemRepository) GetByType(ctx context.Context, contentType content.ContentType, limit, offset int, filters Filters) ([]content.Item, error) {
	builder := r.selectItems().Where(sq.Eq{"content_type": string(contentType)})
	builder = applyFilters(builder, filters)

	return r.list(ctx, paginate(ranked(builder), limit, offset))
}

// Search matches query case-insensitively against title, description,
// summary, keywords and categories. A blank query matches nothing.
func (r *itemRepository) Search(ctx context.Context, query string, limit, offset int, filters Filters) ([]content.Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []content.Item{}, nil
	}

	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	anyColumn := sq.Or{}
	for _, column := range searchColumns {
		anyColumn = append(anyColumn, sq.Expr(fmt.Sprintf("LOWER(%s) LIKE ? ESCAPE '\\'", column), pattern))
	}
	// List columns hold JSON arrays; match their elements, not the encoding.
	for _, column := range listColumns {
		anyColumn = append(anyColumn, sq.Expr(
			fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE LOWER(json_each.value) LIKE ? ESCAPE '\\')", column), pattern))
	}

	builder := applyFilters(r.selectItems().Where(anyColumn), filters)

	return r.list(ctx, paginate(ranked(builder), limit, offset))
}

func (r *itemRepository) GetBookmarked(ctx context.Context, limit, offset int) ([]content.Item, error) {
	builder := r.selectItems().Where(sq.Eq{"bookmarked": 1}).OrderBy("last_fetched_at DESC", "id")

	return r.list(ctx, paginate(builder, limit, offset))
}

// SetFlags updates the supplied flags. It reports false when the item does
// not exist or no flag was supplied.
func (r *itemRepository) SetFlags(ctx context.Context, id string, flags Flags) (bool, error) {
	if flags.Empty() {
		return false, nil
	}

	builder := sq.Update("items").Where(sq.Eq{"id": id}).PlaceholderFormat(sq.Question)
	if flags.Bookmarked != nil {
		builder = builder.Set("bookmarked", *flags.Bookmarked)
	}
	if flags.IsRead != nil {
		builder = builder.Set("is_read", *flags.IsRead)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update item flags: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected > 0, nil
}

// GetLatestSummary returns the most recent enrichment time, or nil for an
// empty store.
func (r *itemRepository) GetLatestSummary(ctx context.Context) (*time.Time, error) {
	var latest sql.NullString
	if err := r.db.GetContext(ctx, &latest, "SELECT MAX(processed_at) FROM items"); err != nil {
		return nil, fmt.Errorf("failed to get latest update: %w", err)
	}

	t := parseTimestamp(latest)
	if t.IsZero() {
		return nil, nil
	}
	return &t, nil
}

func (r *itemRepository) GetStats(ctx context.Context) (*Stats, error) {
	var counts []struct {
		ContentType string `db:"content_type"`
		Count       int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &counts, "SELECT content_type, COUNT(*) AS count FROM items GROUP BY content_type"); err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}

	stats := &Stats{ByContentType: make(map[string]int, len(counts))}
	for _, c := range counts {
		stats.ByContentType[c.ContentType] = c.Count
		stats.Total += c.Count
	}

	var flags struct {
		Bookmarked sql.NullInt64 `db:"bookmarked"`
		Unread     sql.NullInt64 `db:"unread"`
	}
	err := r.db.GetContext(ctx, &flags, `
		SELECT
			SUM(CASE WHEN bookmarked = 1 THEN 1 ELSE 0 END) AS bookmarked,
			SUM(CASE WHEN is_read = 0 THEN 1 ELSE 0 END) AS unread
		FROM items`)
	if err != nil {
		return nil, fmt.Errorf("failed to count flags: %w", err)
	}
	stats.Bookmarked = int(flags.Bookmarked.Int64)
	stats.Unread = int(flags.Unread.Int64)

	if stats.LastUpdate, err = r.GetLatestSummary(ctx); err != nil {
		return nil, err
	}

	return stats, nil
}

func (r *itemRepository) selectItems() sq.SelectBuilder {
	return sq.Select(itemColumns...).From("items").PlaceholderFormat(sq.Question)
}

func (r *itemRepository) list(ctx context.Context, builder sq.SelectBuilder) ([]content.Item, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var rows []itemRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}

	items := make([]content.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toItem())
	}
	return items, nil
}

func applyFilters(builder sq.SelectBuilder, filters Filters) sq.SelectBuilder {
	if filters.MinImportance > 0 {
		builder = builder.Where(sq.GtOrEq{"importance_score": filters.MinImportance})
	}

	if len(filters.Topics) > 0 {
		anyTopic := sq.Or{}
		for _, topic := range filters.Topics {
			anyTopic = append(anyTopic, sq.Expr(`EXISTS (SELECT 1 FROM json_each(categories) WHERE json_each.value = ?)`, topic))
		}
		builder = builder.Where(anyTopic)
	}

	if len(filters.SourceTypes) > 0 {
		builder = builder.Where(sq.Eq{"source_type": filters.SourceTypes})
	}

	return builder
}

func ranked(builder sq.SelectBuilder) sq.SelectBuilder {
	return builder.OrderBy("importance_score DESC", "published DESC", "id")
}

func paginate(builder sq.SelectBuilder, limit, offset int) sq.SelectBuilder {
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	if offset > 0 {
		if limit <= 0 {
			builder = builder.Limit(math.MaxInt64)
		}
		builder = builder.Offset(uint64(offset))
	}
	return builder
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
