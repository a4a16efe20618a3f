package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/lysyi3m/aifeed/app/content"
)

// Filters narrow item queries. Zero values mean no restriction.
type Filters struct {
	MinImportance int
	Topics        []string
	SourceTypes   []string
}

// Flags carries user annotations to set. Nil fields are left unchanged.
type Flags struct {
	Bookmarked *bool `json:"bookmarked"`
	IsRead     *bool `json:"is_read"`
}

func (f Flags) Empty() bool {
	return f.Bookmarked == nil && f.IsRead == nil
}

type Stats struct {
	Total         int            `json:"total"`
	ByContentType map[string]int `json:"by_content_type"`
	Bookmarked    int            `json:"bookmarked"`
	Unread        int            `json:"unread"`
	LastUpdate    *time.Time     `json:"last_update,omitempty"`

	// Sources is filled by callers that also hold the watermark store.
	Sources []content.Watermark `json:"sources,omitempty"`
}

// UpsertSummary reports a batch upsert. Skipped holds ids rejected by a
// store constraint.
type UpsertSummary struct {
	Stored  int
	Skipped []string
}

var ErrConstraint = errors.New("constraint violation")

// ConstraintError reports an item rejected by a uniqueness rule, typically a
// URL already stored under a different id.
type ConstraintError struct {
	ItemID string
	Err    error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("item %s violates a store constraint: %v", e.ItemID, e.Err)
}

func (e *ConstraintError) Unwrap() []error {
	return []error{ErrConstraint, e.Err}
}

func isConstraintViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT:
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
