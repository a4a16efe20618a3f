package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/aifeed/app/content"
	"github.com/lysyi3m/aifeed/app/database"
	"github.com/lysyi3m/aifeed/app/feed"
	"github.com/lysyi3m/aifeed/app/pipeline"
)

const feedItemLimit = 50

func NewHandler(service ItemService, baseURL, version string) *Handler {
	return &Handler{
		service:   service,
		generator: feed.NewGenerator(),
		baseURL:   strings.TrimRight(baseURL, "/"),
		version:   version,
	}
}

func (h *Handler) GetFeed(c *gin.Context) {
	contentType, ok := content.ParseContentType(c.Param("type"))
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	filters, err := parseFilters(c)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	limit, err := intQuery(c, "limit", feedItemLimit)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.service.GetByType(c.Request.Context(), contentType, 1, limit, filters)
	if err != nil {
		slog.Error("Database error", "operation", "get_items", "type", contentType, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	channel := feed.Channel{
		Title:       fmt.Sprintf("AIFeed: %s", contentType),
		Link:        h.baseURL,
		Description: fmt.Sprintf("Top ranked %s items", contentType),
		SelfLink:    h.baseURL + c.Request.URL.Path,
		Version:     h.version,
	}

	rss, err := h.generator.Run(channel, page.Items)
	if err != nil {
		slog.Error("RSS generation error", "type", contentType, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", "application/rss+xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(len(page.Items)))
	c.Header("X-Feed-Type", string(contentType))

	c.String(http.StatusOK, rss)
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]any{
		"status":     "ok",
		"timestamp":  time.Now().In(time.Local).Format(time.RFC3339),
		"refreshing": h.service.Refreshing(),
	}

	if latest, err := h.service.LatestSummary(c.Request.Context()); err == nil && latest != nil {
		health["last_update"] = latest.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) APIGetItems(c *gin.Context) {
	contentType, ok := content.ParseContentType(c.Param("type"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown content type", "type": c.Param("type")})
		return
	}

	page, limit, err := parsePaging(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filters, err := parseFilters(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.GetByType(c.Request.Context(), contentType, page, limit, filters)
	if err != nil {
		slog.Error("Database error", "operation", "get_items", "type", contentType, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) APISearch(c *gin.Context) {
	query := c.Query("q")

	page, limit, err := parsePaging(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filters, err := parseFilters(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.Search(c.Request.Context(), query, page, limit, filters)
	if err != nil {
		slog.Error("Database error", "operation", "search", "query", query, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"query":    query,
		"items":    result.Items,
		"page":     result.Page,
		"limit":    result.Limit,
		"has_more": result.HasMore,
	})
}

func (h *Handler) APIGetBookmarks(c *gin.Context) {
	page, limit, err := parsePaging(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.GetBookmarked(c.Request.Context(), page, limit)
	if err != nil {
		slog.Error("Database error", "operation", "get_bookmarked", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) APISetFlags(c *gin.Context) {
	id := c.Param("id")

	var flags database.Flags
	if err := c.ShouldBindJSON(&flags); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if flags.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Provide bookmarked and/or is_read"})
		return
	}

	updated, err := h.service.SetFlags(c.Request.Context(), id, flags)
	if err != nil {
		slog.Error("Database error", "operation", "set_flags", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if !updated {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found", "id": id})
		return
	}

	item, err := h.service.GetItem(c.Request.Context(), id)
	if err != nil || item == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "id": id, "item": item})
}

func (h *Handler) APIGetSummary(c *gin.Context) {
	latest, err := h.service.LatestSummary(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "latest_summary", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"last_update": latest,
		"refreshing":  h.service.Refreshing(),
	})
}

func (h *Handler) APIGetStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "get_stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// APIRefresh runs one cycle synchronously. The cycle outlives a client
// disconnect so watermarks are not left half advanced.
func (h *Handler) APIRefresh(c *gin.Context) {
	result, err := h.service.Refresh(context.WithoutCancel(c.Request.Context()))
	if errors.Is(err, pipeline.ErrRefreshInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "Refresh already in progress"})
		return
	}
	if err != nil {
		slog.Error("Refresh failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Refresh failed", "details": err.Error()})
		return
	}

	status := http.StatusOK
	if result.Status != pipeline.StatusSuccess {
		status = http.StatusInternalServerError
	}

	c.JSON(status, result)
}

func parsePaging(c *gin.Context) (int, int, error) {
	page, err := intQuery(c, "page", 1)
	if err != nil {
		return 0, 0, err
	}
	limit, err := intQuery(c, "limit", pipeline.DefaultPageSize)
	if err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

func parseFilters(c *gin.Context) (database.Filters, error) {
	var filters database.Filters

	minImportance, err := intQuery(c, "min_importance", 0)
	if err != nil {
		return filters, err
	}
	if minImportance > 10 {
		return filters, fmt.Errorf("min_importance must be between 0 and 10")
	}
	filters.MinImportance = minImportance

	for _, topic := range splitQuery(c.QueryArray("topic")) {
		name, ok := content.CanonicalCategory(topic)
		if !ok && strings.EqualFold(topic, content.Uncategorized) {
			name, ok = content.Uncategorized, true
		}
		if !ok {
			return filters, fmt.Errorf("unknown topic %q", topic)
		}
		filters.Topics = append(filters.Topics, name)
	}

	filters.SourceTypes = splitQuery(c.QueryArray("source"))

	return filters, nil
}

func intQuery(c *gin.Context, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s parameter: %q", key, raw)
	}
	return v, nil
}

// splitQuery accepts both repeated and comma separated values.
func splitQuery(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
