package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/lysyi3m/aifeed/app/cfg"
	"github.com/lysyi3m/aifeed/app/content"
	"github.com/lysyi3m/aifeed/app/feed"
)

const DefaultArxivURL = "https://export.arxiv.org/api/query"

type Arxiv struct {
	BaseURL string
	config  cfg.ArxivSource
	fetcher Fetcher
	parser  *feed.Parser
	logger  *slog.Logger
}

func NewArxiv(config cfg.ArxivSource, fetcher Fetcher, logger *slog.Logger) *Arxiv {
	return &Arxiv{
		BaseURL: DefaultArxivURL,
		config:  config,
		fetcher: fetcher,
		parser:  feed.NewParser(),
		logger:  logger.With("source", content.SourceTypeArxiv),
	}
}

func (a *Arxiv) Name() content.SourceType {
	return content.SourceTypeArxiv
}

// Collect queries the newest submissions across the configured categories.
func (a *Arxiv) Collect(ctx context.Context) ([]content.Item, error) {
	terms := make([]string, 0, len(a.config.Categories))
	for _, category := range a.config.Categories {
		terms = append(terms, "cat:"+category)
	}

	params := url.Values{}
	params.Set("search_query", strings.Join(terms, " OR "))
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")
	params.Set("max_results", strconv.Itoa(a.config.MaxResults))

	data, err := a.fetcher.FetchWithParams(ctx, a.BaseURL, params, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to query arxiv: %w", err)
	}

	_, entries, err := a.parser.Run(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse arxiv response: %w", err)
	}

	items := make([]content.Item, 0, len(entries))
	for _, entry := range entries {
		link := entry.LinkContaining("/pdf/")
		if link == "" {
			link = entry.Link
		}

		items = append(items, content.Item{
			ID:          idTail(entry.GUID),
			Title:       content.NormalizeText(entry.Title),
			URL:         link,
			Source:      "arxiv",
			SourceType:  content.SourceTypeArxiv,
			ContentType: content.ContentTypePaper,
			Description: content.NormalizeText(entry.Summary()),
			Authors:     strings.Join(entry.Authors, ", "),
			Published:   entry.Published.String(),
		})
	}

	a.logger.Info("Collected papers", "count", len(items))
	return keep(items, a.logger), nil
}
