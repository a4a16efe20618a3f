package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lysyi3m/aifeed/app/cfg"
	"github.com/lysyi3m/aifeed/app/content"
	"github.com/lysyi3m/aifeed/app/feed"
	"github.com/lysyi3m/aifeed/app/fetcher"
)

const DefaultNewsURL = "https://newsapi.org/v2/everything"

type News struct {
	BaseURL   string
	config    cfg.NewsSource
	apiKey    string
	fetcher   Fetcher
	extractor Extractor
	logger    *slog.Logger
	now       func() time.Time
}

type newsResponse struct {
	Status   string        `json:"status"`
	Code     string        `json:"code"`
	Message  string        `json:"message"`
	Articles []newsArticle `json:"articles"`
}

type newsArticle struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
}

func NewNews(config cfg.NewsSource, apiKey string, fetcher Fetcher, extractor Extractor, logger *slog.Logger) *News {
	return &News{
		BaseURL:   DefaultNewsURL,
		config:    config,
		apiKey:    apiKey,
		fetcher:   fetcher,
		extractor: extractor,
		logger:    logger.With("source", content.SourceTypeNews),
		now:       time.Now,
	}
}

func (n *News) Name() content.SourceType {
	return content.SourceTypeNews
}

// Collect searches recent English-language articles matching any keyword.
func (n *News) Collect(ctx context.Context) ([]content.Item, error) {
	quoted := make([]string, 0, len(n.config.Keywords))
	for _, keyword := range n.config.Keywords {
		quoted = append(quoted, strconv.Quote(keyword))
	}

	params := url.Values{}
	params.Set("q", strings.Join(quoted, " OR "))
	params.Set("from", n.now().AddDate(0, 0, -n.config.WindowDays).Format(time.DateOnly))
	params.Set("sortBy", "publishedAt")
	params.Set("language", "en")
	params.Set("pageSize", strconv.Itoa(n.config.MaxResults))
	params.Set("apiKey", n.apiKey)

	data, err := n.fetcher.FetchWithParams(ctx, n.BaseURL, params, 0)
	if err != nil {
		if fetcher.QuotaExceeded(err) {
			n.logger.Warn("News API quota exhausted", "status", fetcher.StatusCode(err))
		}
		return nil, fmt.Errorf("failed to query news api: %w", err)
	}

	var resp newsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode news api response: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("news api returned status %q: %s %s", resp.Status, resp.Code, resp.Message)
	}

	items := make([]content.Item, 0, len(resp.Articles))
	for _, article := range resp.Articles {
		source := article.Source.Name
		if source == "" {
			source = "Unknown"
		}

		items = append(items, content.Item{
			ID:          idTail(article.URL),
			Title:       strings.TrimSpace(article.Title),
			URL:         article.URL,
			Source:      source,
			SourceType:  content.SourceTypeNews,
			ContentType: content.ContentTypeNews,
			Description: content.Truncate(feed.HTMLToText(article.Description), descriptionChars),
			Authors:     article.Author,
			Published:   article.PublishedAt,
			Thumbnail:   article.URLToImage,
			FullText:    fullText(ctx, n.extractor, article.URL, n.logger),
		})
	}

	n.logger.Info("Collected articles", "count", len(items))
	return keep(items, n.logger), nil
}
