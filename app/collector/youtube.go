package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/lysyi3m/aifeed/app/cfg"
	"github.com/lysyi3m/aifeed/app/content"
	"github.com/lysyi3m/aifeed/app/feed"
	"github.com/lysyi3m/aifeed/app/fetcher"
)

const DefaultYouTubeURL = "https://www.googleapis.com/youtube/v3"

type YouTube struct {
	BaseURL  string
	config   cfg.YouTubeSource
	apiKey   string
	fetcher  Fetcher
	filterer *feed.Filterer
	logger   *slog.Logger
}

type thumbnail struct {
	URL string `json:"url"`
}

type videoSnippet struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	ChannelTitle string `json:"channelTitle"`
	PublishedAt  string `json:"publishedAt"`
	Thumbnails   struct {
		Default *thumbnail `json:"default"`
		Medium  *thumbnail `json:"medium"`
		High    *thumbnail `json:"high"`
	} `json:"thumbnails"`
}

func (s videoSnippet) thumbnailURL() string {
	for _, t := range []*thumbnail{s.Thumbnails.High, s.Thumbnails.Medium, s.Thumbnails.Default} {
		if t != nil && t.URL != "" {
			return t.URL
		}
	}
	return ""
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet videoSnippet `json:"snippet"`
	} `json:"items"`
}

type videosResponse struct {
	Items []videoDetails `json:"items"`
}

type videoDetails struct {
	ID             string `json:"id"`
	ContentDetails struct {
		Duration string `json:"duration"`
	} `json:"contentDetails"`
	Statistics struct {
		ViewCount string `json:"viewCount"`
		LikeCount string `json:"likeCount"`
	} `json:"statistics"`
}

func NewYouTube(config cfg.YouTubeSource, apiKey string, fetcher Fetcher, logger *slog.Logger) *YouTube {
	return &YouTube{
		BaseURL:  DefaultYouTubeURL,
		config:   config,
		apiKey:   apiKey,
		fetcher:  fetcher,
		filterer: feed.NewFilterer(config.Keywords),
		logger:   logger.With("source", content.SourceTypeYouTube),
	}
}

func (y *YouTube) Name() content.SourceType {
	return content.SourceTypeYouTube
}

// Collect lists recent uploads per channel, keeps keyword matches and
// decorates them with duration and statistics. A failing channel is skipped;
// the source fails only when no channel could be read. An exhausted API
// quota ends the run early since every later channel would fail the same way.
func (y *YouTube) Collect(ctx context.Context) ([]content.Item, error) {
	perChannel := perSource(y.config.MaxResults, len(y.config.Channels))

	var items []content.Item
	var errs []error
	succeeded := 0
	for _, channelID := range y.config.Channels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		channelItems, err := y.collectChannel(ctx, channelID, perChannel)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", channelID, err))
			if fetcher.QuotaExceeded(err) {
				y.logger.Warn("YouTube API quota exhausted, skipping remaining channels",
					"channel", channelID, "status", fetcher.StatusCode(err))
				break
			}
			y.logger.Warn("Skipping channel", "channel", channelID, "error", err)
			continue
		}
		succeeded++
		items = append(items, channelItems...)
	}

	if succeeded == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("all youtube channels failed: %w", errors.Join(errs...))
	}

	y.logger.Info("Collected videos", "count", len(items))
	return keep(items, y.logger), nil
}

func (y *YouTube) collectChannel(ctx context.Context, channelID string, maxResults int) ([]content.Item, error) {
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("channelId", channelID)
	params.Set("maxResults", strconv.Itoa(maxResults))
	params.Set("order", "date")
	params.Set("type", "video")
	params.Set("key", y.apiKey)

	data, err := y.fetcher.FetchWithParams(ctx, y.BaseURL+"/search", params, 0)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	var search searchResponse
	if err := json.Unmarshal(data, &search); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	var items []content.Item
	var ids []string
	for _, hit := range search.Items {
		if hit.ID.VideoID == "" {
			continue
		}
		if ok, _ := y.filterer.Match(hit.Snippet.Title, hit.Snippet.Description); !ok {
			continue
		}

		ids = append(ids, hit.ID.VideoID)
		items = append(items, content.Item{
			ID:          hit.ID.VideoID,
			Title:       strings.TrimSpace(hit.Snippet.Title),
			URL:         "https://www.youtube.com/watch?v=" + hit.ID.VideoID,
			Source:      "youtube",
			SourceType:  content.SourceTypeYouTube,
			ContentType: content.ContentTypeVideo,
			Description: hit.Snippet.Description,
			Channel:     hit.Snippet.ChannelTitle,
			Published:   hit.Snippet.PublishedAt,
			Thumbnail:   hit.Snippet.thumbnailURL(),
		})
	}

	if len(ids) == 0 {
		return items, nil
	}

	details, err := y.fetchDetails(ctx, ids)
	if err != nil {
		y.logger.Warn("Could not fetch video details", "channel", channelID, "error", err)
		return items, nil
	}

	for i := range items {
		d, ok := details[items[i].ID]
		if !ok {
			continue
		}
		items[i].Duration = d.ContentDetails.Duration
		items[i].ViewCount, _ = strconv.ParseInt(d.Statistics.ViewCount, 10, 64)
		items[i].LikeCount, _ = strconv.ParseInt(d.Statistics.LikeCount, 10, 64)
	}

	return items, nil
}

func (y *YouTube) fetchDetails(ctx context.Context, ids []string) (map[string]videoDetails, error) {
	params := url.Values{}
	params.Set("part", "snippet,contentDetails,statistics")
	params.Set("id", strings.Join(ids, ","))
	params.Set("key", y.apiKey)

	data, err := y.fetcher.FetchWithParams(ctx, y.BaseURL+"/videos", params, 0)
	if err != nil {
		return nil, err
	}

	var resp videosResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode videos response: %w", err)
	}

	details := make(map[string]videoDetails, len(resp.Items))
	for _, v := range resp.Items {
		details[v.ID] = v
	}
	return details, nil
}
