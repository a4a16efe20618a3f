package enrichment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lysyi3m/aifeed/app/content"
)

const (
	DefaultModel             = "claude-3-5-haiku-latest"
	DefaultMaxTokens         = 512
	DefaultTemperature       = 0.1
	DefaultRateLimitCooldown = 10 * time.Second

	summaryMaxTokens   = summaryChars / 2
	summaryTemperature = 0.2
)

// Fallback reasons reported to the FallbackRecorder.
const (
	ReasonDisabled    = "disabled"
	ReasonRequest     = "request"
	ReasonRateLimited = "rate_limited"
	ReasonParse       = "parse"
)

type Config struct {
	APIKey            string
	Model             string
	BaseURL           string
	MaxTokens         int64
	Temperature       *float64
	RateLimitCooldown time.Duration
}

// FallbackRecorder counts items that received the default analysis.
type FallbackRecorder interface {
	EnrichmentFallback(reason string)
}

// Service annotates items with categories, importance, keywords and a short
// summary. Without an API key it runs disabled and never calls the model.
type Service struct {
	client   *anthropic.Client
	cfg      Config
	recorder FallbackRecorder
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewService(cfg Config, recorder FallbackRecorder, logger *slog.Logger) *Service {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == nil {
		temperature := DefaultTemperature
		cfg.Temperature = &temperature
	}
	if cfg.RateLimitCooldown <= 0 {
		cfg.RateLimitCooldown = DefaultRateLimitCooldown
	}

	s := &Service{
		cfg:      cfg,
		recorder: recorder,
		logger:   logger.With("component", "enrichment"),
		now:      time.Now,
		sleep:    sleep,
	}

	if strings.TrimSpace(cfg.APIKey) != "" {
		opts := []option.RequestOption{
			option.WithAPIKey(cfg.APIKey),
			option.WithMaxRetries(0),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		client := anthropic.NewClient(opts...)
		s.client = &client
	}

	return s
}

func (s *Service) Enabled() bool {
	return s.client != nil
}

// Enrich analyzes a single item. It always returns a usable item; failures
// degrade to the default analysis.
func (s *Service) Enrich(ctx context.Context, item content.Item) content.Item {
	if !s.Enabled() {
		return s.disabled(item)
	}

	enriched, err := s.analyze(ctx, item)
	if err == nil {
		enriched.ProcessedAt = s.now()
		return enriched
	}

	var rateLimitErr *RateLimitError
	var parseErr *ParseError
	switch {
	case errors.As(err, &rateLimitErr):
		s.logger.Warn("Model API rate limit exceeded, cooling down", "item", item.ID, "cooldown", s.cfg.RateLimitCooldown)
		s.fallback(ReasonRateLimited)
		if err := s.sleep(ctx, s.cfg.RateLimitCooldown); err != nil {
			s.logger.Debug("Cooldown interrupted", "error", err)
		}
	case errors.As(err, &parseErr):
		s.logger.Warn("Could not parse model analysis", "item", item.ID, "error", err, "response", content.Clip(parseErr.Response, 200))
		s.fallback(ReasonParse)
	default:
		s.logger.Error("Model analysis failed", "item", item.ID, "error", err)
		s.fallback(ReasonRequest)
	}

	enriched = defaultAnalysis(item, fallbackScore)
	enriched.ProcessedAt = s.now()
	return enriched
}

// BatchEnrich enriches items sequentially, preserving order and count.
func (s *Service) BatchEnrich(ctx context.Context, items []content.Item) []content.Item {
	if len(items) == 0 {
		return items
	}

	if !s.Enabled() {
		s.logger.Info("Anthropic API key not set, using default analysis", "items", len(items))
	}

	enriched := make([]content.Item, 0, len(items))
	for _, item := range items {
		enriched = append(enriched, s.Enrich(ctx, item))
	}
	return enriched
}

func (s *Service) analyze(ctx context.Context, item content.Item) (content.Item, error) {
	reply, err := s.complete(ctx, systemPrompt, buildPrompt(item), s.cfg.MaxTokens, *s.cfg.Temperature)
	if err != nil {
		return item, err
	}

	analysis, err := parseAnalysis(reply)
	if err != nil {
		return item, err
	}

	if strings.TrimSpace(analysis.Summary) == "" && strings.TrimSpace(item.Summary) == "" {
		analysis.Summary = s.summarize(ctx, item)
	}

	return apply(item, analysis), nil
}

// summarize asks the model for a short summary when the analysis lacked
// one. An empty result leaves the truncation fallback in place.
func (s *Service) summarize(ctx context.Context, item content.Item) string {
	text := strings.TrimSpace(item.AnalysisText())
	if text == "" {
		return ""
	}

	reply, err := s.complete(ctx, summarySystemPrompt, buildSummaryPrompt(text), summaryMaxTokens, summaryTemperature)
	if err != nil {
		s.logger.Warn("Summary generation failed, truncating source text", "item", item.ID, "error", err)
		var rateLimitErr *RateLimitError
		if errors.As(err, &rateLimitErr) {
			if err := s.sleep(ctx, s.cfg.RateLimitCooldown); err != nil {
				s.logger.Debug("Cooldown interrupted", "error", err)
			}
		}
		return ""
	}
	return content.Clip(strings.TrimSpace(reply), summaryChars)
}

func (s *Service) complete(ctx context.Context, system, prompt string, maxTokens int64, temperature float64) (string, error) {
	msg, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(s.cfg.Model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return "", &RateLimitError{Cooldown: s.cfg.RateLimitCooldown, Err: err}
		}
		return "", fmt.Errorf("failed to call model API: %w", err)
	}

	var reply strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}
	return reply.String(), nil
}

func (s *Service) disabled(item content.Item) content.Item {
	s.fallback(ReasonDisabled)
	score := item.ImportanceScore
	if score == 0 {
		score = neutralScore
	}
	enriched := defaultAnalysis(item, score)
	enriched.ProcessedAt = s.now()
	return enriched
}

func (s *Service) fallback(reason string) {
	if s.recorder != nil {
		s.recorder.EnrichmentFallback(reason)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
