package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultMaxRetries    = 3
	DefaultBackoffFactor = 300 * time.Millisecond
	DefaultMaxBackoff    = 10 * time.Second
	DefaultMaxBodyBytes  = 5 << 20
)

type Config struct {
	UserAgent     string
	Timeout       time.Duration
	MaxRetries    int
	BackoffFactor time.Duration
	MaxBackoff    time.Duration
	MaxBodyBytes  int64
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = DefaultBackoffFactor
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return c
}

// Fetcher performs GET requests with bounded retries on transient failures.
type Fetcher struct {
	client *http.Client
	cfg    Config
	logger *slog.Logger
}

func New(client *http.Client, cfg Config, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client: client,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "fetcher"),
	}
}

// Fetch downloads rawURL. A zero timeout uses the configured default.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	return f.FetchWithParams(ctx, rawURL, nil, timeout)
}

// FetchWithParams downloads rawURL with params merged into its query string.
func (f *Fetcher) FetchWithParams(ctx context.Context, rawURL string, params url.Values, timeout time.Duration) ([]byte, error) {
	target, err := buildURL(rawURL, params)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}

	var lastErr *FetchError
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := f.backoff(attempt)
			f.logger.Debug("Retrying request", "url", rawURL, "attempt", attempt, "delay", delay, "error", lastErr.Err)
			if err := sleep(ctx, delay); err != nil {
				lastErr.Err = err
				return nil, lastErr
			}
		}

		data, fetchErr := f.do(ctx, target, timeout)
		if fetchErr == nil {
			return data, nil
		}
		fetchErr.URL = rawURL
		fetchErr.Attempts = attempt + 1
		lastErr = fetchErr

		if ctx.Err() != nil || !fetchErr.Retryable() {
			return nil, lastErr
		}
	}

	f.logger.Warn("Request failed after retries", "url", rawURL, "attempts", lastErr.Attempts, "status", lastErr.StatusCode, "error", lastErr.Err)
	return nil, lastErr
}

func (f *Fetcher) do(ctx context.Context, target string, timeout time.Duration) ([]byte, *FetchError) {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Err: fmt.Errorf("failed to fetch: %w", err), network: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("HTTP error: %s", resp.Status)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		return nil, &FetchError{Err: fmt.Errorf("failed to read response body: %w", err), network: true}
	}
	return data, nil
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(f.cfg.BackoffFactor) * math.Pow(2, float64(attempt-1)))
	return min(delay, f.cfg.MaxBackoff)
}

func buildURL(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
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

// QuotaExceeded reports whether err is a 429, or the 403 API providers
// answer with once a daily quota is spent.
func QuotaExceeded(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	return fe.RateLimited() || fe.StatusCode == http.StatusForbidden
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}
