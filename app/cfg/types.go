package cfg

import "time"

type Cfg struct {
	Command string

	// Storage
	DBPath         string
	BackupDir      string
	BackupInterval time.Duration

	// Application configuration
	SourcesFile       string
	Port              string
	BaseUrl           string
	APIAccessKey      string
	SchedulerInterval time.Duration
	Concurrency       int

	// Fetching
	UserAgent       string
	FetchTimeout    time.Duration
	FetchRetries    int
	FetchBackoff    time.Duration
	MaxArticleChars int

	// Credentials
	AnthropicAPIKey  string
	AnthropicModel   string
	AnthropicBaseURL string
	NewsAPIKey       string
	YouTubeAPIKey    string

	// Enrichment
	RateLimitCooldown time.Duration

	LogLevel  string
	Confirmed bool
	Version   string
}
