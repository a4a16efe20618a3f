package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

var Commands = []string{"serve", "refresh", "scheduler", "stats", "backup", "clear"}

type rawCfg struct {
	// Storage
	DBPath         string        `long:"db-path" env:"DB_PATH" default:"./aifeed.db" description:"SQLite database file"`
	BackupDir      string        `long:"backup-dir" env:"BACKUP_DIR" default:"./backups" description:"Directory for database backups"`
	BackupInterval time.Duration `long:"backup-interval" env:"BACKUP_INTERVAL" default:"0s" description:"Interval between scheduled backups (0 disables them)"`

	// Application configuration
	SourcesFile       string        `long:"sources-file" env:"SOURCES_FILE" default:"./sources.yml" description:"YAML file describing content sources"`
	Port              string        `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl           string        `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://aifeed.example.com)"`
	APIAccessKey      string        `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`
	SchedulerInterval time.Duration `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"1h" description:"Interval between scheduled refreshes"`
	Concurrency       int           `long:"concurrency" env:"CONCURRENCY" default:"4" description:"Number of sources processed concurrently"`

	// Fetching
	UserAgent       string        `long:"user-agent" env:"USER_AGENT" default:"AIFeed/1.0" description:"User agent string for HTTP requests"`
	FetchTimeout    time.Duration `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"10s" description:"Timeout for a single HTTP request"`
	FetchRetries    int           `long:"fetch-retries" env:"FETCH_RETRIES" default:"3" description:"Retries for transient HTTP failures"`
	FetchBackoff    time.Duration `long:"fetch-backoff" env:"FETCH_BACKOFF" default:"300ms" description:"Base delay for exponential retry backoff"`
	MaxArticleChars int           `long:"max-article-chars" env:"MAX_ARTICLE_CHARS" default:"5000" description:"Maximum characters kept from an extracted article"`

	// Credentials
	AnthropicAPIKey  string `long:"anthropic-api-key" env:"ANTHROPIC_API_KEY" description:"Anthropic API key; enrichment uses neutral defaults when unset"`
	AnthropicModel   string `long:"anthropic-model" env:"ANTHROPIC_MODEL" default:"claude-3-5-haiku-latest" description:"Model used for enrichment"`
	AnthropicBaseURL string `long:"anthropic-base-url" env:"ANTHROPIC_BASE_URL" description:"Override for the Anthropic API endpoint"`
	NewsAPIKey       string `long:"news-api-key" env:"NEWS_API_KEY" description:"NewsAPI key; the news source is skipped when unset"`
	YouTubeAPIKey    string `long:"youtube-api-key" env:"YOUTUBE_API_KEY" description:"YouTube Data API key; the video source is skipped when unset"`

	// Enrichment
	RateLimitCooldown time.Duration `long:"rate-limit-cooldown" env:"RATE_LIMIT_COOLDOWN" default:"10s" description:"Pause after the LLM reports a rate limit"`

	LogLevel string `long:"log-level" env:"LOG_LEVEL" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level"`
	EnvFile  string `long:"env-file" env:"ENV_FILE" default:".env" description:"Optional dotenv file with credentials"`
	Yes      bool   `long:"yes" short:"y" description:"Confirm destructive commands such as clear"`

	Args struct {
		Command string `positional-arg-name:"command" description:"serve, refresh, scheduler, stats, backup or clear"`
	} `positional-args:"yes"`
}

// ErrHelp is returned when usage was printed and the process should exit.
var ErrHelp = errors.New("help requested")

// Load reads configuration from command-line flags and the environment.
// Variables from the dotenv file fill in what the environment lacks.
func Load(args []string) (*Cfg, error) {
	loadEnvFile(args)

	var raw rawCfg
	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		Command:           cmp.Or(raw.Args.Command, "serve"),
		DBPath:            raw.DBPath,
		BackupDir:         raw.BackupDir,
		BackupInterval:    raw.BackupInterval,
		SourcesFile:       raw.SourcesFile,
		Port:              raw.Port,
		BaseUrl:           raw.BaseUrl,
		APIAccessKey:      raw.APIAccessKey,
		SchedulerInterval: raw.SchedulerInterval,
		Concurrency:       raw.Concurrency,
		UserAgent:         raw.UserAgent,
		FetchTimeout:      raw.FetchTimeout,
		FetchRetries:      raw.FetchRetries,
		FetchBackoff:      raw.FetchBackoff,
		MaxArticleChars:   raw.MaxArticleChars,
		AnthropicAPIKey:   raw.AnthropicAPIKey,
		AnthropicModel:    raw.AnthropicModel,
		AnthropicBaseURL:  raw.AnthropicBaseURL,
		NewsAPIKey:        raw.NewsAPIKey,
		YouTubeAPIKey:     raw.YouTubeAPIKey,
		RateLimitCooldown: raw.RateLimitCooldown,
		LogLevel:          raw.LogLevel,
		Confirmed:         raw.Yes,
		Version:           GetVersion(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Cfg) validate() error {
	if !slices.Contains(Commands, c.Command) {
		return fmt.Errorf("unknown command %q (expected one of %v)", c.Command, Commands)
	}
	if c.DBPath == "" {
		return fmt.Errorf("database path is required")
	}

	nonPositive := map[string]bool{
		"scheduler interval": c.SchedulerInterval <= 0,
		"fetch timeout":      c.FetchTimeout <= 0,
		"concurrency":        c.Concurrency <= 0,
		"max article chars":  c.MaxArticleChars <= 0,
	}
	for fieldName, invalid := range nonPositive {
		if invalid {
			return fmt.Errorf("%s must be positive", fieldName)
		}
	}

	if c.BackupInterval < 0 {
		return fmt.Errorf("backup interval must be non-negative")
	}
	if c.FetchRetries < 0 {
		return fmt.Errorf("fetch retries must be non-negative")
	}
	return nil
}

// loadEnvFile applies the dotenv file named by --env-file, ENV_FILE or the
// default. Existing environment variables win.
func loadEnvFile(args []string) {
	path := cmp.Or(os.Getenv("ENV_FILE"), ".env")
	for i, arg := range args {
		if arg == "--env-file" && i+1 < len(args) {
			path = args[i+1]
		} else if v, ok := strings.CutPrefix(arg, "--env-file="); ok {
			path = v
		}
	}

	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}
