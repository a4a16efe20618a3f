package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

type Sources struct {
	Arxiv   ArxivSource   `yaml:"arxiv"`
	News    NewsSource    `yaml:"news"`
	YouTube YouTubeSource `yaml:"youtube"`
	Blogs   BlogsSource   `yaml:"company_blogs"`
}

type ArxivSource struct {
	Enabled    bool     `yaml:"enabled"`
	Categories []string `yaml:"categories"`
	MaxResults int      `yaml:"max_results"`
}

type NewsSource struct {
	Enabled    bool     `yaml:"enabled"`
	Keywords   []string `yaml:"keywords"`
	MaxResults int      `yaml:"max_results"`
	WindowDays int      `yaml:"window_days"`
}

type YouTubeSource struct {
	Enabled    bool     `yaml:"enabled"`
	Channels   []string `yaml:"channels"`
	Keywords   []string `yaml:"keywords"`
	MaxResults int      `yaml:"max_results"`
}

type BlogsSource struct {
	Enabled    bool       `yaml:"enabled"`
	MaxResults int        `yaml:"max_results"`
	Feeds      []BlogFeed `yaml:"feeds"`
}

type BlogFeed struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// DefaultSources is used when no sources file exists.
func DefaultSources() *Sources {
	s := &Sources{
		Arxiv: ArxivSource{
			Enabled:    true,
			Categories: []string{"cs.AI", "cs.LG", "cs.CL"},
		},
		News: NewsSource{
			Enabled:  true,
			Keywords: []string{"artificial intelligence", "machine learning", "large language model"},
		},
		YouTube: YouTubeSource{
			Enabled:  true,
			Keywords: []string{"AI", "machine learning", "neural network", "LLM"},
		},
		Blogs: BlogsSource{
			Enabled: true,
			Feeds: []BlogFeed{
				{Name: "OpenAI", URL: "https://openai.com/news/rss.xml"},
				{Name: "Google AI", URL: "https://blog.google/technology/ai/rss/"},
				{Name: "Hugging Face", URL: "https://huggingface.co/blog/feed.xml"},
			},
		},
	}
	s.setDefaults()
	return s
}

// LoadSources reads the YAML sources file. A missing file yields the
// built-in defaults.
func LoadSources(path string) (*Sources, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultSources(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var sources Sources
	if err := yaml.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	sources.setDefaults()

	if err := sources.validate(); err != nil {
		return nil, fmt.Errorf("invalid sources file %s: %w", path, err)
	}

	return &sources, nil
}

func (s *Sources) setDefaults() {
	if s.Arxiv.MaxResults == 0 {
		s.Arxiv.MaxResults = 50
	}
	if s.News.MaxResults == 0 {
		s.News.MaxResults = 30
	}
	if s.News.WindowDays == 0 {
		s.News.WindowDays = 2
	}
	if s.YouTube.MaxResults == 0 {
		s.YouTube.MaxResults = 20
	}
	if s.Blogs.MaxResults == 0 {
		s.Blogs.MaxResults = 30
	}
}

func (s *Sources) validate() error {
	nonNegativeFields := map[string]int{
		"arxiv max_results":         s.Arxiv.MaxResults,
		"news max_results":          s.News.MaxResults,
		"news window_days":          s.News.WindowDays,
		"youtube max_results":       s.YouTube.MaxResults,
		"company_blogs max_results": s.Blogs.MaxResults,
	}
	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	if s.Arxiv.Enabled && len(s.Arxiv.Categories) == 0 {
		return fmt.Errorf("arxiv requires at least one category")
	}
	if s.News.Enabled && len(s.News.Keywords) == 0 {
		return fmt.Errorf("news requires at least one keyword")
	}

	for i, feed := range s.Blogs.Feeds {
		if feed.URL == "" {
			return fmt.Errorf("company_blogs feed at index %d: url is required", i)
		}
		u, err := url.Parse(feed.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("company_blogs feed at index %d: invalid url %q", i, feed.URL)
		}
		if feed.Name == "" {
			s.Blogs.Feeds[i].Name = u.Host
		}
	}

	return nil
}
