// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/github-star-crawler/internal/crawler"
	"github.com/JakeFAU/github-star-crawler/internal/github"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	DB        DBConfig        `mapstructure:"db"`
	Loop      LoopConfig      `mapstructure:"loop"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the HTTP status server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// GitHubConfig holds API access settings. Token is usually supplied through
// the CRAWLER_GITHUB_TOKEN environment variable rather than the config file.
type GitHubConfig struct {
	Token    string `mapstructure:"token"`
	Endpoint string `mapstructure:"endpoint"`
}

// CrawlConfig governs partitioning and ingestion behavior.
type CrawlConfig struct {
	TargetRepos         int    `mapstructure:"target_repos"`
	PageSize            int    `mapstructure:"page_size"`
	MinStars            int    `mapstructure:"min_stars"`
	MaxPartitionResults int    `mapstructure:"max_partition_results"`
	BaseQualifiers      string `mapstructure:"base_qualifiers"`
	LogEveryNPartitions int    `mapstructure:"log_every_n_partitions"`
}

// HTTPConfig configures request timeout and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
}

// RateLimitConfig controls proactive API budget management.
type RateLimitConfig struct {
	MinRemainingPoints   int `mapstructure:"min_remaining_points"`
	MinRequestIntervalMs int `mapstructure:"min_request_interval_ms"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LoopConfig governs continuous mode scheduling.
type LoopConfig struct {
	IntervalHours int `mapstructure:"interval_hours"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("github.endpoint", "https://api.github.com/graphql")
	v.SetDefault("crawl.target_repos", 100_000)
	v.SetDefault("crawl.page_size", 100)
	v.SetDefault("crawl.min_stars", 0)
	v.SetDefault("crawl.max_partition_results", 1000)
	v.SetDefault("crawl.base_qualifiers", "is:public fork:false archived:false")
	v.SetDefault("crawl.log_every_n_partitions", 20)
	v.SetDefault("http.timeout_seconds", 40)
	v.SetDefault("http.max_retries", 8)
	v.SetDefault("http.backoff_initial_ms", 1500)
	v.SetDefault("ratelimit.min_remaining_points", 100)
	v.SetDefault("ratelimit.min_request_interval_ms", 350)
	v.SetDefault("loop.interval_hours", 24)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. The GitHub token
// is deliberately not checked here: commands that never talk to the API
// (schema init, export) must work without one.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.TargetRepos <= 0 {
		return fmt.Errorf("crawl.target_repos must be > 0")
	}
	if c.Crawl.PageSize <= 0 || c.Crawl.PageSize > 100 {
		return fmt.Errorf("crawl.page_size must be in 1..100")
	}
	if c.Crawl.MaxPartitionResults <= 0 {
		return fmt.Errorf("crawl.max_partition_results must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries <= 0 {
		return fmt.Errorf("http.max_retries must be > 0")
	}
	if c.Loop.IntervalHours <= 0 {
		return fmt.Errorf("loop.interval_hours must be > 0")
	}
	return nil
}

// ClientConfig converts the flat knobs into the GitHub client's config.
func (c Config) ClientConfig() github.Config {
	return github.Config{
		Token:              c.GitHub.Token,
		Endpoint:           c.GitHub.Endpoint,
		MaxRetries:         c.HTTP.MaxRetries,
		BaseBackoff:        time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		RequestTimeout:     time.Duration(c.HTTP.TimeoutSeconds) * time.Second,
		MinRemainingPoints: c.RateLimit.MinRemainingPoints,
		MinRequestInterval: time.Duration(c.RateLimit.MinRequestIntervalMs) * time.Millisecond,
	}
}

// CrawlerConfig converts the crawl knobs into the crawler's config.
func (c Config) CrawlerConfig() crawler.Config {
	return crawler.Config{
		TargetRepoCount:     c.Crawl.TargetRepos,
		PageSize:            c.Crawl.PageSize,
		MinStars:            c.Crawl.MinStars,
		MaxPartitionResults: c.Crawl.MaxPartitionResults,
		BaseQualifiers:      c.Crawl.BaseQualifiers,
		LogEveryNPartitions: c.Crawl.LogEveryNPartitions,
	}
}

// LoopInterval converts the continuous-mode interval into a duration.
func (c Config) LoopInterval() time.Duration {
	return time.Duration(c.Loop.IntervalHours) * time.Hour
}
