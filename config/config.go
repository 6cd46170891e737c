package config

import (
	"fmt"
	"net/url"
	"time"
)

// Sampling policies recognized by the sampler.
const (
	PolicyRandom   = "random"
	PolicyInterval = "interval"
)

// Config holds scraper configuration.
type Config struct {
	SitemapURL      string
	SampleSize      int
	SamplePolicy    string // random or interval
	Seed            int64  // 0 means non-deterministic
	Delay           time.Duration
	Jitter          time.Duration
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	OutputFile      string
	TaxonomyFile    string
	OutputFormat    string // csv, jsonl, or dual
	UserAgent       string
	AcceptLanguage  string
	CacheDir        string // empty disables the on-disk page cache
	Resume          bool
	PauseEvery      int // extra pause after every N products, 0 disables
	PauseMin        time.Duration
	PauseMax        time.Duration
	DedupeMaxSize   int
	FetchReviews    bool
	Verbose         bool
	MetricsAddr     string // empty disables the metrics listener
}

// DefaultConfig returns conservative defaults for the marketplace target.
func DefaultConfig() *Config {
	return &Config{
		SitemapURL:      "https://aws.amazon.com/marketplace/sitemap.xml",
		SampleSize:      300,
		SamplePolicy:    PolicyRandom,
		Seed:            42,
		Delay:           1500 * time.Millisecond,
		Jitter:          time.Second,
		Timeout:         25 * time.Second,
		MaxRetries:      3,
		RetryBackoff:    2 * time.Second,
		RetryBackoffMax: 60 * time.Second,
		OutputFile:      "data/products.csv",
		TaxonomyFile:    "data/urls_taxonomy.csv",
		OutputFormat:    "csv",
		UserAgent:       "Mozilla/5.0 (compatible; thesis-research/1.0)",
		AcceptLanguage:  "en-US,en;q=0.9",
		CacheDir:        "",
		Resume:          false,
		PauseEvery:      100,
		PauseMin:        30 * time.Second,
		PauseMax:        90 * time.Second,
		DedupeMaxSize:   100000,
		FetchReviews:    true,
		Verbose:         false,
		MetricsAddr:     "",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.SitemapURL == "" {
		return fmt.Errorf("sitemap URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.SitemapURL)
	if err != nil {
		return fmt.Errorf("invalid sitemap URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("sitemap URL must include a host")
	}

	if c.SampleSize <= 0 {
		return fmt.Errorf("sample size must be positive")
	}
	if c.SamplePolicy != PolicyRandom && c.SamplePolicy != PolicyInterval {
		return fmt.Errorf("sample policy must be %s or %s", PolicyRandom, PolicyInterval)
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.Jitter < 0 {
		return fmt.Errorf("jitter cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "jsonl" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, jsonl, or dual")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.Resume && c.OutputFormat != "csv" {
		return fmt.Errorf("resume mode requires csv output")
	}
	if c.PauseEvery < 0 {
		return fmt.Errorf("pause interval cannot be negative")
	}
	if c.PauseMin < 0 || c.PauseMax < 0 {
		return fmt.Errorf("pause bounds cannot be negative")
	}
	if c.PauseMax > 0 && c.PauseMin > c.PauseMax {
		return fmt.Errorf("pause min (%s) cannot exceed pause max (%s)", c.PauseMin, c.PauseMax)
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}

	return nil
}
