package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmfraga/mpscraper/config"
	"github.com/lmfraga/mpscraper/models"
	"github.com/lmfraga/mpscraper/pipeline"
	"github.com/lmfraga/mpscraper/scraper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// .env is optional; real settings come from flags and the environment.
	_ = godotenv.Load()

	defaultCfg := config.DefaultConfig()
	sampleDefault := defaultCfg.SampleSize
	if value, ok, err := config.EnvInt("SCRAPER_SAMPLE"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SCRAPER_SAMPLE: %v\n", err)
		os.Exit(1)
	} else if ok {
		sampleDefault = value
	}
	seedDefault := defaultCfg.Seed
	if value, ok, err := config.EnvInt64("SCRAPER_SEED"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SCRAPER_SEED: %v\n", err)
		os.Exit(1)
	} else if ok {
		seedDefault = value
	}
	outputDefault := defaultCfg.OutputFile
	if value, ok := config.EnvString("SCRAPER_OUTPUT"); ok {
		outputDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("SCRAPER_METRICS_ADDR"); ok {
		metricsDefault = value
	}

	sitemapURL := flag.String("sitemap-url", defaultCfg.SitemapURL, "Sitemap URL to enumerate product pages from")
	sampleSize := flag.Int("sample", sampleDefault, "Maximum number of products to scrape")
	samplePolicy := flag.String("policy", defaultCfg.SamplePolicy, "Sampling policy: random or interval")
	seed := flag.Int64("seed", seedDefault, "Random seed (0 for non-deterministic)")
	delayMs := flag.Int("delay", int(defaultCfg.Delay/time.Millisecond), "Base delay between requests (milliseconds)")
	jitterMs := flag.Int("jitter", int(defaultCfg.Jitter/time.Millisecond), "Random jitter added to delay (milliseconds)")
	maxRetries := flag.Int("max-retries", defaultCfg.MaxRetries, "Maximum retry attempts per URL")
	retryBackoffMs := flag.Int("retry-backoff", int(defaultCfg.RetryBackoff/time.Millisecond), "Initial retry backoff (milliseconds)")
	retryBackoffMaxMs := flag.Int("retry-backoff-max", int(defaultCfg.RetryBackoffMax/time.Millisecond), "Maximum retry backoff (milliseconds)")
	outputFile := flag.String("output", outputDefault, "Products output file path")
	taxonomyFile := flag.String("taxonomy", defaultCfg.TaxonomyFile, "Taxonomy output file path (empty to skip)")
	outputFormat := flag.String("format", defaultCfg.OutputFormat, "Output format: csv, jsonl, or dual")
	cacheDir := flag.String("cache-dir", defaultCfg.CacheDir, "On-disk page cache directory (empty to disable)")
	resume := flag.Bool("resume", defaultCfg.Resume, "Skip products already present in the output file")
	pauseEvery := flag.Int("pause-every", defaultCfg.PauseEvery, "Extra safety pause after every N products (0 to disable)")
	noReviews := flag.Bool("no-reviews", false, "Skip review-list pages")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := defaultCfg
	cfg.SitemapURL = *sitemapURL
	cfg.SampleSize = *sampleSize
	cfg.SamplePolicy = strings.ToLower(*samplePolicy)
	cfg.Seed = *seed
	cfg.Delay = time.Duration(*delayMs) * time.Millisecond
	cfg.Jitter = time.Duration(*jitterMs) * time.Millisecond
	cfg.MaxRetries = *maxRetries
	cfg.RetryBackoff = time.Duration(*retryBackoffMs) * time.Millisecond
	cfg.RetryBackoffMax = time.Duration(*retryBackoffMaxMs) * time.Millisecond
	cfg.OutputFile = *outputFile
	cfg.TaxonomyFile = *taxonomyFile
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.CacheDir = *cacheDir
	cfg.Resume = *resume
	cfg.PauseEvery = *pauseEvery
	cfg.FetchReviews = !*noReviews
	cfg.Verbose = *verbose
	cfg.MetricsAddr = *metricsAddr

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting scrape",
		slog.String("sitemap_url", cfg.SitemapURL),
		slog.Int("sample", cfg.SampleSize),
		slog.String("policy", cfg.SamplePolicy),
		slog.Int64("seed", cfg.Seed),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	writer, err := createWriter(cfg)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	dataset, err := pipeline.NewDataset(writer, cfg)
	if err != nil {
		slog.Error("initialising dataset", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing the current product")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	result, err := s.Run(ctx, dataset)
	if err != nil {
		slog.Error("scraping failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := writer.Validate(); err != nil {
		slog.Error("output validation failed", slog.Any("error", err))
		os.Exit(1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result, cfg.OutputFile, dataset.Dropped())
}

func createWriter(cfg *config.Config) (pipeline.OutputWriter, error) {
	if cfg.Resume {
		return pipeline.NewAppendCSVWriter(cfg.OutputFile)
	}
	switch cfg.OutputFormat {
	case "jsonl":
		return pipeline.NewJSONLWriter(cfg.OutputFile)
	case "csv":
		return pipeline.NewCSVWriter(cfg.OutputFile)
	case "dual":
		jsonlFilename := strings.TrimSuffix(cfg.OutputFile, ".csv") + ".jsonl"
		return pipeline.NewDualWriter(cfg.OutputFile, jsonlFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", cfg.OutputFormat)
	}
}

func printSummary(result *models.RunResult, outputFile string, dropped map[string]int) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")

	duration := result.EndTime.Sub(result.StartTime)
	successRate := 0.0
	if result.RequestCount > 0 {
		successRate = float64(result.RequestCount-result.ErrorCount) / float64(result.RequestCount) * 100
	}

	fmt.Printf("  Products:      %d\n", result.TotalCount)
	fmt.Printf("  Requests:      %d\n", result.RequestCount)
	fmt.Printf("  Success rate:  %.2f%%\n", successRate)
	fmt.Printf("  Errors:        %d\n", result.ErrorCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	fmt.Printf("  Skipped URLs:  %d\n", len(result.Skipped))
	for _, skip := range result.Skipped {
		fmt.Printf("    - %s (%s)\n", skip.URL, skip.Reason)
	}
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if len(dropped) > 0 {
		fmt.Printf("  Dropped:       %v\n", dropped)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
