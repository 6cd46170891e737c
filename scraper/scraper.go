// Package scraper orchestrates a run: sitemap, sampling, the sequential
// per-URL fetch/extract loop, and result accounting.
package scraper

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/lmfraga/mpscraper/config"
	"github.com/lmfraga/mpscraper/extract"
	"github.com/lmfraga/mpscraper/fetcher"
	"github.com/lmfraga/mpscraper/models"
	"github.com/lmfraga/mpscraper/pipeline"
	"github.com/lmfraga/mpscraper/sampler"
	"github.com/lmfraga/mpscraper/sitemap"
)

// Scraper runs the whole pipeline sequentially: one URL is fetched and fully
// processed before the next begins. Per-URL failures are isolated; only
// sitemap and output failures abort the run.
type Scraper struct {
	cfg     *config.Config
	reader  *sitemap.Reader
	sampler *sampler.Sampler
	fetcher *fetcher.Fetcher
	Metrics *fetcher.Metrics

	rng   *rand.Rand
	sleep func(time.Duration)

	requestCount int
	errorCount   int
	skipped      []models.SkippedURL
	errorsByType map[string]int
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	reader, err := sitemap.NewReader(cfg)
	if err != nil {
		return nil, err
	}
	smp, err := sampler.New(cfg)
	if err != nil {
		return nil, err
	}

	metrics := fetcher.NewMetrics()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Scraper{
		cfg:          cfg,
		reader:       reader,
		sampler:      smp,
		fetcher:      fetcher.New(cfg, metrics),
		Metrics:      metrics,
		rng:          rand.New(rand.NewSource(seed)),
		sleep:        time.Sleep,
		errorsByType: make(map[string]int),
	}, nil
}

// SetTransport swaps the HTTP transport on every client. Used by tests.
func (s *Scraper) SetTransport(rt http.RoundTripper) {
	s.reader.SetTransport(rt)
	s.fetcher.SetTransport(rt)
}

// DisableDelays turns off politeness and safety pauses. Used by tests.
func (s *Scraper) DisableDelays() {
	s.fetcher.DisableDelays()
	s.sleep = func(time.Duration) {}
}

// Run executes the full pipeline, appending records to dataset.
func (s *Scraper) Run(ctx context.Context, dataset *pipeline.Dataset) (*models.RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	sm, err := s.reader.Read(ctx)
	if err != nil {
		return nil, err
	}

	if s.cfg.TaxonomyFile != "" {
		if err := pipeline.WriteTaxonomy(s.cfg.TaxonomyFile, sm.Taxonomy); err != nil {
			return nil, err
		}
		slog.Info("taxonomy saved", slog.String("file", s.cfg.TaxonomyFile))
	}

	sampled := s.sampler.Sample(sm.ProductURLs)
	slog.Info("sampling products",
		slog.Int("available", len(sm.ProductURLs)),
		slog.Int("sampled", len(sampled)),
		slog.String("policy", s.cfg.SamplePolicy),
	)

	done := map[string]struct{}{}
	if s.cfg.Resume {
		done, err = pipeline.CompletedIDs(s.cfg.OutputFile)
		if err != nil {
			return nil, err
		}
		if len(done) > 0 {
			slog.Info("resume enabled", slog.Int("already_done", len(done)))
		}
	}

	for i, pageURL := range sampled {
		if ctx.Err() != nil {
			slog.Info("run cancelled", slog.Int("processed", i))
			break
		}

		pid := sitemap.ProductID(pageURL)
		if pid != "" {
			if _, ok := done[pid]; ok {
				slog.Debug("skipping completed product", slog.String("product_id", pid))
				continue
			}
		}

		slog.Info("fetching product",
			slog.Int("index", i+1),
			slog.Int("total", len(sampled)),
			slog.String("url", pageURL),
		)

		record, fatal, err := s.scrapeProduct(ctx, pageURL)
		if err != nil {
			if fatal {
				return nil, err
			}
			continue
		}

		if err := dataset.Add(record); err != nil {
			return nil, err
		}
		s.Metrics.IncItems()

		slog.Debug("product scraped",
			slog.String("product_id", record.ProductID),
			slog.String("pricing", record.Pricing),
			slog.Bool("reviews_page", record.ReviewsPage),
		)

		if s.cfg.PauseEvery > 0 && (i+1)%s.cfg.PauseEvery == 0 && i+1 < len(sampled) {
			s.safetyPause()
		}
	}

	return &models.RunResult{
		Records:      dataset.Records(),
		StartTime:    start,
		EndTime:      time.Now(),
		TotalCount:   dataset.Len(),
		ErrorCount:   s.errorCount,
		RetryCount:   s.fetcher.TotalRetries(),
		RequestCount: s.requestCount,
		Skipped:      s.snapshotSkipped(),
		ErrorsByType: s.snapshotErrors(),
	}, nil
}

// scrapeProduct fetches and extracts one product page plus its review page.
// A false fatal flag means the URL was skipped and the run continues.
func (s *Scraper) scrapeProduct(ctx context.Context, pageURL string) (*models.ProductRecord, bool, error) {
	s.requestCount++
	res, err := s.fetcher.Fetch(ctx, pageURL, fetcher.PageProduct)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, true, err
		}
		s.recordSkip(pageURL, fetcher.TypeLabel(err))
		slog.Error("product fetch failed",
			slog.String("url", pageURL),
			slog.String("category", fetcher.TypeLabel(err)),
			slog.Any("error", err),
		)
		return nil, false, err
	}

	record, err := extract.Product(res.Body, pageURL)
	if err != nil {
		s.recordSkip(pageURL, "unrecognized_layout")
		slog.Error("product page discarded",
			slog.String("url", pageURL),
			slog.Any("error", err),
		)
		return nil, false, err
	}

	if s.cfg.FetchReviews && record.ProductID != "" {
		record.MergeReviews(s.scrapeReviews(ctx, pageURL, record.ProductID))
	}
	return record, false, nil
}

// scrapeReviews fetches the review-list page. Absence of the page is a
// platform answer, not an error.
func (s *Scraper) scrapeReviews(ctx context.Context, productURL, pid string) models.ReviewSummary {
	reviewsURL := reviewListURL(productURL, pid)
	if reviewsURL == "" {
		return extract.NoReviewsPage()
	}

	s.requestCount++
	res, err := s.fetcher.Fetch(ctx, reviewsURL, fetcher.PageReviews)
	if err != nil {
		if !fetcher.IsNotFound(err) {
			slog.Debug("reviews fetch failed",
				slog.String("url", reviewsURL),
				slog.String("category", fetcher.TypeLabel(err)),
			)
		}
		return extract.NoReviewsPage()
	}
	return extract.Reviews(res.Body)
}

// reviewListURL derives the review-list page URL on the product's host.
func reviewListURL(productURL, pid string) string {
	parsed, err := url.Parse(productURL)
	if err != nil || parsed.Host == "" {
		return ""
	}
	parsed.Path = "/marketplace/reviews/reviews-list/" + pid
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String()
}

func (s *Scraper) recordSkip(pageURL, reason string) {
	s.errorCount++
	s.errorsByType[reason]++
	s.skipped = append(s.skipped, models.SkippedURL{URL: pageURL, Reason: reason})
}

// safetyPause sleeps for a random interval inside the configured bounds.
func (s *Scraper) safetyPause() {
	pause := s.cfg.PauseMin
	if spread := s.cfg.PauseMax - s.cfg.PauseMin; spread > 0 {
		pause += time.Duration(s.rng.Int63n(int64(spread)))
	}
	if pause <= 0 {
		return
	}
	slog.Info("safety pause", slog.Duration("duration", pause))
	s.sleep(pause)
}

func (s *Scraper) snapshotSkipped() []models.SkippedURL {
	out := make([]models.SkippedURL, len(s.skipped))
	copy(out, s.skipped)
	return out
}

func (s *Scraper) snapshotErrors() map[string]int {
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}
