// Package fetcher issues polite, rate-limited HTTP GET requests with
// bounded retry and backoff.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/lmfraga/mpscraper/config"
)

// Page kinds used for cache keys and request metrics.
const (
	PageSitemap = "sitemap"
	PageProduct = "product"
	PageReviews = "reviews"
)

// Result is a successfully fetched page body.
type Result struct {
	Body       []byte
	StatusCode int
	FromCache  bool
	Retries    int
}

// Fetcher wraps a resty client with politeness delays, an optional on-disk
// page cache, and the run's error taxonomy. Transient failures (timeouts,
// connection errors, 429 and 5xx responses) are retried with exponential
// backoff up to the configured bound; 404 and 403 fail immediately.
type Fetcher struct {
	cfg     *config.Config
	client  *resty.Client
	cache   *pageCache
	metrics *Metrics

	sleep   func(time.Duration)
	rng     *rand.Rand
	retries int
}

// New builds a fetcher configured from cfg. metrics may be nil.
func New(cfg *config.Config, metrics *Metrics) *Fetcher {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept-Language", cfg.AcceptLanguage).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryBackoff).
		SetRetryMaxWaitTime(cfg.RetryBackoffMax).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled)
			}
			return isTransientStatus(r.StatusCode())
		})

	var cache *pageCache
	if cfg.CacheDir != "" {
		cache = newPageCache(cfg.CacheDir)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Fetcher{
		cfg:     cfg,
		client:  client,
		cache:   cache,
		metrics: metrics,
		sleep:   time.Sleep,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Fetch retrieves one URL. On success the politeness delay has already been
// served before it returns; cache hits skip both the network and the delay.
func (f *Fetcher) Fetch(ctx context.Context, rawurl, page string) (*Result, error) {
	parsed, err := url.Parse(rawurl)
	if err != nil {
		return nil, ErrBadURL{Err: err}
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, ErrBadURL{Err: fmt.Errorf("url %q is not absolute", rawurl)}
	}

	if f.cache != nil {
		if body, ok := f.cache.get(page, rawurl); ok {
			f.metrics.IncCacheHit()
			return &Result{Body: body, StatusCode: http.StatusOK, FromCache: true}, nil
		}
	}

	f.metrics.IncRequest(page)
	resp, err := f.client.R().SetContext(ctx).Get(rawurl)

	retries := 0
	if resp != nil && resp.Request != nil && resp.Request.Attempt > 1 {
		retries = resp.Request.Attempt - 1
	}
	f.retries += retries
	f.metrics.AddRetries(retries)

	if err != nil {
		classified := classifyError(err)
		f.metrics.IncError(TypeLabel(classified))
		f.politeSleep()
		return nil, classified
	}

	f.metrics.ObserveDuration(resp.Time())

	if status := resp.StatusCode(); status != http.StatusOK {
		classified := classifyStatus(status)
		f.metrics.IncError(TypeLabel(classified))
		f.politeSleep()
		return nil, classified
	}

	body := resp.Body()
	if f.cache != nil {
		if cerr := f.cache.put(page, rawurl, body); cerr != nil {
			slog.Debug("cache write failed", slog.String("url", rawurl), slog.Any("error", cerr))
		}
	}

	f.politeSleep()
	return &Result{Body: body, StatusCode: resp.StatusCode(), Retries: retries}, nil
}

// TotalRetries reports how many retry attempts were issued over the run.
func (f *Fetcher) TotalRetries() int {
	return f.retries
}

// SetTransport swaps the underlying HTTP transport. Used by tests.
func (f *Fetcher) SetTransport(rt http.RoundTripper) {
	f.client.SetTransport(rt)
}

// DisableDelays turns off politeness sleeps. Used by tests.
func (f *Fetcher) DisableDelays() {
	f.sleep = func(time.Duration) {}
}

// politeSleep serves the inter-request delay, with random jitter on top.
func (f *Fetcher) politeSleep() {
	delay := f.cfg.Delay
	if f.cfg.Jitter > 0 {
		delay += time.Duration(f.rng.Int63n(int64(f.cfg.Jitter)))
	}
	if delay > 0 {
		f.sleep(delay)
	}
}

func isTransientStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func classifyStatus(status int) error {
	err := fmt.Errorf("http status %d", status)
	switch {
	case status == http.StatusNotFound:
		return ErrNotFound{Err: err}
	case status == http.StatusForbidden:
		return ErrForbidden{Err: err}
	case status == http.StatusTooManyRequests:
		return ErrRateLimited{Err: err}
	case status >= http.StatusInternalServerError:
		return ErrServer{Err: err}
	}
	return err
}

func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}
	return err
}
