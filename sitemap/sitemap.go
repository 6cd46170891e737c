// Package sitemap fetches the marketplace sitemap and classifies its URLs.
package sitemap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/gocolly/colly/v2"
	"github.com/lmfraga/mpscraper/config"
	"github.com/lmfraga/mpscraper/models"
)

var (
	productRe  = regexp.MustCompile(`/marketplace/pp/([^/?]+)`)
	sellerRe   = regexp.MustCompile(`/marketplace/seller-profile/([^/?]+)`)
	categoryRe = regexp.MustCompile(`/marketplace/b/([^/?]+)`)
)

// Result is the parsed sitemap: the full taxonomy plus the deduplicated
// product URL listing, in document order.
type Result struct {
	Taxonomy    []models.TaxonomyEntry
	ProductURLs []string
	TotalURLs   int
}

// Reader fetches and parses the sitemap XML. Both fetch and parse failures
// are fatal to the run; there is no partial sitemap recovery.
type Reader struct {
	cfg       *config.Config
	collector *colly.Collector
}

// NewReader builds a sitemap reader configured from cfg.
func NewReader(cfg *config.Config) (*Reader, error) {
	parsed, err := url.Parse(cfg.SitemapURL)
	if err != nil {
		return nil, fmt.Errorf("parse sitemap url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("sitemap url must include a host")
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true

	return &Reader{cfg: cfg, collector: collector}, nil
}

// SetTransport swaps the collector's HTTP transport. Used by tests.
func (r *Reader) SetTransport(rt http.RoundTripper) {
	r.collector.WithTransport(rt)
}

// Read fetches the sitemap and returns every classified URL.
func (r *Reader) Read(ctx context.Context) (*Result, error) {
	if ctx != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var locs []string
	var fetchErr error

	r.collector.OnXML("//urlset/url/loc", func(e *colly.XMLElement) {
		if loc := strings.TrimSpace(e.Text); loc != "" {
			locs = append(locs, loc)
		}
	})
	r.collector.OnError(func(resp *colly.Response, err error) {
		fetchErr = err
	})

	if err := r.collector.Visit(r.cfg.SitemapURL); err != nil {
		return nil, fmt.Errorf("fetch sitemap: %w", err)
	}
	r.collector.Wait()

	if fetchErr != nil {
		return nil, fmt.Errorf("fetch sitemap: %w", fetchErr)
	}
	if len(locs) == 0 {
		return nil, fmt.Errorf("parse sitemap: no <loc> entries found")
	}

	result := &Result{TotalURLs: len(locs)}
	seen := make(map[string]struct{}, len(locs))
	for _, loc := range locs {
		parsed, err := url.Parse(loc)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			slog.Debug("skipping non-absolute sitemap entry", slog.String("loc", loc))
			continue
		}

		urlType, slug := Classify(loc)
		result.Taxonomy = append(result.Taxonomy, models.TaxonomyEntry{
			URL:  loc,
			Type: urlType,
			Slug: slug,
		})

		if urlType != models.URLTypeProduct {
			continue
		}
		if _, ok := seen[loc]; ok {
			continue
		}
		seen[loc] = struct{}{}
		result.ProductURLs = append(result.ProductURLs, loc)
	}

	slog.Info("sitemap parsed",
		slog.Int("total_urls", result.TotalURLs),
		slog.Int("product_urls", len(result.ProductURLs)),
	)
	return result, nil
}

// Classify maps a marketplace URL to its section type and slug.
func Classify(rawurl string) (models.URLType, string) {
	if m := productRe.FindStringSubmatch(rawurl); m != nil {
		return models.URLTypeProduct, m[1]
	}
	if m := sellerRe.FindStringSubmatch(rawurl); m != nil {
		return models.URLTypeSeller, m[1]
	}
	if m := categoryRe.FindStringSubmatch(rawurl); m != nil {
		return models.URLTypeCategory, m[1]
	}
	return models.URLTypeOther, ""
}

// ProductID extracts the prodview identifier from a product URL, or ""
// when the last path element does not carry one.
func ProductID(rawurl string) string {
	parsed, err := url.Parse(rawurl)
	if err != nil {
		return ""
	}
	path := strings.Trim(parsed.Path, "/")
	if path == "" {
		return ""
	}
	parts := strings.Split(path, "/")
	last := parts[len(parts)-1]
	if !strings.HasPrefix(last, "prodview-") {
		return ""
	}
	return last
}
