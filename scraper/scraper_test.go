package scraper

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/lmfraga/mpscraper/config"
	"github.com/lmfraga/mpscraper/pipeline"
)

const testSitemapURL = "http://example.test/marketplace/sitemap.xml"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SitemapURL = testSitemapURL
	cfg.Seed = 42
	cfg.Delay = 0
	cfg.Jitter = 0
	cfg.MaxRetries = 0
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = 5 * time.Millisecond
	cfg.PauseEvery = 0
	cfg.OutputFile = filepath.Join(t.TempDir(), "products.csv")
	cfg.TaxonomyFile = ""
	return cfg
}

func xmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "application/xml")
	return httpmock.ResponderFromResponse(resp)
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func buildSitemap(locs ...string) string {
	var builder strings.Builder
	builder.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	builder.WriteString(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, loc := range locs {
		builder.WriteString("<url><loc>")
		builder.WriteString(loc)
		builder.WriteString("</loc></url>")
	}
	builder.WriteString("</urlset>")
	return builder.String()
}

func buildProductPage(n int) string {
	return fmt.Sprintf(`<html>
<head><title>AWS Marketplace: Product %02d</title></head>
<body>
<a href="/marketplace/seller-profile/vendor-%02d">Vendor %02d</a>
<a href="/marketplace/b/security">Security</a>
<a href="/marketplace/b/security-scanners">Scanners</a>
<p>Delivered as Software as a Service (SaaS).</p>
<p>Free trial available, then a 12-month contract at $1,000.00.</p>
</body></html>`, n, n, n)
}

const testReviewsPage = `<html><body>
<h1>Ratings and reviews</h1>
<p>4.6 out of 5</p>
<p>968 ratings submitted by marketplace customers</p>
</body></html>`

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.SampleSize = 3

	transport := httpmock.NewMockTransport()

	var locs []string
	expectedName := make(map[string]string)
	for i := 0; i < 10; i++ {
		productURL := fmt.Sprintf("http://example.test/marketplace/pp/prodview-%02d", i)
		locs = append(locs, productURL)
		expectedName[productURL] = fmt.Sprintf("Product %02d", i)

		transport.RegisterResponder("GET", productURL, htmlResponder(buildProductPage(i)))
		reviewsURL := fmt.Sprintf("http://example.test/marketplace/reviews/reviews-list/prodview-%02d", i)
		transport.RegisterResponder("GET", reviewsURL, htmlResponder(testReviewsPage))
	}
	transport.RegisterResponder("GET", testSitemapURL, xmlResponder(buildSitemap(locs...)))

	s, err := NewScraper(cfg)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	s.SetTransport(transport)
	s.DisableDelays()

	writer, err := pipeline.NewCSVWriter(cfg.OutputFile)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	dataset, err := pipeline.NewDataset(writer, cfg)
	if err != nil {
		t.Fatalf("new dataset: %v", err)
	}

	result, err := s.Run(context.Background(), dataset)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	if result.TotalCount != 3 {
		t.Fatalf("total = %d, want 3", result.TotalCount)
	}
	if result.ErrorCount != 0 {
		t.Fatalf("errors = %d (%v)", result.ErrorCount, result.Skipped)
	}

	f, err := os.Open(cfg.OutputFile)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want header plus 3 records", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(pipeline.Header, ",") {
		t.Fatalf("header = %v", rows[0])
	}

	for _, row := range rows[1:] {
		url := row[0]
		name, ok := expectedName[url]
		if !ok {
			t.Fatalf("unexpected url in output: %q", url)
		}
		if row[2] != name {
			t.Fatalf("name = %q, want %q", row[2], name)
		}
		if row[3] != strings.Replace(name, "Product", "Vendor", 1) {
			t.Fatalf("seller = %q for %q", row[3], url)
		}
		if row[4] != "Security" || row[5] != "Security|Scanners" {
			t.Fatalf("categories = %q / %q", row[4], row[5])
		}
		if row[6] != "SaaS" {
			t.Fatalf("delivery = %q", row[6])
		}
		if row[7] != "free_trial" {
			t.Fatalf("pricing = %q", row[7])
		}
		if row[8] != "12-month" {
			t.Fatalf("contract terms = %q", row[8])
		}
		if row[9] != "1" || row[10] != "1000" || row[11] != "1000" {
			t.Fatalf("price columns = %v", row[9:12])
		}
		if row[12] != "1" || row[13] != "1" {
			t.Fatalf("review flags = %v", row[12:14])
		}
		if row[14] != "968" {
			t.Fatalf("ratings count = %q", row[14])
		}
		if row[17] != "4.6" {
			t.Fatalf("avg rating = %q", row[17])
		}
	}
}

func TestRunDeterministicSample(t *testing.T) {
	run := func() []string {
		cfg := testConfig(t)
		cfg.SampleSize = 3
		cfg.FetchReviews = false

		transport := httpmock.NewMockTransport()
		var locs []string
		for i := 0; i < 10; i++ {
			productURL := fmt.Sprintf("http://example.test/marketplace/pp/prodview-%02d", i)
			locs = append(locs, productURL)
			transport.RegisterResponder("GET", productURL, htmlResponder(buildProductPage(i)))
		}
		transport.RegisterResponder("GET", testSitemapURL, xmlResponder(buildSitemap(locs...)))

		s, err := NewScraper(cfg)
		if err != nil {
			t.Fatalf("new scraper: %v", err)
		}
		s.SetTransport(transport)
		s.DisableDelays()

		writer, err := pipeline.NewCSVWriter(cfg.OutputFile)
		if err != nil {
			t.Fatalf("new writer: %v", err)
		}
		defer writer.Close()
		dataset, err := pipeline.NewDataset(writer, cfg)
		if err != nil {
			t.Fatalf("new dataset: %v", err)
		}

		result, err := s.Run(context.Background(), dataset)
		if err != nil {
			t.Fatalf("run: %v", err)
		}

		var urls []string
		for _, record := range result.Records {
			urls = append(urls, record.URL)
		}
		return urls
	}

	first := run()
	second := run()
	if strings.Join(first, ",") != strings.Join(second, ",") {
		t.Fatalf("fixed seed should sample identically:\n%v\n%v", first, second)
	}
}

func TestRunSkipsFailedURLsAndContinues(t *testing.T) {
	cfg := testConfig(t)
	cfg.SampleSize = 10
	cfg.SamplePolicy = config.PolicyInterval
	cfg.FetchReviews = false

	goodURL := "http://example.test/marketplace/pp/prodview-good"
	missingURL := "http://example.test/marketplace/pp/prodview-missing"
	brokenURL := "http://example.test/marketplace/pp/prodview-broken"

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testSitemapURL,
		xmlResponder(buildSitemap(missingURL, brokenURL, goodURL)))
	transport.RegisterResponder("GET", missingURL, httpmock.NewStringResponder(404, ""))
	transport.RegisterResponder("GET", brokenURL, htmlResponder("<html><body><p>placeholder</p></body></html>"))
	transport.RegisterResponder("GET", goodURL, htmlResponder(buildProductPage(1)))

	s, err := NewScraper(cfg)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	s.SetTransport(transport)
	s.DisableDelays()

	writer, err := pipeline.NewCSVWriter(cfg.OutputFile)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	defer writer.Close()
	dataset, err := pipeline.NewDataset(writer, cfg)
	if err != nil {
		t.Fatalf("new dataset: %v", err)
	}

	result, err := s.Run(context.Background(), dataset)
	if err != nil {
		t.Fatalf("per-URL failures must not abort the run: %v", err)
	}

	if result.TotalCount != 1 {
		t.Fatalf("total = %d, want 1", result.TotalCount)
	}
	if result.ErrorCount != 2 {
		t.Fatalf("errors = %d, want 2 (%v)", result.ErrorCount, result.Skipped)
	}

	reasons := make(map[string]string)
	for _, skip := range result.Skipped {
		reasons[skip.URL] = skip.Reason
	}
	if reasons[missingURL] != "not_found" {
		t.Fatalf("missing url reason = %q", reasons[missingURL])
	}
	if reasons[brokenURL] != "unrecognized_layout" {
		t.Fatalf("broken url reason = %q", reasons[brokenURL])
	}
}

func TestRunResumeSkipsCompletedProducts(t *testing.T) {
	cfg := testConfig(t)
	cfg.SampleSize = 10
	cfg.SamplePolicy = config.PolicyInterval
	cfg.FetchReviews = false
	cfg.Resume = true

	firstURL := "http://example.test/marketplace/pp/prodview-00"
	secondURL := "http://example.test/marketplace/pp/prodview-01"

	// first run sees a sitemap with only prodview-00
	{
		transport := httpmock.NewMockTransport()
		transport.RegisterResponder("GET", testSitemapURL, xmlResponder(buildSitemap(firstURL)))
		transport.RegisterResponder("GET", firstURL, htmlResponder(buildProductPage(0)))

		s, err := NewScraper(cfg)
		if err != nil {
			t.Fatalf("new scraper: %v", err)
		}
		s.SetTransport(transport)
		s.DisableDelays()

		writer, err := pipeline.NewAppendCSVWriter(cfg.OutputFile)
		if err != nil {
			t.Fatalf("new writer: %v", err)
		}
		dataset, err := pipeline.NewDataset(writer, cfg)
		if err != nil {
			t.Fatalf("new dataset: %v", err)
		}

		if _, err := s.Run(context.Background(), dataset); err != nil {
			t.Fatalf("first run: %v", err)
		}
		if err := writer.Close(); err != nil {
			t.Fatalf("close writer: %v", err)
		}
	}

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testSitemapURL, xmlResponder(buildSitemap(firstURL, secondURL)))
	transport.RegisterResponder("GET", firstURL, htmlResponder(buildProductPage(0)))
	transport.RegisterResponder("GET", secondURL, htmlResponder(buildProductPage(1)))

	s, err := NewScraper(cfg)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	s.SetTransport(transport)
	s.DisableDelays()

	writer, err := pipeline.NewAppendCSVWriter(cfg.OutputFile)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	dataset, err := pipeline.NewDataset(writer, cfg)
	if err != nil {
		t.Fatalf("new dataset: %v", err)
	}

	result, err := s.Run(context.Background(), dataset)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	if result.TotalCount != 1 {
		t.Fatalf("resumed run total = %d, want only the new product", result.TotalCount)
	}
	if result.Records[0].URL != secondURL {
		t.Fatalf("resumed run scraped %q, want %q", result.Records[0].URL, secondURL)
	}

	f, err := os.Open(cfg.OutputFile)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header plus both products", len(rows))
	}
}

func TestReviewListURL(t *testing.T) {
	got := reviewListURL("https://aws.amazon.com/marketplace/pp/prodview-abc?ref=search", "prodview-abc")
	want := "https://aws.amazon.com/marketplace/reviews/reviews-list/prodview-abc"
	if got != want {
		t.Fatalf("reviewListURL = %q, want %q", got, want)
	}
	if reviewListURL("://bad", "prodview-abc") != "" {
		t.Fatalf("invalid product URL should yield empty reviews URL")
	}
}
