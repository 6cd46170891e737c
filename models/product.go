// Package models defines data structures for the scraper.
package models

import (
	"strings"
	"time"
)

// URLType classifies a sitemap URL by marketplace section.
type URLType string

const (
	URLTypeProduct  URLType = "product"
	URLTypeSeller   URLType = "seller"
	URLTypeCategory URLType = "category"
	URLTypeOther    URLType = "other"
)

// TaxonomyEntry is one classified sitemap URL.
type TaxonomyEntry struct {
	URL  string  `csv:"url" json:"url"`
	Type URLType `csv:"type" json:"type"`
	Slug string  `csv:"slug" json:"slug"`
}

// ProductRecord is one scraped marketplace listing. Every field except URL
// is optional; an empty or nil value means the platform did not disclose it.
type ProductRecord struct {
	URL             string    `csv:"url" json:"url"`
	ProductID       string    `csv:"product_id" json:"product_id,omitempty"`
	Name            string    `csv:"product_name" json:"product_name,omitempty"`
	Provider        string    `csv:"seller_name" json:"seller_name,omitempty"`
	CategoryPrimary string    `csv:"category_primary" json:"category_primary,omitempty"`
	Categories      []string  `csv:"categories_all" json:"categories_all,omitempty"`
	Delivery        string    `csv:"delivery_method" json:"delivery_method,omitempty"`
	Pricing         string    `csv:"pricing_type" json:"pricing_type"`
	ContractTerms   string    `csv:"contract_terms" json:"contract_terms,omitempty"`
	PriceVisible    bool      `csv:"price_visible" json:"price_visible"`
	PriceMinUSD     *float64  `csv:"price_min_usd" json:"price_min_usd,omitempty"`
	PriceMaxUSD     *float64  `csv:"price_max_usd" json:"price_max_usd,omitempty"`
	ReviewsPage     bool      `csv:"reviews_page_exists" json:"reviews_page_exists"`
	ReviewsSupport  bool      `csv:"reviews_supported" json:"reviews_supported"`
	RatingsCount    *int      `csv:"ratings_count" json:"ratings_count,omitempty"`
	AWSReviews      *int      `csv:"aws_reviews_count" json:"aws_reviews_count,omitempty"`
	ExternalReviews *int      `csv:"external_reviews_count" json:"external_reviews_count,omitempty"`
	AvgRating       *float64  `csv:"avg_rating" json:"avg_rating,omitempty"`
	ScrapedAt       time.Time `csv:"scraped_at" json:"scraped_at"`
}

// CategoriesJoined renders the category hierarchy root-to-leaf as one cell.
func (r *ProductRecord) CategoriesJoined() string {
	return strings.Join(r.Categories, "|")
}

// ReviewSummary holds fields parsed from a product's review-list page.
type ReviewSummary struct {
	PageExists      bool
	Supported       bool
	RatingsCount    *int
	AWSReviews      *int
	ExternalReviews *int
	AvgRating       *float64
}

// MergeReviews copies review-page fields into the record.
func (r *ProductRecord) MergeReviews(rs ReviewSummary) {
	r.ReviewsPage = rs.PageExists
	r.ReviewsSupport = rs.Supported
	r.RatingsCount = rs.RatingsCount
	r.AWSReviews = rs.AWSReviews
	r.ExternalReviews = rs.ExternalReviews
	r.AvgRating = rs.AvgRating
}

// SkippedURL records a URL dropped during the run and why.
type SkippedURL struct {
	URL    string
	Reason string
}

// RunResult holds the overall result of a scraping run.
type RunResult struct {
	Records      []*ProductRecord
	StartTime    time.Time
	EndTime      time.Time
	TotalCount   int
	ErrorCount   int
	RetryCount   int
	RequestCount int
	Skipped      []SkippedURL
	ErrorsByType map[string]int
}
