// Package extract parses marketplace pages into product records. Absent
// fields stay absent; only a page whose layout is unrecognizable is an error.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/lmfraga/mpscraper/models"
	"github.com/lmfraga/mpscraper/sitemap"
)

// ErrUnrecognizedLayout reports a page with no marketplace structure at all.
// The record is discarded; a missing individual field never raises this.
var ErrUnrecognizedLayout = errors.New("extract: unrecognized page layout")

// Pricing model labels, most specific signal first.
const (
	PricingFreeTrial     = "free_trial"
	PricingFree          = "free"
	PricingBYOL          = "byol"
	PricingUsageBased    = "usage_based"
	PricingHourly        = "hourly"
	PricingMonthly       = "monthly"
	PricingContract      = "contract"
	PricingAnnual        = "annual"
	PricingContactSeller = "contact_seller"
	PricingUnknown       = "unknown"
)

// Delivery model labels.
const (
	DeliverySaaS         = "SaaS"
	DeliveryAMI          = "AMI"
	DeliveryContainer    = "Container"
	DeliveryProfServices = "Professional Services"
	DeliveryData         = "Data"
)

var (
	whitespaceRe      = regexp.MustCompile(`\s+`)
	contractTermRe    = regexp.MustCompile(`(?i)\b(\d+)\s*-\s*month contract\b`)
	contractTermAltRe = regexp.MustCompile(`(?i)\b(\d+)\s*month contract\b`)
	priceRe           = regexp.MustCompile(`\$\s*([0-9]{1,3}(?:,[0-9]{3})*(?:\.[0-9]{2})?)`)
	freeWordRe        = regexp.MustCompile(`\bfree\b`)
)

// Product parses one product page body into a record keyed by url.
func Product(body []byte, rawurl string) (*models.ProductRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse product page: %w", err)
	}

	name := productName(doc)
	provider := sellerName(doc)
	categories := categoryPath(doc)
	pageText := NormalizeText(doc.Text())

	if name == "" && provider == "" && len(categories) == 0 &&
		!strings.Contains(strings.ToLower(pageText), "marketplace") {
		return nil, ErrUnrecognizedLayout
	}

	record := &models.ProductRecord{
		URL:        rawurl,
		ProductID:  sitemap.ProductID(rawurl),
		Name:       name,
		Provider:   provider,
		Categories: categories,
		Delivery:   DetectDelivery(pageText),
		Pricing:    ClassifyPricing(pageText),
		ScrapedAt:  time.Now(),
	}
	if len(categories) > 0 {
		record.CategoryPrimary = categories[0]
	}
	record.ContractTerms = contractTerms(pageText)
	record.PriceVisible, record.PriceMinUSD, record.PriceMaxUSD = priceRange(pageText)

	return record, nil
}

// productName reads the page title, dropping the marketplace prefix.
func productName(doc *goquery.Document) string {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(title), "aws marketplace:") {
		_, rest, _ := strings.Cut(title, ":")
		return strings.TrimSpace(rest)
	}
	return title
}

// sellerName returns the first non-empty seller-profile link text.
func sellerName(doc *goquery.Document) string {
	name := ""
	doc.Find(`a[href*="/marketplace/seller-profile"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if text := strings.TrimSpace(s.Text()); text != "" {
			name = text
			return false
		}
		return true
	})
	return name
}

// categoryPath collects category link texts in document order, root to leaf.
func categoryPath(doc *goquery.Document) []string {
	var cats []string
	doc.Find(`a[href*="/marketplace/b/"]`).Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			cats = append(cats, text)
		}
	})
	return cats
}

// DetectDelivery classifies the provisioning model from page text keywords.
func DetectDelivery(pageText string) string {
	t := strings.ToLower(pageText)
	switch {
	case strings.Contains(t, "software as a service") || strings.Contains(t, "(saas)"):
		return DeliverySaaS
	case strings.Contains(t, "amazon machine image") || strings.Contains(t, "(ami)"):
		return DeliveryAMI
	case strings.Contains(t, "container") &&
		(strings.Contains(t, "kubernetes") || strings.Contains(t, "ecs") || strings.Contains(t, "ecr")):
		return DeliveryContainer
	case strings.Contains(t, "professional services"):
		return DeliveryProfServices
	case strings.Contains(t, "data product") || strings.Contains(t, "data exchange") || strings.Contains(t, "data sets"):
		return DeliveryData
	}
	return ""
}

// ClassifyPricing maps page text to a pricing model label. Signals are
// checked most specific first; pages with no pricing section classify as
// unknown, which reflects hidden pricing rather than a parse fault.
func ClassifyPricing(pageText string) string {
	t := strings.ToLower(pageText)

	switch {
	case strings.Contains(t, "free trial"):
		return PricingFreeTrial
	case strings.Contains(t, "bring your own license") || strings.Contains(t, "byol"):
		return PricingBYOL
	case strings.Contains(t, "usage-based") || strings.Contains(t, "usage based"):
		return PricingUsageBased
	case strings.Contains(t, "cost/hour") || strings.Contains(t, "hourly"):
		return PricingHourly
	case strings.Contains(t, "cost/month"):
		return PricingMonthly
	case strings.Contains(t, "12-month contract") || strings.Contains(t, "12 month contract"):
		return PricingContract
	case strings.Contains(t, "pricing is based on the duration and terms of your contract"):
		return PricingContract
	case strings.Contains(t, "annual"):
		return PricingAnnual
	case strings.Contains(t, "contact seller"),
		strings.Contains(t, "contact") && strings.Contains(t, "pricing"):
		return PricingContactSeller
	}

	if freeWordRe.MatchString(t) && !strings.Contains(t, "$") && !strings.Contains(t, "cost/") {
		return PricingFree
	}
	return PricingUnknown
}

// contractTerms collects the advertised contract durations, e.g.
// "1-month,12-month,36-month".
func contractTerms(pageText string) string {
	matches := contractTermRe.FindAllStringSubmatch(pageText, -1)
	if matches == nil {
		matches = contractTermAltRe.FindAllStringSubmatch(pageText, -1)
	}
	if matches == nil {
		return ""
	}

	seen := make(map[int]struct{})
	var months []int
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		months = append(months, n)
	}
	sort.Ints(months)

	terms := make([]string, 0, len(months))
	for _, n := range months {
		terms = append(terms, fmt.Sprintf("%d-month", n))
	}
	return strings.Join(terms, ",")
}

// priceRange scans for USD amounts and reports visibility plus min/max.
func priceRange(pageText string) (bool, *float64, *float64) {
	matches := priceRe.FindAllStringSubmatch(pageText, -1)
	var vals []float64
	for _, m := range matches {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		vals = append(vals, v)
	}
	if len(vals) == 0 {
		return false, nil, nil
	}

	min, max := vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return true, &min, &max
}

// NormalizeText collapses runs of whitespace into single spaces.
func NormalizeText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// ValidateRecord ensures a record is fit for the dataset.
func ValidateRecord(r *models.ProductRecord) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("record missing url")
	}
	return nil
}
