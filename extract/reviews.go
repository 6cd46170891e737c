package extract

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/lmfraga/mpscraper/models"
)

var (
	awsReviewsRe      = regexp.MustCompile(`(?i)(\d[\d,]*)\s+AWS reviews\b`)
	externalReviewsRe = regexp.MustCompile(`(?i)(\d[\d,]*)\s+external reviews\b`)
	ratingsCountRe    = regexp.MustCompile(`(?i)(\d[\d,]*)\s+ratings\b`)
	avgRatingRe       = regexp.MustCompile(`(?i)\b([0-5]\.\d)\s+out of 5\b`)
)

// NoReviewsPage is the summary for a product whose review-list page does not
// exist (404) or could not be fetched.
func NoReviewsPage() models.ReviewSummary {
	return models.ReviewSummary{}
}

// Reviews parses a review-list page body. A page stating that reviews are
// not supported, or one with no meaningful content, yields an unsupported
// summary rather than an error.
func Reviews(body []byte) models.ReviewSummary {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return models.ReviewSummary{PageExists: true}
	}

	text := NormalizeText(doc.Text())
	if len(text) < 50 {
		return models.ReviewSummary{PageExists: true}
	}
	if strings.Contains(strings.ToLower(text), "reviews are not supported") {
		return models.ReviewSummary{PageExists: true}
	}

	summary := models.ReviewSummary{PageExists: true, Supported: true}
	summary.AWSReviews = matchCount(awsReviewsRe, text)
	summary.ExternalReviews = matchCount(externalReviewsRe, text)
	summary.RatingsCount = matchCount(ratingsCountRe, text)

	if m := avgRatingRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			summary.AvgRating = &v
		}
	}
	return summary
}

func matchCount(re *regexp.Regexp, text string) *int {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return nil
	}
	return &n
}
