package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/lmfraga/mpscraper/models"
)

// WriteTaxonomy saves the classified sitemap URL listing as CSV.
func WriteTaxonomy(filename string, entries []models.TaxonomyEntry) error {
	if err := ensureDir(filename); err != nil {
		return err
	}

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create taxonomy file: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	if err := writer.Write([]string{"url", "type", "slug"}); err != nil {
		return fmt.Errorf("write taxonomy header: %w", err)
	}
	for _, e := range entries {
		if err := writer.Write([]string{e.URL, string(e.Type), e.Slug}); err != nil {
			return fmt.Errorf("write taxonomy row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush taxonomy file: %w", err)
	}
	return nil
}
