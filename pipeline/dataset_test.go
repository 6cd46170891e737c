package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/lmfraga/mpscraper/config"
	"github.com/lmfraga/mpscraper/models"
)

type collectingWriter struct {
	records []*models.ProductRecord
	err     error
}

func (cw *collectingWriter) Write(records []*models.ProductRecord) error {
	if cw.err != nil {
		return cw.err
	}
	cw.records = append(cw.records, records...)
	return nil
}

func (cw *collectingWriter) Close() error    { return nil }
func (cw *collectingWriter) Validate() error { return nil }

func record(url string) *models.ProductRecord {
	return &models.ProductRecord{URL: url, Pricing: "unknown", ScrapedAt: time.Now()}
}

func TestDatasetAppendsAndWritesThrough(t *testing.T) {
	writer := &collectingWriter{}
	dataset, err := NewDataset(writer, config.DefaultConfig())
	if err != nil {
		t.Fatalf("new dataset: %v", err)
	}

	if err := dataset.Add(record("https://example.test/pp/prodview-a")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := dataset.Add(record("https://example.test/pp/prodview-b")); err != nil {
		t.Fatalf("add: %v", err)
	}

	if dataset.Len() != 2 {
		t.Fatalf("len = %d, want 2", dataset.Len())
	}
	if len(writer.records) != 2 {
		t.Fatalf("written = %d, want 2", len(writer.records))
	}
}

func TestDatasetDropsDuplicatesAndInvalid(t *testing.T) {
	writer := &collectingWriter{}
	dataset, err := NewDataset(writer, config.DefaultConfig())
	if err != nil {
		t.Fatalf("new dataset: %v", err)
	}

	url := "https://example.test/pp/prodview-a"
	if err := dataset.Add(record(url)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := dataset.Add(record(url)); err != nil {
		t.Fatalf("duplicate add should not error: %v", err)
	}
	if err := dataset.Add(record("")); err != nil {
		t.Fatalf("invalid add should not error: %v", err)
	}

	if dataset.Len() != 1 {
		t.Fatalf("len = %d, want 1", dataset.Len())
	}
	dropped := dataset.Dropped()
	if dropped["duplicate_url"] != 1 || dropped["invalid_record"] != 1 {
		t.Fatalf("dropped = %v", dropped)
	}
}

func TestDatasetPropagatesWriterError(t *testing.T) {
	writer := &collectingWriter{err: errors.New("disk full")}
	dataset, err := NewDataset(writer, config.DefaultConfig())
	if err != nil {
		t.Fatalf("new dataset: %v", err)
	}

	if err := dataset.Add(record("https://example.test/pp/prodview-a")); err == nil {
		t.Fatalf("writer failure must surface")
	}
	if dataset.Len() != 0 {
		t.Fatalf("failed write must not be recorded")
	}
}
