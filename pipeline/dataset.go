// Package pipeline accumulates product records and serializes the dataset.
package pipeline

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lmfraga/mpscraper/config"
	"github.com/lmfraga/mpscraper/extract"
	"github.com/lmfraga/mpscraper/models"
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []*models.ProductRecord) error
	Close() error
	Validate() error
}

// Dataset accumulates validated, deduplicated records and streams each one
// to the writer as it arrives, so an interrupted run keeps what it has.
// Records are append-only; nothing is mutated after Add.
type Dataset struct {
	writer  OutputWriter
	seen    *lru.Cache[string, struct{}]
	records []*models.ProductRecord
	dropped map[string]int
}

// NewDataset builds a dataset writing through to writer.
func NewDataset(writer OutputWriter, cfg *config.Config) (*Dataset, error) {
	seen, err := lru.New[string, struct{}](cfg.DedupeMaxSize)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}
	return &Dataset{
		writer:  writer,
		seen:    seen,
		dropped: make(map[string]int),
	}, nil
}

// Add validates and appends one record, writing it through immediately.
// Invalid and duplicate records are counted and dropped; a writer failure
// is returned and is fatal to the run.
func (d *Dataset) Add(record *models.ProductRecord) error {
	if err := extract.ValidateRecord(record); err != nil {
		d.dropped["invalid_record"]++
		return nil
	}
	if _, ok := d.seen.Get(record.URL); ok {
		d.dropped["duplicate_url"]++
		return nil
	}
	d.seen.Add(record.URL, struct{}{})

	if err := d.writer.Write([]*models.ProductRecord{record}); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	d.records = append(d.records, record)
	return nil
}

// Len returns the number of accumulated records.
func (d *Dataset) Len() int {
	return len(d.records)
}

// Records returns the accumulated records in insertion order.
func (d *Dataset) Records() []*models.ProductRecord {
	out := make([]*models.ProductRecord, len(d.records))
	copy(out, d.records)
	return out
}

// Dropped returns counters for records rejected before writing.
func (d *Dataset) Dropped() map[string]int {
	out := make(map[string]int, len(d.dropped))
	for k, v := range d.dropped {
		out[k] = v
	}
	return out
}
