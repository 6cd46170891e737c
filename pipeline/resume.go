package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// CompletedIDs reads a previous run's products CSV and returns the product
// IDs it already holds, so a resumed run can skip them. A missing file means
// nothing to resume.
func CompletedIDs(filename string) (map[string]struct{}, error) {
	f, err := os.Open(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("open resume file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("read resume header: %w", err)
	}

	idCol := -1
	for i, name := range header {
		if name == "product_id" {
			idCol = i
			break
		}
	}
	if idCol == -1 {
		return map[string]struct{}{}, nil
	}

	done := make(map[string]struct{})
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read resume row: %w", err)
		}
		if idCol < len(row) && row[idCol] != "" {
			done[row[idCol]] = struct{}{}
		}
	}
	return done, nil
}
