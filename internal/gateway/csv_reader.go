package gateway

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"revenue-reconciler/internal/domain"
)

// CSVReader reads comma separated files.
type CSVReader struct{}

// NewCSVReader creates a new reader instance.
func NewCSVReader() *CSVReader {
	return &CSVReader{}
}

// ReadTable reads every record of the file. Rows may have differing lengths.
func (r *CSVReader) ReadTable(ctx context.Context, path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var table [][]string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: error reading record from %s: %v", domain.ErrFileFormat, path, err)
		}
		table = append(table, record)
	}
	return table, nil
}
