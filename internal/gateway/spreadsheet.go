package gateway

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"revenue-reconciler/internal/domain"
)

// TableReader returns the cells of the first sheet of a file, header row first.
type TableReader interface {
	ReadTable(ctx context.Context, path string) ([][]string, error)
}

// SpreadsheetReader implements the usecase SpreadsheetReader by picking a
// table reader from the file extension.
type SpreadsheetReader struct {
	readers map[string]TableReader
}

// NewSpreadsheetReader creates a reader for .xlsx, .xlsm, .xls and .csv files.
func NewSpreadsheetReader() *SpreadsheetReader {
	xlsx := NewXLSXReader()
	return &SpreadsheetReader{readers: map[string]TableReader{
		".xlsx": xlsx,
		".xlsm": xlsx,
		".xls":  NewXLSReader(),
		".csv":  NewCSVReader(),
	}}
}

// SupportedFile reports whether name has an extension the reader understands.
func SupportedFile(name string) bool {
	_, ok := NewSpreadsheetReader().readers[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Read loads the first sheet of path.
func (r *SpreadsheetReader) Read(ctx context.Context, path string) (*domain.Sheet, error) {
	ext := strings.ToLower(filepath.Ext(path))
	reader, ok := r.readers[ext]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported file type %q", domain.ErrFileFormat, ext)
	}
	table, err := reader.ReadTable(ctx, path)
	if err != nil {
		return nil, err
	}
	return buildSheet(path, table)
}

// Headers returns only the header row of path.
func (r *SpreadsheetReader) Headers(ctx context.Context, path string) ([]string, error) {
	sheet, err := r.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	return sheet.Headers, nil
}

// buildSheet turns a cell table into header-keyed rows. Header cells are
// trimmed, short rows are padded and blank rows are dropped. When a header
// repeats, the first column wins.
func buildSheet(path string, table [][]string) (*domain.Sheet, error) {
	if len(table) == 0 || blank(table[0]) {
		return nil, fmt.Errorf("%w: %s has no header row", domain.ErrFileFormat, filepath.Base(path))
	}

	headers := make([]string, len(table[0]))
	for i, h := range table[0] {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	for len(headers) > 0 && headers[len(headers)-1] == "" {
		headers = headers[:len(headers)-1]
	}

	sheet := &domain.Sheet{Headers: headers}
	for _, cells := range table[1:] {
		if blank(cells) {
			continue
		}
		row := make(domain.RawRow, len(headers))
		for i, h := range headers {
			if h == "" {
				continue
			}
			if _, dup := row[h]; dup {
				continue
			}
			if i < len(cells) {
				row[h] = cells[i]
			} else {
				row[h] = ""
			}
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet, nil
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
