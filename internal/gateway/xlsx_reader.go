package gateway

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"revenue-reconciler/internal/domain"
)

// XLSXReader reads Office Open XML workbooks.
type XLSXReader struct{}

// NewXLSXReader creates a new reader instance.
func NewXLSXReader() *XLSXReader {
	return &XLSXReader{}
}

// ReadTable returns the stored cell values of the first sheet. Number formats
// are ignored, so amounts keep their precision and dates come back as Excel
// serial numbers.
func (r *XLSXReader) ReadTable(ctx context.Context, path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open workbook %s: %v", domain.ErrFileFormat, path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook %s has no sheets", domain.ErrFileFormat, path)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read sheet %q of %s: %v", domain.ErrFileFormat, sheets[0], path, err)
	}
	return rows, nil
}
