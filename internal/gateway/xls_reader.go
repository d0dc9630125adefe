package gateway

import (
	"context"
	"fmt"

	"github.com/extrame/xls"

	"revenue-reconciler/internal/domain"
)

// XLSReader reads legacy BIFF workbooks.
type XLSReader struct {
	charset string
}

// NewXLSReader creates a new reader instance.
func NewXLSReader() *XLSReader {
	return &XLSReader{charset: "utf-8"}
}

// ReadTable returns the cell text of the first sheet. The xls decoder panics on
// some malformed files, which is reported as a format error.
func (r *XLSReader) ReadTable(ctx context.Context, path string) (table [][]string, err error) {
	defer func() {
		if p := recover(); p != nil {
			table, err = nil, fmt.Errorf("%w: failed to decode %s: %v", domain.ErrFileFormat, path, p)
		}
	}()

	book, err := xls.Open(path, r.charset)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open workbook %s: %v", domain.ErrFileFormat, path, err)
	}
	sheet := book.GetSheet(0)
	if sheet == nil {
		return nil, fmt.Errorf("%w: workbook %s has no sheets", domain.ErrFileFormat, path)
	}

	for i := 0; i <= int(sheet.MaxRow); i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row := sheet.Row(i)
		if row == nil {
			table = append(table, nil)
			continue
		}
		cells := make([]string, row.LastCol())
		for c := row.FirstCol(); c < row.LastCol(); c++ {
			cells[c] = row.Col(c)
		}
		table = append(table, cells)
	}
	return table, nil
}
