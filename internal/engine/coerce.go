package engine

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var errEmptyCell = errors.New("empty cell")

// dateLayouts are tried in order; day-first layouts come after month-first
// ones because the upstream exports are US formatted.
var dateLayouts = []string{
	time.DateOnly,
	time.DateTime,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"2006/01/02 15:04:05",
	"01/02/2006",
	"01/02/2006 15:04",
	"01/02/2006 15:04:05",
	"1/2/2006",
	"1/2/2006 15:04",
	"01-02-06",
	"1-2-06",
	"02.01.2006",
	"02-Jan-2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"January 2, 2006",
}

// maxExcelSerial is 9999-12-31 in the 1900 date system.
const maxExcelSerial = 2958465

// parseAmount coerces a spreadsheet cell into a decimal. Thousands
// separators, currency symbols and accounting parentheses are accepted.
func parseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, errEmptyCell
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ',', ' ', '\u00a0', '$', '€', '£', '₹', '¥':
			return -1
		}
		return r
	}, s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// parseDate coerces a cell into a calendar date at UTC midnight. Numeric
// cells are read as Excel serial dates.
func parseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, errEmptyCell
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return calendarDate(t), nil
		}
	}
	serial, err := strconv.ParseFloat(s, 64)
	if err == nil && serial > 0 && serial <= maxExcelSerial {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			return calendarDate(t), nil
		}
	}
	return time.Time{}, &time.ParseError{Layout: time.DateOnly, Value: s, Message: ": unrecognised date format"}
}

func calendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
