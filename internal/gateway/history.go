package gateway

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"revenue-reconciler/internal/domain"
)

var (
	// ErrInvalidReportName is returned for names that could escape the history directory.
	ErrInvalidReportName = errors.New("invalid report name")
	// ErrReportNotFound is returned when no stored report has the given name.
	ErrReportNotFound = errors.New("report not found")
)

// HistoryEntry describes one stored report.
type HistoryEntry struct {
	Name string `json:"name"`
	Date string `json:"date"`
	Size string `json:"size"`

	modTime time.Time
}

// SummaryItem is one metric read back from a stored report.
type SummaryItem struct {
	Metric string `json:"metric"`
	Value  string `json:"value"`
}

// History keeps written reports in a directory.
type History struct {
	dir    string
	writer *ReportWriter
	now    func() time.Time
}

// NewHistory creates a store rooted at dir. The directory is created on the
// first save.
func NewHistory(dir string, writer *ReportWriter) *History {
	return &History{dir: dir, writer: writer, now: time.Now}
}

// Dir returns the directory reports are stored in.
func (h *History) Dir() string {
	return h.dir
}

// Save writes report under a name derived from its brands, the current day
// and its run id, and returns that name. An existing report is never replaced:
// a numeric suffix is added until the name is free.
func (h *History) Save(report *domain.ComparisonReport) (string, error) {
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create history directory %s: %w", h.dir, err)
	}

	tmp, err := os.CreateTemp(h.dir, ".report-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := h.writer.Write(report, tmp); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to flush report: %w", err)
	}

	base := strings.TrimSuffix(ReportFileName(report, h.now()), ".xlsx")
	if token := runToken(report.RunID); token != "" {
		base += "-" + token
	}
	for i := 1; i <= maxNameAttempts; i++ {
		name := base + ".xlsx"
		if i > 1 {
			name = fmt.Sprintf("%s-%d.xlsx", base, i)
		}
		// Link fails on an existing target, so concurrent saves cannot
		// claim the same name.
		err := os.Link(tmp.Name(), filepath.Join(h.dir, name))
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("failed to store report %s: %w", name, err)
		}
	}
	return "", fmt.Errorf("failed to store report %s: no free name after %d attempts", base, maxNameAttempts)
}

const maxNameAttempts = 1000

// runToken is the file name fragment identifying a run: its first eight
// lowercase alphanumerics.
func runToken(runID string) string {
	var sb strings.Builder
	for _, c := range strings.ToLower(runID) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			sb.WriteRune(c)
			if sb.Len() == 8 {
				break
			}
		}
	}
	return sb.String()
}

// List returns stored spreadsheets, newest first. A missing directory is an
// empty history.
func (h *History) List() ([]HistoryEntry, error) {
	entries, err := os.ReadDir(h.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []HistoryEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list history directory %s: %w", h.dir, err)
	}

	out := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isReport(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, HistoryEntry{
			Name:    e.Name(),
			Date:    info.ModTime().Format(time.DateTime),
			Size:    fmt.Sprintf("%.2f MB", float64(info.Size())/(1024*1024)),
			modTime: info.ModTime(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].modTime.After(out[j].modTime) })
	return out, nil
}

// Path resolves name inside the history directory.
func (h *History) Path(name string) (string, error) {
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) || !isReport(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidReportName, name)
	}
	path := filepath.Join(h.dir, name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrReportNotFound, name)
		}
		return "", fmt.Errorf("failed to stat report %s: %w", name, err)
	}
	return path, nil
}

// Open opens a stored report for reading.
func (h *History) Open(name string) (*os.File, error) {
	path, err := h.Path(name)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Summary reads the metric rows of a stored report's summary sheet.
func (h *History) Summary(name string) ([]SummaryItem, error) {
	path, err := h.Path(name)
	if err != nil {
		return nil, err
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open report %s: %v", domain.ErrFileFormat, name, err)
	}
	defer f.Close()

	rows, err := f.GetRows(SummarySheet)
	if err != nil {
		return nil, fmt.Errorf("%w: report %s has no %s sheet: %v", domain.ErrFileFormat, name, SummarySheet, err)
	}
	items := make([]SummaryItem, 0, len(rows))
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		item := SummaryItem{Metric: row[0]}
		if len(row) > 1 {
			item.Value = row[1]
		}
		items = append(items, item)
	}
	return items, nil
}

// Prune deletes reports last modified before now minus retention and returns
// how many were removed.
func (h *History) Prune(retention time.Duration) (int, error) {
	entries, err := h.List()
	if err != nil {
		return 0, err
	}
	cutoff := h.now().Add(-retention)
	removed := 0
	for _, e := range entries {
		if !e.modTime.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(h.dir, e.Name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("failed to remove report %s: %w", e.Name, err)
		}
		removed++
	}
	return removed, nil
}

func isReport(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xls":
		return true
	}
	return false
}
