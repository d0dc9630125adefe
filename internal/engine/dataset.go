package engine

import (
	"sort"

	"revenue-reconciler/internal/domain"
)

// Dataset is the ordered records of one file plus a key index. Records with
// an empty key are kept for counting but never indexed.
type Dataset struct {
	Origin  domain.Origin
	Name    string
	Records []domain.Record

	index map[string][]int
	keys  []string
}

// NewDataset indexes records by exact key string.
func NewDataset(origin domain.Origin, name string, records []domain.Record) *Dataset {
	d := &Dataset{
		Origin:  origin,
		Name:    name,
		Records: records,
		index:   make(map[string][]int, len(records)),
	}
	for i, r := range records {
		if r.Key == "" {
			continue
		}
		if _, seen := d.index[r.Key]; !seen {
			d.keys = append(d.keys, r.Key)
		}
		d.index[r.Key] = append(d.index[r.Key], i)
	}
	sort.Strings(d.keys)
	return d
}

// Len is the number of records, including unindexed ones.
func (d *Dataset) Len() int {
	return len(d.Records)
}

// Empty reports whether the file had no records at all.
func (d *Dataset) Empty() bool {
	return len(d.Records) == 0
}

// Keys returns the distinct keys in ascending order.
func (d *Dataset) Keys() []string {
	return d.keys
}

// Has reports whether key occurs at least once.
func (d *Dataset) Has(key string) bool {
	_, ok := d.index[key]
	return ok
}

// Lookup returns every record with key, in file order.
func (d *Dataset) Lookup(key string) []domain.Record {
	idx := d.index[key]
	if len(idx) == 0 {
		return nil
	}
	out := make([]domain.Record, len(idx))
	for i, j := range idx {
		out[i] = d.Records[j]
	}
	return out
}

// IsDuplicated reports whether key occurs more than once.
func (d *Dataset) IsDuplicated(key string) bool {
	return len(d.index[key]) > 1
}

// DuplicateKeys returns the duplicated keys in ascending order.
func (d *Dataset) DuplicateKeys() []string {
	var out []string
	for _, k := range d.keys {
		if d.IsDuplicated(k) {
			out = append(out, k)
		}
	}
	return out
}

// DuplicateRecordCount is the number of records whose key is duplicated.
func (d *Dataset) DuplicateRecordCount() int {
	n := 0
	for _, k := range d.keys {
		if c := len(d.index[k]); c > 1 {
			n += c
		}
	}
	return n
}

// InvalidRecordCount is the number of records with at least one bad field or
// no key.
func (d *Dataset) InvalidRecordCount() int {
	n := 0
	for _, r := range d.Records {
		if r.Key == "" || len(r.Invalid) > 0 {
			n++
		}
	}
	return n
}
