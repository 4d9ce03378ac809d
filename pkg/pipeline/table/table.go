// Package table holds the in-memory tabular model shared by the CSV reader,
// the merge step and the CSV writer.
package table

import (
	"github.com/palantir/csv-aggregator/pkg/pipeline/schema"
)

// Cell is one field value. A cell that is not Valid is a missing value: the
// column did not exist in the source the row came from.
type Cell struct {
	Value string
	Valid bool
}

// Missing is the missing-value cell.
var Missing = Cell{}

// Text returns a present cell holding s.
func Text(s string) Cell {
	return Cell{Value: s, Valid: true}
}

// Row is a record aligned with Dataset.Columns.
type Row []Cell

// Dataset is a table with named columns and ordered rows.
type Dataset struct {
	Columns []string
	Rows    []Row
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// Empty reports whether the dataset has no rows.
func (d *Dataset) Empty() bool {
	return d.Len() == 0
}

// Column returns the values of the named column, or false if it does not exist.
func (d *Dataset) Column(name string) ([]Cell, bool) {
	idx := -1
	for i, c := range d.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	out := make([]Cell, len(d.Rows))
	for i, r := range d.Rows {
		if idx < len(r) {
			out[i] = r[idx]
		}
	}
	return out, true
}

// Schema returns the dataset columns as a single-source schema.
func (d *Dataset) Schema() schema.Schema {
	return schema.Union(d.Columns)
}

// Concat stacks datasets in order. Columns are aligned by name using
// schema.Union; a row whose source lacks a column gets Missing for it.
// Nil datasets are ignored. The result never aliases input rows.
func Concat(sets ...*Dataset) *Dataset {
	headers := make([][]string, 0, len(sets))
	total := 0
	for _, ds := range sets {
		if ds == nil {
			continue
		}
		headers = append(headers, ds.Columns)
		total += len(ds.Rows)
	}

	s := schema.Union(headers...)
	out := &Dataset{
		Columns: s.Names(),
		Rows:    make([]Row, 0, total),
	}
	index := s.Index()

	for _, ds := range sets {
		if ds == nil {
			continue
		}
		// Map source column positions onto combined positions once per dataset.
		// A repeated source name keeps its first position, matching Union.
		targets := make([]int, len(ds.Columns))
		claimed := make(map[string]bool, len(ds.Columns))
		for i, name := range ds.Columns {
			if claimed[name] {
				targets[i] = -1
				continue
			}
			claimed[name] = true
			targets[i] = index[name]
		}
		for _, src := range ds.Rows {
			row := make(Row, len(out.Columns))
			for i, cell := range src {
				if i >= len(targets) || targets[i] < 0 {
					continue
				}
				row[targets[i]] = cell
			}
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}
