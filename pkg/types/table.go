// Package types provides core data types shared across geolimes.
package types

import (
	"fmt"
	"sort"
)

// Table is a raw tabular result: every value is text, rows are positional and
// aligned with Columns. Row identity is positional only; no deduplication is
// ever performed.
type Table struct {
	// Columns holds the header names in wire order
	Columns []string `json:"columns"`

	// Rows holds one slice per record, each len(Columns) long
	Rows [][]string `json:"rows"`
}

// NewTable creates an empty table with the given header.
func NewTable(columns ...string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{Columns: cols}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Empty reports whether the table holds no rows.
func (t *Table) Empty() bool {
	return t.Len() == 0
}

// ColumnIndex returns the position of a column, or -1 if absent.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Value returns the text of column in the given row.
func (t *Table) Value(row int, column string) (string, bool) {
	if row < 0 || row >= len(t.Rows) {
		return "", false
	}
	idx := t.ColumnIndex(column)
	if idx < 0 || idx >= len(t.Rows[row]) {
		return "", false
	}
	return t.Rows[row][idx], true
}

// Row returns a column-name keyed view of one row.
func (t *Table) Row(row int) map[string]string {
	if row < 0 || row >= len(t.Rows) {
		return nil
	}
	m := make(map[string]string, len(t.Columns))
	for i, c := range t.Columns {
		if i < len(t.Rows[row]) {
			m[c] = t.Rows[row][i]
		}
	}
	return m
}

// Append concatenates other after t's rows, preserving arrival order.
// A table without columns (an empty response body) contributes nothing.
// If t has no columns yet it adopts other's header. Column order may differ
// between the two tables; values are realigned by name. A differing column
// set returns ErrSchemaMismatch and leaves t untouched.
func (t *Table) Append(other *Table) error {
	if other == nil || len(other.Columns) == 0 {
		return nil
	}
	if len(t.Columns) == 0 {
		t.Columns = append([]string(nil), other.Columns...)
		t.Rows = append(t.Rows, other.Rows...)
		return nil
	}

	mapping, err := t.alignment(other)
	if err != nil {
		return err
	}
	if mapping == nil {
		t.Rows = append(t.Rows, other.Rows...)
		return nil
	}

	for _, src := range other.Rows {
		dst := make([]string, len(t.Columns))
		for i, j := range mapping {
			if j < len(src) {
				dst[i] = src[j]
			}
		}
		t.Rows = append(t.Rows, dst)
	}
	return nil
}

// alignment returns, for each of t's columns, the index of the same column in
// other. A nil mapping means the headers are identical.
func (t *Table) alignment(other *Table) ([]int, error) {
	if len(t.Columns) != len(other.Columns) {
		return nil, fmt.Errorf("%w: %v vs %v", ErrSchemaMismatch, t.Columns, other.Columns)
	}

	identical := true
	for i := range t.Columns {
		if t.Columns[i] != other.Columns[i] {
			identical = false
			break
		}
	}
	if identical {
		return nil, nil
	}

	a := append([]string(nil), t.Columns...)
	b := append([]string(nil), other.Columns...)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return nil, fmt.Errorf("%w: %v vs %v", ErrSchemaMismatch, t.Columns, other.Columns)
		}
	}

	mapping := make([]int, len(t.Columns))
	for i, c := range t.Columns {
		mapping[i] = other.ColumnIndex(c)
	}
	return mapping, nil
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	cp := &Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]string, len(t.Rows)),
	}
	for i, r := range t.Rows {
		cp.Rows[i] = append([]string(nil), r...)
	}
	return cp
}
