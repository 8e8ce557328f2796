// Package table implements the minimal ordered-column tabular frame the
// pipeline passes between stages. Tables round-trip through UTF-8 CSV with a
// header row. Administrative-path columns must carry the same names
// end-to-end; renames are applied explicitly at every join boundary.
package table

import (
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Table is an ordered set of named columns over string-valued rows. The
// exported fields exist for serialization; mutate through methods.
type Table struct {
	Cols []string   `json:"cols"`
	Rows [][]string `json:"rows"`
}

// New creates an empty table with the given columns.
func New(cols ...string) *Table {
	return &Table{Cols: slices.Clone(cols)}
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// ColIndex returns the index of the named column, or -1.
func (t *Table) ColIndex(name string) int {
	return slices.Index(t.Cols, name)
}

// HasCols reports whether every named column is present.
func (t *Table) HasCols(cols ...string) bool {
	for _, c := range cols {
		if t.ColIndex(c) < 0 {
			return false
		}
	}
	return true
}

// Append adds a row. The row length must match the column count.
func (t *Table) Append(row ...string) error {
	if len(row) != len(t.Cols) {
		return eris.Errorf("table: row has %d values, want %d", len(row), len(t.Cols))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// Value returns the cell at row i, named column.
func (t *Table) Value(i int, col string) (string, error) {
	idx := t.ColIndex(col)
	if idx < 0 {
		return "", eris.Errorf("table: no column %q", col)
	}
	if i < 0 || i >= len(t.Rows) {
		return "", eris.Errorf("table: row %d out of range", i)
	}
	return t.Rows[i][idx], nil
}

// Float returns the cell at row i, named column, parsed as float64.
func (t *Table) Float(i int, col string) (float64, error) {
	s, err := t.Value(i, col)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, eris.Wrapf(err, "table: parse %q in column %s", s, col)
	}
	return f, nil
}

// FormatFloat renders a float the way the pipeline writes coordinates and
// distances: shortest representation that round-trips.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Select returns a new table containing only the named columns, in order.
func (t *Table) Select(cols ...string) (*Table, error) {
	idx := make([]int, len(cols))
	for i, c := range cols {
		j := t.ColIndex(c)
		if j < 0 {
			return nil, eris.Errorf("table: no column %q", c)
		}
		idx[i] = j
	}
	out := New(cols...)
	for _, row := range t.Rows {
		sel := make([]string, len(idx))
		for i, j := range idx {
			sel[i] = row[j]
		}
		out.Rows = append(out.Rows, sel)
	}
	return out, nil
}

// Rename renames columns pairwise from old to new. Missing old columns are
// an error: the caller is asserting the upstream schema.
func (t *Table) Rename(old, new []string) error {
	if len(old) != len(new) {
		return eris.Errorf("table: rename %d columns to %d names", len(old), len(new))
	}
	for i, o := range old {
		j := t.ColIndex(o)
		if j < 0 {
			return eris.Errorf("table: no column %q to rename", o)
		}
		t.Cols[j] = new[i]
	}
	return nil
}

// AddCol appends a column with the given values (one per row).
func (t *Table) AddCol(name string, vals []string) error {
	if len(vals) != len(t.Rows) {
		return eris.Errorf("table: column %s has %d values, want %d", name, len(vals), len(t.Rows))
	}
	t.Cols = append(t.Cols, name)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], vals[i])
	}
	return nil
}

// Filter returns a new table holding the rows for which keep returns true.
func (t *Table) Filter(keep func(row []string) bool) *Table {
	out := New(t.Cols...)
	for _, row := range t.Rows {
		if keep(row) {
			out.Rows = append(out.Rows, slices.Clone(row))
		}
	}
	return out
}

// DropNull removes rows with an empty or NaN value in any of the named
// columns (all columns when none are named).
func (t *Table) DropNull(cols ...string) (*Table, error) {
	if len(cols) == 0 {
		cols = t.Cols
	}
	idx := make([]int, len(cols))
	for i, c := range cols {
		j := t.ColIndex(c)
		if j < 0 {
			return nil, eris.Errorf("table: no column %q", c)
		}
		idx[i] = j
	}
	return t.Filter(func(row []string) bool {
		for _, j := range idx {
			v := strings.TrimSpace(row[j])
			if v == "" || strings.EqualFold(v, "nan") {
				return false
			}
		}
		return true
	}), nil
}

// Sort orders rows by the named columns, ascending, stable. Values that
// parse as numbers on both sides compare numerically, otherwise as strings.
func (t *Table) Sort(cols ...string) error {
	idx := make([]int, len(cols))
	for i, c := range cols {
		j := t.ColIndex(c)
		if j < 0 {
			return eris.Errorf("table: no column %q", c)
		}
		idx[i] = j
	}
	sort.SliceStable(t.Rows, func(a, b int) bool {
		for _, j := range idx {
			if c := compareCell(t.Rows[a][j], t.Rows[b][j]); c != 0 {
				return c < 0
			}
		}
		return false
	})
	return nil
}

// SortAll orders rows by the full column set, left to right.
func (t *Table) SortAll() {
	_ = t.Sort(t.Cols...) // all columns exist by construction
}

func compareCell(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

// Concat appends the rows of other. Column sets must match exactly.
func (t *Table) Concat(other *Table) error {
	if !slices.Equal(t.Cols, other.Cols) {
		return eris.Errorf("table: concat column mismatch: %v vs %v", t.Cols, other.Cols)
	}
	for _, row := range other.Rows {
		t.Rows = append(t.Rows, slices.Clone(row))
	}
	return nil
}

// ConcatOuter appends the rows of other over the union of the two column
// sets, filling columns absent on either side with empty values. Merging
// artifacts whose enrichment columns differ per location relies on this.
func (t *Table) ConcatOuter(other *Table) {
	for _, c := range other.Cols {
		if t.ColIndex(c) < 0 {
			t.Cols = append(t.Cols, c)
			for i := range t.Rows {
				t.Rows[i] = append(t.Rows[i], "")
			}
		}
	}
	idx := make([]int, len(t.Cols))
	for i, c := range t.Cols {
		idx[i] = other.ColIndex(c)
	}
	for _, row := range other.Rows {
		out := make([]string, len(t.Cols))
		for i, j := range idx {
			if j >= 0 {
				out[i] = row[j]
			}
		}
		t.Rows = append(t.Rows, out)
	}
}

// Join appends the named columns of other, matching rows by equality on the
// `on` column (first match wins). Rows without a match keep empty values.
func (t *Table) Join(other *Table, on string, cols ...string) error {
	onIdx := other.ColIndex(on)
	if onIdx < 0 {
		return eris.Errorf("table: join: no column %q in right table", on)
	}
	colIdx := make([]int, len(cols))
	for i, c := range cols {
		j := other.ColIndex(c)
		if j < 0 {
			return eris.Errorf("table: join: no column %q in right table", c)
		}
		colIdx[i] = j
	}
	lookup := make(map[string][]string, other.Len())
	for _, row := range other.Rows {
		if _, ok := lookup[row[onIdx]]; !ok {
			lookup[row[onIdx]] = row
		}
	}
	leftOn := t.ColIndex(on)
	if leftOn < 0 {
		return eris.Errorf("table: join: no column %q in left table", on)
	}
	for _, c := range cols {
		t.Cols = append(t.Cols, c)
	}
	for i := range t.Rows {
		match := lookup[t.Rows[i][leftOn]]
		for _, j := range colIdx {
			if match == nil {
				t.Rows[i] = append(t.Rows[i], "")
			} else {
				t.Rows[i] = append(t.Rows[i], match[j])
			}
		}
	}
	return nil
}

// Group is one group-by partition.
type Group struct {
	Key  []string
	Rows []int
}

// GroupBy partitions row indices by the named columns. Groups are ordered by
// their key values for deterministic iteration.
func (t *Table) GroupBy(cols ...string) ([]Group, error) {
	idx := make([]int, len(cols))
	for i, c := range cols {
		j := t.ColIndex(c)
		if j < 0 {
			return nil, eris.Errorf("table: no column %q", c)
		}
		idx[i] = j
	}
	byKey := map[string]*Group{}
	var order []string
	for i, row := range t.Rows {
		key := make([]string, len(idx))
		for k, j := range idx {
			key[k] = row[j]
		}
		ks := strings.Join(key, "\x00")
		g, ok := byKey[ks]
		if !ok {
			g = &Group{Key: key}
			byKey[ks] = g
			order = append(order, ks)
		}
		g.Rows = append(g.Rows, i)
	}
	sort.Strings(order)
	out := make([]Group, 0, len(order))
	for _, ks := range order {
		out = append(out, *byKey[ks])
	}
	return out, nil
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := New(t.Cols...)
	out.Rows = make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		out.Rows[i] = slices.Clone(row)
	}
	return out
}
