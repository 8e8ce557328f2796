package table

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSample(t *testing.T) *Table {
	t.Helper()
	tbl := New("adm1", "adm2", "lon", "lat")
	require.NoError(t, tbl.Append("north", "hills", "1.5", "12.1"))
	require.NoError(t, tbl.Append("north", "plains", "1.2", "12.4"))
	require.NoError(t, tbl.Append("south", "coast", "0.9", "11.8"))
	return tbl
}

func TestTable_SelectRenameInvariant(t *testing.T) {
	tbl := newSample(t)

	sel, err := tbl.Select("adm1", "lon")
	require.NoError(t, err)
	assert.Equal(t, []string{"adm1", "lon"}, sel.Cols)
	assert.Equal(t, 3, sel.Len())

	// Renaming a missing upstream column is an error, not a silent no-op.
	err = tbl.Rename([]string{"region"}, []string{"adm1"})
	require.Error(t, err)

	require.NoError(t, tbl.Rename([]string{"adm1", "adm2"}, []string{"province", "district"}))
	assert.True(t, tbl.HasCols("province", "district"))
	assert.False(t, tbl.HasCols("adm1"))
}

func TestTable_SortNumericAndLexical(t *testing.T) {
	tbl := New("name", "n")
	require.NoError(t, tbl.Append("b", "10"))
	require.NoError(t, tbl.Append("a", "9"))
	require.NoError(t, tbl.Append("a", "10"))

	require.NoError(t, tbl.Sort("name", "n"))
	assert.Equal(t, [][]string{{"a", "9"}, {"a", "10"}, {"b", "10"}}, tbl.Rows)
}

func TestTable_SortAllDeterministic(t *testing.T) {
	a := newSample(t)
	b := newSample(t)
	// Same rows in a different initial order sort identically.
	b.Rows[0], b.Rows[2] = b.Rows[2], b.Rows[0]

	a.SortAll()
	b.SortAll()
	assert.Equal(t, a.Rows, b.Rows)
}

func TestTable_DropNull(t *testing.T) {
	tbl := New("adm1", "lon")
	require.NoError(t, tbl.Append("north", "1.5"))
	require.NoError(t, tbl.Append("", "1.2"))
	require.NoError(t, tbl.Append("south", "NaN"))

	out, err := tbl.DropNull()
	require.NoError(t, err)
	assert.Equal(t, 1, out.Len())
}

func TestTable_Join(t *testing.T) {
	left := New("cluster", "lon")
	require.NoError(t, left.Append("0", "1.5"))
	require.NoError(t, left.Append("1", "1.2"))
	require.NoError(t, left.Append("0", "1.6"))

	right := New("cluster", "village")
	require.NoError(t, right.Append("0", "tambi"))
	require.NoError(t, right.Append("1", "koura"))

	require.NoError(t, left.Join(right, "cluster", "village"))
	v, err := left.Value(2, "village")
	require.NoError(t, err)
	assert.Equal(t, "tambi", v)
}

func TestTable_GroupBy(t *testing.T) {
	tbl := newSample(t)
	groups, err := tbl.GroupBy("adm1")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"north"}, groups[0].Key)
	assert.Len(t, groups[0].Rows, 2)
	assert.Equal(t, []string{"south"}, groups[1].Key)
}

func TestTable_CSVRoundTrip(t *testing.T) {
	tbl := newSample(t)
	path := filepath.Join(t.TempDir(), "sub", "sample.csv")

	require.NoError(t, tbl.WriteCSV(path))
	got, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, tbl.Cols, got.Cols)
	assert.Equal(t, tbl.Rows, got.Rows)
}

func TestTable_ConcatMismatch(t *testing.T) {
	a := New("x")
	b := New("y")
	require.Error(t, a.Concat(b))
}

func TestTable_ConcatOuter(t *testing.T) {
	a := New("adm1", "lon", "hh_euclidean")
	require.NoError(t, a.Append("north", "1", "120"))
	b := New("adm1", "lon")
	require.NoError(t, b.Append("south", "12"))

	a.ConcatOuter(b)
	assert.Equal(t, []string{"adm1", "lon", "hh_euclidean"}, a.Cols)
	require.Equal(t, 2, a.Len())
	v, err := a.Value(1, "hh_euclidean")
	require.NoError(t, err)
	assert.Equal(t, "", v)

	// The union also grows the left side when the right carries more.
	c := New("adm1", "lon", "baseline_hh_euclidean")
	require.NoError(t, c.Append("east", "7", "300"))
	a.ConcatOuter(c)
	assert.Equal(t, []string{"adm1", "lon", "hh_euclidean", "baseline_hh_euclidean"}, a.Cols)
	require.Equal(t, 3, a.Len())
	v, err = a.Value(0, "baseline_hh_euclidean")
	require.NoError(t, err)
	assert.Equal(t, "", v)
	v, err = a.Value(2, "baseline_hh_euclidean")
	require.NoError(t, err)
	assert.Equal(t, "300", v)
}

func TestFormatFloat_RoundTrip(t *testing.T) {
	tbl := New("v")
	require.NoError(t, tbl.Append(FormatFloat(1.54)))
	f, err := tbl.Float(0, "v")
	require.NoError(t, err)
	assert.Equal(t, 1.54, f)
}
