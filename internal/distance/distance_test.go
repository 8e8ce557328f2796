package distance

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-health/facility-cli/internal/table"
)

func xyCols() []string { return []string{"lon", "lat"} }

func pointsTable(rows ...[]string) *table.Table {
	t := table.New("lon", "lat")
	for _, r := range rows {
		if err := t.Append(r...); err != nil {
			panic(err)
		}
	}
	return t
}

func facilitiesTable(rows ...[]string) *table.Table {
	t := table.New("lon", "lat", "id")
	for _, r := range rows {
		if err := t.Append(r...); err != nil {
			panic(err)
		}
	}
	return t
}

func TestAssignAndMeasure(t *testing.T) {
	points := pointsTable(
		[]string{"0", "0"},
		[]string{"1", "1"},
	)
	facilities := facilitiesTable(
		[]string{"1", "1", "loc_0"},
		[]string{"50", "50", "loc_1"},
	)

	got, err := AssignAndMeasure(points, xyCols(), facilities, xyCols(), "id", "hh")
	require.NoError(t, err)
	require.True(t, got.HasCols("hh_assigned_id", "hh_euclidean", "hh_minkowski"))

	// Both points are closest to the first facility.
	for i := 0; i < got.Len(); i++ {
		id, err := got.Value(i, "hh_assigned_id")
		require.NoError(t, err)
		assert.Equal(t, "loc_0", id)
	}

	// The second point coincides with its assigned facility.
	d, err := got.Float(1, "hh_euclidean")
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 1e-9)
	d, err = got.Float(1, "hh_minkowski")
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 1e-9)

	// Minkowski at p=1.54 is never below Euclidean for the same pair.
	e, err := got.Float(0, "hh_euclidean")
	require.NoError(t, err)
	m, err := got.Float(0, "hh_minkowski")
	require.NoError(t, err)
	assert.Greater(t, e, 0.0)
	assert.GreaterOrEqual(t, m, e)

	// Input table is untouched.
	assert.False(t, points.HasCols("hh_assigned_id"))
}

func TestAssignAndMeasure_EmptyPassthrough(t *testing.T) {
	empty := pointsTable()
	facilities := facilitiesTable([]string{"1", "1", "loc_0"})

	got, err := AssignAndMeasure(empty, xyCols(), facilities, xyCols(), "id", "hh")
	require.NoError(t, err)
	assert.Same(t, empty, got)

	points := pointsTable([]string{"0", "0"})
	got, err = AssignAndMeasure(points, xyCols(), facilitiesTable(), xyCols(), "id", "village")
	require.NoError(t, err)
	assert.Same(t, points, got)
	assert.False(t, got.HasCols("village_assigned_id"))
}

func TestAssignAndMeasure_MissingColumns(t *testing.T) {
	points := pointsTable([]string{"0", "0"})
	bad := table.New("x", "y")
	require.NoError(t, bad.Append("1", "1"))

	_, err := AssignAndMeasure(points, xyCols(), bad, xyCols(), "id", "hh")
	require.Error(t, err)
	_, err = AssignAndMeasure(bad, xyCols(), facilitiesTable([]string{"1", "1", "a"}), xyCols(), "id", "hh")
	require.Error(t, err)
}

func TestWriteECDF(t *testing.T) {
	tbl := table.New("hh_minkowski")
	for _, v := range []string{"3000", "1000", "2000", "4000"} {
		require.NoError(t, tbl.Append(v))
	}
	path := filepath.Join(t.TempDir(), "clustered_households.ecdf.csv")
	require.NoError(t, WriteECDF(tbl, "hh_minkowski", path))

	got, err := table.ReadCSV(path)
	require.NoError(t, err)
	require.Equal(t, 4, got.Len())
	require.Equal(t, []string{"distance_km", "percent"}, got.Cols)

	// Sorted ascending, km-scaled, cumulative percentage.
	km, err := got.Float(0, "distance_km")
	require.NoError(t, err)
	assert.Equal(t, 1.0, km)
	pct, err := got.Float(1, "percent")
	require.NoError(t, err)
	assert.Equal(t, 50.0, pct)
	pct, err = got.Float(3, "percent")
	require.NoError(t, err)
	assert.Equal(t, 100.0, pct)

	last, err := got.Float(3, "distance_km")
	require.NoError(t, err)
	assert.False(t, math.IsNaN(last))
	assert.Equal(t, 4.0, last)
}
