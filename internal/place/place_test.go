package place

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-health/facility-cli/internal/cache"
	"github.com/meridian-health/facility-cli/internal/config"
	"github.com/meridian-health/facility-cli/internal/table"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Results.Clusters = config.ClustersResult{
		AdmCols:  []string{"adm1", "adm2", "adm3", "village"},
		XYCols:   []string{"lon", "lat"},
		DataCols: []string{"cluster"},
	}
	cfg.Results.Facilities = config.FacilitiesResult{
		AdmCols:     []string{"adm1", "adm2", "adm3"},
		XYCols:      []string{"lon", "lat"},
		DataCols:    []string{"village"},
		NFacilities: 1,
	}
	return cfg
}

func clustersTable(rows ...[]string) *table.Table {
	t := table.New("adm1", "adm2", "adm3", "village", "lon", "lat", "cluster")
	for _, r := range rows {
		if err := t.Append(r...); err != nil {
			panic(err)
		}
	}
	return t
}

func TestFacilities_TwoPointGroupPassesThrough(t *testing.T) {
	got, err := Facilities(testConfig(), clustersTable(
		[]string{"north", "hills", "tambi", "keni", "1.5", "12.5", "0"},
		[]string{"north", "hills", "tambi", "keni", "1.6", "12.6", "0"},
	), "north:hills:tambi")
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())

	// Raw points come back unchanged.
	lon, err := got.Value(0, "lon")
	require.NoError(t, err)
	assert.Equal(t, "1.5", lon)
	lon, err = got.Value(1, "lon")
	require.NoError(t, err)
	assert.Equal(t, "1.6", lon)
}

func TestFacilities_ThreePointGroupIsSubdivided(t *testing.T) {
	got, err := Facilities(testConfig(), clustersTable(
		[]string{"north", "hills", "tambi", "keni", "1.0", "12.0", "0"},
		[]string{"north", "hills", "tambi", "keni", "2.0", "12.0", "0"},
		[]string{"north", "hills", "tambi", "keni", "3.0", "12.0", "0"},
	), "north:hills:tambi")
	require.NoError(t, err)
	require.Equal(t, 1, got.Len())

	// k-means with k=1 collapses the group to its centroid.
	lon, err := got.Float(0, "lon")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, lon, 1e-9)
	lat, err := got.Float(0, "lat")
	require.NoError(t, err)
	assert.InDelta(t, 12.0, lat, 1e-9)
}

func TestFacilities_IdsAndPlusCodes(t *testing.T) {
	got, err := Facilities(testConfig(), clustersTable(
		[]string{"north", "hills", "tambi", "keni", "1.5", "12.5", "0"},
		[]string{"north", "hills", "tambi", "sowa", "8.0", "13.0", "1"},
	), "north:hills:tambi")
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())

	id, err := got.Value(0, "id")
	require.NoError(t, err)
	assert.Equal(t, "north:hills:tambi_0", id)
	id, err = got.Value(1, "id")
	require.NoError(t, err)
	assert.Equal(t, "north:hills:tambi_1", id)

	code, err := got.Value(0, "plus_code")
	require.NoError(t, err)
	assert.Len(t, code, 11)
	assert.Equal(t, byte('+'), code[8])

	v, err := got.Value(1, "village")
	require.NoError(t, err)
	assert.Equal(t, "sowa", v)
}

func TestFacilities_MissingColumns(t *testing.T) {
	_, err := Facilities(testConfig(), table.New("adm1", "lon", "lat"), "north:hills:tambi")
	require.Error(t, err)
}

func TestFacilities_Deterministic(t *testing.T) {
	cfg := testConfig()
	cfg.Results.Facilities.NFacilities = 2
	tbl := clustersTable(
		[]string{"north", "hills", "tambi", "keni", "1.0", "12.0", "0"},
		[]string{"north", "hills", "tambi", "keni", "1.1", "12.0", "0"},
		[]string{"north", "hills", "tambi", "keni", "5.0", "12.0", "0"},
		[]string{"north", "hills", "tambi", "keni", "5.1", "12.0", "0"},
	)
	a, err := Facilities(cfg, tbl, "north:hills:tambi")
	require.NoError(t, err)
	b, err := Facilities(cfg, tbl, "north:hills:tambi")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 2, a.Len())
}

func TestCachedFacilities(t *testing.T) {
	c := cache.New(cache.NewMemory())
	tbl := clustersTable(
		[]string{"north", "hills", "tambi", "keni", "1.5", "12.5", "0"},
	)
	first, err := CachedFacilities(testConfig(), c, tbl, "north:hills:tambi")
	require.NoError(t, err)
	second, err := CachedFacilities(testConfig(), c, tbl, "north:hills:tambi")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
