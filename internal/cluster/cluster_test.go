package cluster

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-health/facility-cli/internal/cache"
	"github.com/meridian-health/facility-cli/internal/config"
	"github.com/meridian-health/facility-cli/internal/spatial"
	"github.com/meridian-health/facility-cli/internal/table"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Inputs.Households.XYCols = []string{"lon", "lat"}
	cfg.Inputs.VillageCenters.XYCols = []string{"lon", "lat"}
	cfg.Results.Clusters = config.ClustersResult{
		File:        filepath.Join(dir, "{location}", "clustered_households.csv"),
		CentersFile: filepath.Join(dir, "{location}", "cluster_centers.csv"),
		CountsFile:  filepath.Join(dir, "{location}", "cluster_counts.csv"),
		AdmCols:     []string{"adm1", "adm2", "adm3", "village"},
		XYCols:      []string{"lon", "lat"},
		DataCols:    []string{"cluster"},
	}
	cfg.Args.ThresholdHouseholds = 3
	return cfg
}

func testHouseholds() *table.Table {
	t := table.New("adm1", "adm2", "adm3", "lon", "lat")
	for _, r := range [][]string{
		{"north", "hills", "tambi", "0.1", "0.1"},
		{"north", "hills", "tambi", "0.2", "0.1"},
		{"north", "hills", "tambi", "0.1", "0.2"},
		{"north", "hills", "tambi", "10.1", "10.1"},
		{"north", "hills", "tambi", "10.2", "10.2"},
	} {
		if err := t.Append(r...); err != nil {
			panic(err)
		}
	}
	return t
}

func testCenters() *table.Table {
	t := table.New("adm1", "adm2", "adm3", "village", "lon", "lat")
	for _, r := range [][]string{
		{"north", "hills", "tambi", "keni", "0.15", "0.15"},
		{"north", "hills", "tambi", "sowa", "10.1", "10.1"},
	} {
		if err := t.Append(r...); err != nil {
			panic(err)
		}
	}
	return t
}

func TestFitKMeans_TwoGroups(t *testing.T) {
	points := []spatial.Point{
		{X: 0, Y: 0}, {X: 0.2, Y: 0}, {X: 0, Y: 0.2},
		{X: 10, Y: 10}, {X: 10.2, Y: 10.2},
	}
	init := []spatial.Point{{X: 0.1, Y: 0.1}, {X: 9.9, Y: 9.9}}

	res := FitKMeans(points, init, DefaultMaxIter, DefaultTol)
	assert.True(t, res.Converged)
	assert.Equal(t, []int{0, 0, 0, 1, 1}, res.Labels)
	assert.InDelta(t, 0.2/3, res.Centers[0].X, 1e-9)
	assert.InDelta(t, 10.1, res.Centers[1].X, 1e-9)
}

func TestFitKMeans_BudgetIsNotConvergence(t *testing.T) {
	points := []spatial.Point{{X: 0, Y: 0}, {X: 10, Y: 10}}
	init := []spatial.Point{{X: 4, Y: 4}, {X: 6, Y: 6}}

	res := FitKMeans(points, init, 1, 0)
	assert.Equal(t, 1, res.Iters)
	assert.False(t, res.Converged)

	res = FitKMeans(points, init, 3, DefaultTol)
	assert.Less(t, res.Iters, 3)
	assert.True(t, res.Converged)
}

func TestCluster_AssignsIdsAndCentroids(t *testing.T) {
	cfg := testConfig(t)
	ch := New(cfg, "north:hills:tambi", testHouseholds(), testCenters())
	require.True(t, ch.Valid())

	require.NoError(t, ch.Cluster(FitKMeans))
	assert.True(t, ch.Converged)
	assert.True(t, ch.Households.HasCols("cluster"))
	assert.True(t, ch.Centers.HasCols("cluster", "cluster_lon", "cluster_lat"))

	// Centroid is the data's centroid, not the original center point.
	lon, err := ch.Centers.Float(1, "cluster_lon")
	require.NoError(t, err)
	assert.InDelta(t, 10.15, lon, 1e-9)
}

func TestFinalize_JoinsVillageNames(t *testing.T) {
	cfg := testConfig(t)
	ch := New(cfg, "north:hills:tambi", testHouseholds(), testCenters())
	require.NoError(t, ch.Cluster(FitKMeans))
	require.NoError(t, ch.Finalize())

	require.Equal(t, []string{"adm1", "adm2", "adm3", "village", "lon", "lat", "cluster"}, ch.Households.Cols)
	v, err := ch.Households.Value(0, "village")
	require.NoError(t, err)
	assert.Equal(t, "keni", v)

	// Finalize is irreversible.
	require.Error(t, ch.Finalize())
}

func TestFinalize_FallbackWhenUnconverged(t *testing.T) {
	cfg := testConfig(t)
	ch := New(cfg, "north:hills:tambi", testHouseholds(), testCenters())
	require.NoError(t, ch.Cluster(func(points, init []spatial.Point, maxIter int, tol float64) FitResult {
		res := FitKMeans(points, init, DefaultMaxIter, DefaultTol)
		res.Iters = maxIter
		res.Converged = false
		return res
	}))
	require.False(t, ch.Converged)
	require.NoError(t, ch.Finalize())

	v, err := ch.Households.Value(0, "village")
	require.NoError(t, err)
	c, err := ch.Households.Value(0, "cluster")
	require.NoError(t, err)
	assert.Equal(t, c, v)
}

func TestCounts_ThresholdBoundary(t *testing.T) {
	cfg := testConfig(t) // threshold 3
	ch := New(cfg, "north:hills:tambi", testHouseholds(), testCenters())
	require.NoError(t, ch.Cluster(FitKMeans))
	require.NoError(t, ch.Finalize())

	require.Equal(t, 2, ch.Counts.Len())
	// Cluster 0 has 3 households: exactly at the threshold, not small.
	small, err := ch.Counts.Value(0, "small")
	require.NoError(t, err)
	assert.Equal(t, "false", small)
	// Cluster 1 has 2 households: below the threshold, small.
	small, err = ch.Counts.Value(1, "small")
	require.NoError(t, err)
	assert.Equal(t, "true", small)
}

func TestEmptyInputIsInvalid(t *testing.T) {
	cfg := testConfig(t)
	ch := New(cfg, "north:hills:tambi", table.New("adm1", "lon", "lat"), testCenters())
	assert.False(t, ch.Valid())
	require.Error(t, ch.Cluster(FitKMeans))
	require.Error(t, ch.Finalize())
	require.Error(t, ch.Save())
}

func TestSaveAndFilesExist(t *testing.T) {
	cfg := testConfig(t)
	ch := New(cfg, "north:hills:tambi", testHouseholds(), testCenters())
	require.NoError(t, ch.Cluster(FitKMeans))

	// Save before finalize is rejected.
	require.Error(t, ch.Save())
	assert.False(t, ch.FilesExist())

	require.NoError(t, ch.Finalize())
	require.NoError(t, ch.Save())
	assert.True(t, ch.FilesExist())

	files, err := ch.Files()
	require.NoError(t, err)
	require.Len(t, files, 3)
	loaded, err := table.ReadCSV(files[0])
	require.NoError(t, err)
	assert.Equal(t, ch.Households.Len(), loaded.Len())
}

func TestSeedPlusPlus(t *testing.T) {
	points := []spatial.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 10, Y: 10}, {X: 11, Y: 10}}
	a := SeedPlusPlus(points, 2, rand.New(rand.NewSource(Seed("north:hills:tambi"))))
	b := SeedPlusPlus(points, 2, rand.New(rand.NewSource(Seed("north:hills:tambi"))))
	require.Len(t, a, 2)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a[0], a[1])
}

func TestCachedFit(t *testing.T) {
	c := cache.New(cache.NewMemory())
	calls := 0
	fit := func(points, init []spatial.Point, maxIter int, tol float64) FitResult {
		calls++
		return FitKMeans(points, init, maxIter, tol)
	}
	points := []spatial.Point{{X: 0, Y: 0}, {X: 10, Y: 10}}
	init := []spatial.Point{{X: 1, Y: 1}, {X: 9, Y: 9}}

	first, err := CachedFit(c, fit, points, init, DefaultMaxIter, DefaultTol)
	require.NoError(t, err)
	second, err := CachedFit(c, fit, points, init, DefaultMaxIter, DefaultTol)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
}
