package spatial

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLonLatToCartesian_ReferencePoints(t *testing.T) {
	// Prime meridian, equator, sea level.
	p := LonLatToCartesian(0, 0, 0)
	assert.InEpsilon(t, 6378137.0, p.X, 1e-9)
	assert.InDelta(t, 0, p.Y, 1e-6)
	assert.InDelta(t, 0, p.Z, 1e-6)

	// 90 degrees east of Greenwich, 500m elevation.
	p = LonLatToCartesian(90, 0, 500)
	assert.InDelta(t, 0, p.X, 1e-6)
	assert.InEpsilon(t, 6378637.0, p.Y, 1e-9)
	assert.InDelta(t, 0, p.Z, 1e-6)
}

func TestLonLatToCartesian_Rounded(t *testing.T) {
	p := LonLatToCartesian(-1.5189055063720351, 12.372283125598909, 297)
	assert.Equal(t, 6228112.0, math.Round(p.X))
	assert.Equal(t, -165145.0, math.Round(p.Y))
	assert.Equal(t, 1366661.0, math.Round(p.Z))
}

func TestNearestFacility(t *testing.T) {
	points := []XYZ{{0, 0, 0}, {1, 1, 0}, {2, 2, 0}}
	facilities := []XYZ{{1, 1, 0}, {2, 2, 0}, {3, 3, 0}}

	idx, dist := NearestFacility(points, facilities)
	assert.Equal(t, []int{0, 0, 1}, idx)
	require.Len(t, dist, 3)
	assert.InDelta(t, math.Sqrt2, dist[0], 1e-12)
	assert.InDelta(t, 0, dist[1], 1e-12)
	assert.InDelta(t, 0, dist[2], 1e-12)
}

func TestNearestFacility_TieBreaksFirst(t *testing.T) {
	points := []XYZ{{0, 0, 0}}
	facilities := []XYZ{{1, 0, 0}, {-1, 0, 0}}

	idx, _ := NearestFacility(points, facilities)
	assert.Equal(t, []int{0}, idx)
}

func TestMinkowski_UnitCube(t *testing.T) {
	d := Minkowski(XYZ{0, 0, 0}, XYZ{1, 1, 1}, DefaultMinkowskiP)
	// sum(1^1.54 * 3)^(1/1.54) = 3^(1/1.54)
	assert.InDelta(t, 2.0408871750129656, d, 1e-12)
}

func TestMinkowski_MatchesEuclideanAtPTwo(t *testing.T) {
	a, b := XYZ{1, 2, 3}, XYZ{4, 6, 3}
	assert.InDelta(t, Euclidean(a, b), Minkowski(a, b, 2), 1e-12)
}
