// Package spatial holds the geometry and distance utilities the pipeline is
// built on: geodetic-to-Cartesian conversion, nearest-neighbor search,
// Minkowski distances, convex hulls, polygon clipping, plus codes and
// location path handling. Everything here is a pure function.
package spatial

import "math"

// EarthRadius is the spherical Earth radius in meters.
const EarthRadius = 6378137.0

// DefaultMinkowskiP approximates travel distance better than straight-line
// Euclidean distance for this domain.
const DefaultMinkowskiP = 1.54

// XYZ is an Earth-centered Cartesian coordinate in meters.
type XYZ struct {
	X, Y, Z float64
}

// LonLatToCartesian converts geodetic degrees (and elevation in meters) to
// Earth-centered Cartesian meters on a spherical Earth model.
func LonLatToCartesian(lon, lat, elevation float64) XYZ {
	latRad := lat * math.Pi / 180
	lonRad := lon * math.Pi / 180
	r := EarthRadius + elevation
	return XYZ{
		X: r * math.Cos(latRad) * math.Cos(lonRad),
		Y: r * math.Cos(latRad) * math.Sin(lonRad),
		Z: r * math.Sin(latRad),
	}
}

// Euclidean returns the straight-line distance between two Cartesian points.
func Euclidean(a, b XYZ) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Minkowski returns the Minkowski distance with exponent p between two
// Cartesian points: sum(|d|^p)^(1/p) componentwise.
func Minkowski(a, b XYZ, p float64) float64 {
	s := math.Pow(math.Abs(a.X-b.X), p) +
		math.Pow(math.Abs(a.Y-b.Y), p) +
		math.Pow(math.Abs(a.Z-b.Z), p)
	return math.Pow(s, 1/p)
}

// NearestFacility finds, for each point, the index of its closest facility
// and the Euclidean distance to it, using full pairwise computation. Ties
// break toward the first minimum, so the facility input order is
// significant.
func NearestFacility(points, facilities []XYZ) (indices []int, distances []float64) {
	indices = make([]int, len(points))
	distances = make([]float64, len(points))
	for i, pt := range points {
		best, bestDist := 0, math.Inf(1)
		for j, f := range facilities {
			if d := Euclidean(pt, f); d < bestDist {
				best, bestDist = j, d
			}
		}
		indices[i] = best
		distances[i] = bestDist
	}
	return indices, distances
}
