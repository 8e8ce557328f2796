// Package distance enriches point tables with distances to their
// nearest facility, in both straight-line and travel-adjusted form.
package distance

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-health/facility-cli/internal/spatial"
	"github.com/meridian-health/facility-cli/internal/table"
)

// Column name suffixes added by AssignAndMeasure.
const (
	SuffixAssignedID = "_assigned_id"
	SuffixEuclidean  = "_euclidean"
	SuffixMinkowski  = "_minkowski"
)

// Well-known enrichment prefixes.
const (
	PrefixHousehold       = "hh"
	PrefixVillage         = "village"
	PrefixBaselineHH      = "baseline_hh"
	PrefixBaselineVillage = "baseline_village"
)

// AssignAndMeasure assigns every point to its nearest facility by
// Cartesian Euclidean distance and separately measures the Minkowski
// distance of the assigned pair. Three columns are added:
// {prefix}_assigned_id, {prefix}_euclidean, {prefix}_minkowski.
// Either input being empty is a passthrough, not an error.
func AssignAndMeasure(points *table.Table, pXY []string, facilities *table.Table, fXY []string, idCol, prefix string) (*table.Table, error) {
	if points.Len() == 0 || facilities.Len() == 0 {
		zap.L().Info("distance: empty input, passing through",
			zap.String("prefix", prefix),
			zap.Int("points", points.Len()),
			zap.Int("facilities", facilities.Len()))
		return points, nil
	}
	if !points.HasCols(pXY...) {
		return nil, eris.Errorf("distance: points table is missing coordinate columns %v", pXY)
	}
	if !facilities.HasCols(append(append([]string{}, fXY...), idCol)...) {
		return nil, eris.Errorf("distance: facilities table is missing columns %v + %q", fXY, idCol)
	}

	pXYZ, err := toCartesian(points, pXY)
	if err != nil {
		return nil, eris.Wrap(err, "distance: points")
	}
	fXYZ, err := toCartesian(facilities, fXY)
	if err != nil {
		return nil, eris.Wrap(err, "distance: facilities")
	}

	indices, euclidean := spatial.NearestFacility(pXYZ, fXYZ)

	ids := make([]string, points.Len())
	euc := make([]string, points.Len())
	mink := make([]string, points.Len())
	for i, fi := range indices {
		id, err := facilities.Value(fi, idCol)
		if err != nil {
			return nil, eris.Wrap(err, "distance: facility id")
		}
		ids[i] = id
		euc[i] = table.FormatFloat(euclidean[i])
		mink[i] = table.FormatFloat(spatial.Minkowski(pXYZ[i], fXYZ[fi], spatial.DefaultMinkowskiP))
	}

	out := points.Clone()
	for _, c := range []struct {
		name string
		vals []string
	}{
		{prefix + SuffixAssignedID, ids},
		{prefix + SuffixEuclidean, euc},
		{prefix + SuffixMinkowski, mink},
	} {
		if err := out.AddCol(c.name, c.vals); err != nil {
			return nil, eris.Wrap(err, "distance: add column")
		}
	}
	return out, nil
}

func toCartesian(t *table.Table, xyCols []string) ([]spatial.XYZ, error) {
	pts := make([]spatial.XYZ, t.Len())
	for i := 0; i < t.Len(); i++ {
		lon, err := t.Float(i, xyCols[0])
		if err != nil {
			return nil, err
		}
		lat, err := t.Float(i, xyCols[1])
		if err != nil {
			return nil, err
		}
		pts[i] = spatial.LonLatToCartesian(lon, lat, 0)
	}
	return pts, nil
}

// WriteECDF persists the empirical distribution of a distance column as
// a CSV of kilometer-scaled distances against cumulative percentage.
// The visualization consumer renders it; this side only writes the data.
func WriteECDF(t *table.Table, col, path string) error {
	vals := make([]float64, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		v, err := t.Float(i, col)
		if err != nil {
			return eris.Wrapf(err, "distance: ecdf %s", col)
		}
		vals = append(vals, v)
	}
	sort.Float64s(vals)

	out := table.New("distance_km", "percent")
	n := float64(len(vals))
	for i, v := range vals {
		err := out.Append(
			table.FormatFloat(v/1000),
			table.FormatFloat(float64(i+1)/n*100),
		)
		if err != nil {
			return eris.Wrap(err, "distance: ecdf")
		}
	}
	return out.WriteCSV(path)
}
