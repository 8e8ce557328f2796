// Package place recommends facility points for each household cluster.
package place

import (
	"fmt"
	"math/rand"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-health/facility-cli/internal/cache"
	"github.com/meridian-health/facility-cli/internal/cluster"
	"github.com/meridian-health/facility-cli/internal/config"
	"github.com/meridian-health/facility-cli/internal/spatial"
	"github.com/meridian-health/facility-cli/internal/table"
)

// minGroupPoints is the smallest cluster worth subdividing; smaller
// groups pass through unchanged as facilities.
const minGroupPoints = 3

// Facilities chooses representative facility points per (admin path,
// cluster) group of the finalized clustered households. Groups with
// fewer than three points, or fewer points than the configured facility
// count, return their raw points unchanged. Each facility carries a
// `{location}_{index}` id and a plus-code label.
func Facilities(cfg *config.Config, clusters *table.Table, location string) (*table.Table, error) {
	fc := cfg.Results.Facilities
	cc := cfg.Results.Clusters
	clusterCol := cc.ClusterCol()
	villageCol := fc.VillageCol()
	lonCol, latCol := fc.XYCols[0], fc.XYCols[1]

	need := append(append([]string{}, fc.AdmCols...), villageCol, clusterCol, cc.XYCols[0], cc.XYCols[1])
	if !clusters.HasCols(need...) {
		return nil, eris.Errorf("place: %s: clusters table is missing columns %v", location, need)
	}

	groups, err := clusters.GroupBy(append(append([]string{}, fc.AdmCols...), clusterCol)...)
	if err != nil {
		return nil, eris.Wrapf(err, "place: %s", location)
	}

	rng := rand.New(rand.NewSource(cluster.Seed(location)))
	out := table.New(append(append([]string{}, fc.AdmCols...), villageCol, lonCol, latCol, "id", "plus_code")...)
	index := 0
	for _, g := range groups {
		pts, village, err := groupPoints(clusters, g, cc.XYCols, villageCol)
		if err != nil {
			return nil, eris.Wrapf(err, "place: %s", location)
		}
		chosen := choose(pts, fc.NFacilities, location, rng)
		adm := g.Key[:len(fc.AdmCols)]
		for _, p := range chosen {
			row := append(append([]string{}, adm...),
				village,
				table.FormatFloat(p.X),
				table.FormatFloat(p.Y),
				fmt.Sprintf("%s_%d", location, index),
				spatial.PlusCode(p.X, p.Y))
			if err := out.Append(row...); err != nil {
				return nil, eris.Wrapf(err, "place: %s", location)
			}
			index++
		}
	}
	return out, nil
}

// choose subdivides a group into k facility points, or passes the raw
// points through when the group is too small to subdivide.
func choose(pts []spatial.Point, k int, location string, rng *rand.Rand) []spatial.Point {
	if len(pts) < minGroupPoints || len(pts) < k {
		return pts
	}
	init := cluster.SeedPlusPlus(pts, k, rng)
	res := cluster.FitKMeans(pts, init, cluster.DefaultMaxIter, cluster.DefaultTol)
	if !res.Converged {
		zap.L().Warn("place: fit did not converge, keeping best-effort centroids",
			zap.String("location", location),
			zap.Int("points", len(pts)),
			zap.Int("facilities", k))
	}
	return res.Centers
}

func groupPoints(t *table.Table, g table.Group, xyCols []string, villageCol string) ([]spatial.Point, string, error) {
	pts := make([]spatial.Point, 0, len(g.Rows))
	village := ""
	for n, i := range g.Rows {
		x, err := t.Float(i, xyCols[0])
		if err != nil {
			return nil, "", err
		}
		y, err := t.Float(i, xyCols[1])
		if err != nil {
			return nil, "", err
		}
		pts = append(pts, spatial.Point{X: x, Y: y})
		if n == 0 {
			if village, err = t.Value(i, villageCol); err != nil {
				return nil, "", err
			}
		}
	}
	return pts, village, nil
}

// CachedFacilities memoizes placement on the exact cluster data and
// location key.
func CachedFacilities(cfg *config.Config, c *cache.Cache, clusters *table.Table, location string) (*table.Table, error) {
	key, err := cache.Key("place:facilities", clusters, location, cfg.Results.Facilities.NFacilities)
	if err != nil {
		return nil, eris.Wrapf(err, "place: %s: cache key", location)
	}
	var cached table.Table
	hit, err := c.Get(key, &cached)
	if err != nil {
		zap.L().Warn("place: cache read failed, recomputing", zap.Error(err))
	} else if hit {
		return &cached, nil
	}
	out, err := Facilities(cfg, clusters, location)
	if err != nil {
		return nil, err
	}
	if err := c.Put(key, out); err != nil {
		zap.L().Warn("place: cache write failed", zap.Error(err))
	}
	return out, nil
}
