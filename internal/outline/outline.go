// Package outline derives per-cluster boundary polygons and assembles
// the per-location result artifacts.
package outline

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	geojson "github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/meridian-health/facility-cli/internal/config"
	"github.com/meridian-health/facility-cli/internal/spatial"
	"github.com/meridian-health/facility-cli/internal/table"
)

// degenerateHalfWidth buffers single- and two-point clusters into a
// tiny square so every cluster still yields a polygon.
const degenerateHalfWidth = 1e-5

// ClusterShape is one cluster's boundary polygon with its admin path
// and household count.
type ClusterShape struct {
	Adm        []string
	Cluster    string
	Households int
	Ring       []spatial.Point
}

// BuildClusterShapes outlines every (admin path, cluster) group of the
// clustered households: the group's convex hull, clipped to the
// administrative boundary so no cluster extends outside it, annotated
// with the group's household count from the counts table.
func BuildClusterShapes(cfg *config.Config, admin *spatial.ShapeSet, clusters, counts *table.Table, location string) ([]ClusterShape, error) {
	cc := cfg.Results.Clusters
	clusterCol := cc.ClusterCol()
	admCols := cc.AdmCols[:len(cc.AdmCols)-1]

	need := append(append([]string{}, admCols...), clusterCol, cc.XYCols[0], cc.XYCols[1])
	if !clusters.HasCols(need...) {
		return nil, eris.Errorf("outline: %s: clusters table is missing columns %v", location, need)
	}

	boundary, err := adminRings(admin, location)
	if err != nil {
		return nil, err
	}

	countByKey, err := countIndex(counts, admCols, clusterCol)
	if err != nil {
		return nil, eris.Wrapf(err, "outline: %s", location)
	}

	groups, err := clusters.GroupBy(append(append([]string{}, admCols...), clusterCol)...)
	if err != nil {
		return nil, eris.Wrapf(err, "outline: %s", location)
	}

	shapes := make([]ClusterShape, 0, len(groups))
	for _, g := range groups {
		pts := make([]spatial.Point, 0, len(g.Rows))
		for _, i := range g.Rows {
			x, err := clusters.Float(i, cc.XYCols[0])
			if err != nil {
				return nil, eris.Wrapf(err, "outline: %s", location)
			}
			y, err := clusters.Float(i, cc.XYCols[1])
			if err != nil {
				return nil, eris.Wrapf(err, "outline: %s", location)
			}
			pts = append(pts, spatial.Point{X: x, Y: y})
		}

		hull := spatial.ConvexHull(pts)
		if len(hull) < 3 {
			hull = spatial.BufferSquare(hull, degenerateHalfWidth)
		}
		ring := clipToBoundary(boundary, hull)
		if len(ring) < 3 || spatial.RingArea(ring) == 0 {
			zap.L().Info("outline: cluster collapsed to a non-polygon, excluding",
				zap.String("location", location),
				zap.Strings("group", g.Key))
			continue
		}

		cluster := g.Key[len(admCols)]
		shapes = append(shapes, ClusterShape{
			Adm:        append([]string{}, g.Key[:len(admCols)]...),
			Cluster:    cluster,
			Households: countByKey[groupKey(g.Key)],
			Ring:       ring,
		})
	}
	return shapes, nil
}

// adminRings collects the exterior rings of the polygons matching the
// location's admin path.
func adminRings(admin *spatial.ShapeSet, location string) ([][]spatial.Point, error) {
	parts := spatial.LocationParts(location)
	var rings [][]spatial.Point
	for _, sh := range admin.Shapes {
		if len(sh.Adm) < len(parts) || !equalPrefix(sh.Adm, parts) {
			continue
		}
		if len(sh.Rings) > 0 {
			rings = append(rings, sh.Rings[0])
		}
	}
	if len(rings) == 0 {
		return nil, eris.Errorf("outline: %s: no administrative polygon matches", location)
	}
	return rings, nil
}

func equalPrefix(adm, parts []string) bool {
	for i, p := range parts {
		if adm[i] != p {
			return false
		}
	}
	return true
}

// clipToBoundary clips the hull against each boundary ring and keeps
// the largest resulting piece.
func clipToBoundary(boundary [][]spatial.Point, hull []spatial.Point) []spatial.Point {
	var best []spatial.Point
	bestArea := 0.0
	for _, ring := range boundary {
		clipped := spatial.ClipToHull(ring, hull)
		if a := spatial.RingArea(clipped); a > bestArea {
			best, bestArea = clipped, a
		}
	}
	return best
}

func countIndex(counts *table.Table, admCols []string, clusterCol string) (map[string]int, error) {
	idx := make(map[string]int)
	if counts == nil {
		return idx, nil
	}
	cols := append(append([]string{}, admCols...), clusterCol)
	if !counts.HasCols(append(cols, "num_households")...) {
		return nil, eris.Errorf("counts table is missing columns %v + num_households", cols)
	}
	for i := 0; i < counts.Len(); i++ {
		key := make([]string, 0, len(cols))
		for _, c := range cols {
			v, err := counts.Value(i, c)
			if err != nil {
				return nil, err
			}
			key = append(key, v)
		}
		n, err := counts.Float(i, "num_households")
		if err != nil {
			return nil, err
		}
		idx[groupKey(key)] = int(n)
	}
	return idx, nil
}

func groupKey(parts []string) string {
	key := ""
	for i, p := range parts {
		if i > 0 {
			key += "\x00"
		}
		key += p
	}
	return key
}

// ExportShapes writes cluster shapes as a GeoJSON feature collection.
// Only polygon geometries are written; degenerate shapes were already
// excluded while building.
func ExportShapes(cfg *config.Config, shapes []ClusterShape, path string) error {
	cc := cfg.Results.Clusters
	admCols := cc.AdmCols[:len(cc.AdmCols)-1]

	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	for _, s := range shapes {
		poly, err := spatial.RingToGeom(s.Ring)
		if err != nil {
			zap.L().Info("outline: skipping non-polygon shape",
				zap.Strings("adm", s.Adm),
				zap.String("cluster", s.Cluster))
			continue
		}
		props := make(map[string]any, len(admCols)+2)
		for i, c := range admCols {
			props[c] = s.Adm[i]
		}
		props[cc.ClusterCol()] = s.Cluster
		props["households"] = s.Households
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry:   poly,
			Properties: props,
		})
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return eris.Wrap(err, "outline: marshal shapes")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrap(err, "outline: write shapes")
	}
	zap.L().Debug("outline: wrote cluster shapes",
		zap.String("path", path),
		zap.Int("features", len(fc.Features)))
	return nil
}
