package spatial

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Shape is one administrative polygon with its administrative-path values.
type Shape struct {
	Adm   []string  // aligned with ShapeSet.AdmCols
	Rings [][]Point // all rings of all parts; containment is even-odd
}

// ShapeSet is a loaded administrative boundary file.
type ShapeSet struct {
	AdmCols []string
	Shapes  []Shape
}

// Contains reports whether pt lies inside the shape, applying the even-odd
// rule across all rings so holes are excluded.
func (s Shape) Contains(pt Point) bool {
	count := 0
	for _, ring := range s.Rings {
		if PointInRing(pt, ring) {
			count++
		}
	}
	return count%2 == 1
}

// Bounds returns the axis-aligned bounding box of the shape.
func (s Shape) Bounds() (min, max Point) {
	min = Point{math.Inf(1), math.Inf(1)}
	max = Point{math.Inf(-1), math.Inf(-1)}
	for _, ring := range s.Rings {
		for _, p := range ring {
			min.X = math.Min(min.X, p.X)
			min.Y = math.Min(min.Y, p.Y)
			max.X = math.Max(max.X, p.X)
			max.Y = math.Max(max.Y, p.Y)
		}
	}
	return min, max
}

// ReadShapes loads administrative polygons from a shapefile or GeoJSON file
// and extracts the given admin attribute columns from each record.
func ReadShapes(path string, admCols []string) (*ShapeSet, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return readShapefile(path, admCols)
	case ".geojson", ".json":
		return readGeoJSON(path, admCols)
	default:
		return nil, eris.Errorf("spatial: unsupported shape format %s", path)
	}
}

func readShapefile(path string, admCols []string) (*ShapeSet, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "spatial: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	// Build field name -> index map.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}
	for _, col := range admCols {
		if _, ok := fieldIdx[strings.ToLower(col)]; !ok {
			return nil, eris.Errorf("spatial: shapefile %s missing admin column %s", path, col)
		}
	}

	set := &ShapeSet{AdmCols: admCols}
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil {
			continue
		}

		adm := make([]string, len(admCols))
		for i, col := range admCols {
			val := strings.TrimRight(reader.Attribute(fieldIdx[strings.ToLower(col)]), "\x00")
			adm[i] = strings.TrimSpace(val)
		}

		set.Shapes = append(set.Shapes, Shape{Adm: adm, Rings: polygonRings(poly)})
	}
	return set, nil
}

func polygonRings(p *shp.Polygon) [][]Point {
	var rings [][]Point
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		ring := make([]Point, 0, end-start)
		for j := start; j < end; j++ {
			ring = append(ring, Point{X: p.Points[j].X, Y: p.Points[j].Y})
		}
		if len(ring) >= 3 {
			rings = append(rings, ring)
		}
	}
	return rings
}

func readGeoJSON(path string, admCols []string) (*ShapeSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "spatial: read %s", path)
	}
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "spatial: decode geojson %s", path)
	}

	set := &ShapeSet{AdmCols: admCols}
	for _, feat := range fc.Features {
		adm := make([]string, len(admCols))
		for i, col := range admCols {
			v, ok := feat.Properties[col]
			if !ok {
				return nil, eris.Errorf("spatial: geojson %s feature missing property %s", path, col)
			}
			s, ok := v.(string)
			if !ok {
				return nil, eris.Errorf("spatial: geojson %s property %s is not a string", path, col)
			}
			adm[i] = s
		}

		rings := geomRings(feat.Geometry)
		if len(rings) == 0 {
			continue
		}
		set.Shapes = append(set.Shapes, Shape{Adm: adm, Rings: rings})
	}
	return set, nil
}

func geomRings(g geom.T) [][]Point {
	var rings [][]Point
	switch t := g.(type) {
	case *geom.Polygon:
		for i := 0; i < t.NumLinearRings(); i++ {
			rings = appendRing(rings, t.LinearRing(i).Coords())
		}
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			p := t.Polygon(i)
			for j := 0; j < p.NumLinearRings(); j++ {
				rings = appendRing(rings, p.LinearRing(j).Coords())
			}
		}
	}
	return rings
}

func appendRing(rings [][]Point, coords []geom.Coord) [][]Point {
	ring := make([]Point, 0, len(coords))
	for _, c := range coords {
		ring = append(ring, Point{X: c[0], Y: c[1]})
	}
	// GeoJSON rings repeat the first point; drop the closing duplicate.
	if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		ring = ring[:len(ring)-1]
	}
	if len(ring) < 3 {
		return rings
	}
	return append(rings, ring)
}

// RingToGeom converts a ring to a closed go-geom polygon.
func RingToGeom(ring []Point) (*geom.Polygon, error) {
	flat := make([]float64, 0, (len(ring)+1)*2)
	for _, p := range ring {
		flat = append(flat, p.X, p.Y)
	}
	// Close the ring.
	flat = append(flat, ring[0].X, ring[0].Y)
	poly := geom.NewPolygon(geom.XY)
	if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
		return nil, eris.Wrap(err, "spatial: build polygon")
	}
	return poly, nil
}
