package join

import (
	"github.com/dhconnelly/rtreego"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-health/facility-cli/internal/cache"
	"github.com/meridian-health/facility-cli/internal/spatial"
	"github.com/meridian-health/facility-cli/internal/stop"
	"github.com/meridian-health/facility-cli/internal/table"
)

// Package join assigns point rows to the administrative polygon that
// contains them. The polygon bounding boxes are indexed in an r-tree so
// only a handful of candidate shapes are ray-cast per point.

const treeMinBranch, treeMaxBranch = 25, 50

type shapeItem struct {
	rect  rtreego.Rect
	index int
}

func (s shapeItem) Bounds() rtreego.Rect { return s.rect }

func buildIndex(set *spatial.ShapeSet) (*rtreego.Rtree, error) {
	tree := rtreego.NewTree(2, treeMinBranch, treeMaxBranch)
	for i, sh := range set.Shapes {
		min, max := sh.Bounds()
		rect, err := rtreego.NewRect(
			rtreego.Point{min.X, min.Y},
			[]float64{max.X - min.X, max.Y - min.Y},
		)
		if err != nil {
			return nil, eris.Wrapf(err, "join: shape %d has a degenerate bounding box", i)
		}
		tree.Insert(shapeItem{rect: rect, index: i})
	}
	return tree, nil
}

// PointsToShapes is an inner spatial join: each point row gains the
// admin columns of the polygon containing it, and rows falling outside
// every polygon are dropped. The result never has more rows than the
// input.
func PointsToShapes(tok *stop.Token, t *table.Table, set *spatial.ShapeSet, xyCols []string) (*table.Table, error) {
	if !t.HasCols(xyCols...) {
		return nil, eris.Errorf("join: points table is missing coordinate columns %v", xyCols)
	}
	clean, err := t.DropNull(xyCols...)
	if err != nil {
		return nil, eris.Wrap(err, "join: drop null coordinates")
	}

	tree, err := buildIndex(set)
	if err != nil {
		return nil, err
	}

	out := table.New(append(append([]string{}, clean.Cols...), set.AdmCols...)...)
	checkEvery := 10000
	for i := 0; i < clean.Len(); i++ {
		if i%checkEvery == 0 {
			if err := tok.Check(); err != nil {
				return nil, err
			}
		}
		x, err := clean.Float(i, xyCols[0])
		if err != nil {
			return nil, eris.Wrapf(err, "join: row %d", i)
		}
		y, err := clean.Float(i, xyCols[1])
		if err != nil {
			return nil, eris.Wrapf(err, "join: row %d", i)
		}
		idx := lookup(tree, set, spatial.Point{X: x, Y: y})
		if idx < 0 {
			continue
		}
		row := append(append([]string{}, clean.Rows[i]...), set.Shapes[idx].Adm...)
		if err := out.Append(row...); err != nil {
			return nil, eris.Wrap(err, "join: append")
		}
	}
	if out.Len() > t.Len() {
		return nil, eris.Errorf("join: produced %d rows from %d input rows", out.Len(), t.Len())
	}
	zap.L().Debug("join: points to shapes",
		zap.Int("points_in", t.Len()),
		zap.Int("points_matched", out.Len()),
		zap.Int("shapes", len(set.Shapes)))
	return out, nil
}

// lookup returns the index of the first polygon containing p, or -1.
func lookup(tree *rtreego.Rtree, set *spatial.ShapeSet, p spatial.Point) int {
	rect := rtreego.Point{p.X, p.Y}.ToRect(1e-9)
	best := -1
	for _, obj := range tree.SearchIntersect(rect) {
		item := obj.(shapeItem)
		if !set.Shapes[item.index].Contains(p) {
			continue
		}
		if best < 0 || item.index < best {
			best = item.index
		}
	}
	return best
}

// CountPerShape returns one row per polygon with a count of the points
// it contains. Polygons containing no points still appear with a zero
// count.
func CountPerShape(tok *stop.Token, t *table.Table, set *spatial.ShapeSet, xyCols []string, countCol string) (*table.Table, error) {
	joined, err := PointsToShapes(tok, t, set, xyCols)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(set.Shapes))
	groups, err := joined.GroupBy(set.AdmCols...)
	if err != nil {
		return nil, eris.Wrap(err, "join: group counts")
	}
	for _, g := range groups {
		counts[groupKey(g.Key)] = len(g.Rows)
	}
	out := table.New(append(append([]string{}, set.AdmCols...), countCol)...)
	for _, sh := range set.Shapes {
		n := counts[groupKey(sh.Adm)]
		row := append(append([]string{}, sh.Adm...), table.FormatFloat(float64(n)))
		if err := out.Append(row...); err != nil {
			return nil, eris.Wrap(err, "join: append count")
		}
	}
	return out, nil
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

// CachedPointsToShapes memoizes the join on the content of both inputs,
// so repeated runs over the same data skip the polygon tests entirely.
func CachedPointsToShapes(tok *stop.Token, c *cache.Cache, t *table.Table, set *spatial.ShapeSet, xyCols []string) (*table.Table, error) {
	key, err := cache.Key("join:points-to-shapes", t, set.AdmCols, xyCols, shapeDigest(set))
	if err != nil {
		return nil, eris.Wrap(err, "join: cache key")
	}
	var cached table.Table
	hit, err := c.Get(key, &cached)
	if err != nil {
		zap.L().Warn("join: cache read failed, recomputing", zap.Error(err))
	} else if hit {
		return &cached, nil
	}
	out, err := PointsToShapes(tok, t, set, xyCols)
	if err != nil {
		return nil, err
	}
	if err := c.Put(key, out); err != nil {
		zap.L().Warn("join: cache write failed", zap.Error(err))
	}
	return out, nil
}

// shapeDigest summarizes a shape set for cache keying without hashing
// every ring vertex twice: admin labels plus per-shape bounds and
// vertex counts pin the geometry down well enough.
func shapeDigest(set *spatial.ShapeSet) []any {
	digest := make([]any, 0, len(set.Shapes))
	for _, sh := range set.Shapes {
		min, max := sh.Bounds()
		n := 0
		for _, ring := range sh.Rings {
			n += len(ring)
		}
		digest = append(digest, []any{sh.Adm, min, max, n})
	}
	return digest
}
