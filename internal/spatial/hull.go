package spatial

import (
	"math"
	"sort"
)

// Point is a planar lon/lat coordinate.
type Point struct {
	X, Y float64
}

// ConvexHull computes the convex hull of a point set using the monotone
// chain algorithm. The hull is returned in counter-clockwise order without
// repeating the first point. Fewer than three distinct points return the
// distinct points themselves.
func ConvexHull(pts []Point) []Point {
	p := dedupe(pts)
	if len(p) <= 2 {
		return p
	}
	sort.Slice(p, func(i, j int) bool {
		if p[i].X != p[j].X {
			return p[i].X < p[j].X
		}
		return p[i].Y < p[j].Y
	})

	var lower, upper []Point
	for _, pt := range p {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], pt) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, pt)
	}
	for i := len(p) - 1; i >= 0; i-- {
		pt := p[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], pt) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, pt)
	}

	hull := append(lower[:len(lower)-1], upper[:len(upper)-1]...)
	return hull
}

func dedupe(pts []Point) []Point {
	seen := make(map[Point]struct{}, len(pts))
	out := make([]Point, 0, len(pts))
	for _, pt := range pts {
		if _, ok := seen[pt]; ok {
			continue
		}
		seen[pt] = struct{}{}
		out = append(out, pt)
	}
	return out
}

func cross(o, a, b Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

// ClipToHull intersects a polygon ring with a convex hull using the
// Sutherland-Hodgman algorithm (the hull is the clipper, so convexity
// holds). The result may be empty or degenerate when the shapes barely
// touch.
func ClipToHull(subject, hull []Point) []Point {
	if len(hull) < 3 || len(subject) < 3 {
		return nil
	}
	out := subject
	for i := range hull {
		a := hull[i]
		b := hull[(i+1)%len(hull)]
		out = clipEdge(out, a, b)
		if len(out) == 0 {
			return nil
		}
	}
	return out
}

// clipEdge keeps the part of the ring on the left side of edge a->b
// (the hull interior for a counter-clockwise hull).
func clipEdge(ring []Point, a, b Point) []Point {
	var out []Point
	for i := range ring {
		cur := ring[i]
		prev := ring[(i+len(ring)-1)%len(ring)]
		curIn := cross(a, b, cur) >= 0
		prevIn := cross(a, b, prev) >= 0
		switch {
		case curIn && prevIn:
			out = append(out, cur)
		case curIn && !prevIn:
			out = append(out, intersect(prev, cur, a, b), cur)
		case !curIn && prevIn:
			out = append(out, intersect(prev, cur, a, b))
		}
	}
	return out
}

func intersect(p1, p2, a, b Point) Point {
	a1 := b.Y - a.Y
	b1 := a.X - b.X
	c1 := a1*a.X + b1*a.Y
	a2 := p2.Y - p1.Y
	b2 := p1.X - p2.X
	c2 := a2*p1.X + b2*p1.Y
	det := a1*b2 - a2*b1
	if det == 0 {
		return p1 // parallel segments, endpoint is as good as any
	}
	return Point{
		X: (b2*c1 - b1*c2) / det,
		Y: (a1*c2 - a2*c1) / det,
	}
}

// PointInRing reports whether pt lies inside the ring using ray casting.
// Points exactly on an edge may fall on either side.
func PointInRing(pt Point, ring []Point) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := ring[i], ring[j]
		if (pi.Y > pt.Y) != (pj.Y > pt.Y) &&
			pt.X < (pj.X-pi.X)*(pt.Y-pi.Y)/(pj.Y-pi.Y)+pi.X {
			inside = !inside
		}
	}
	return inside
}

// RingArea returns the absolute planar area of a ring.
func RingArea(ring []Point) float64 {
	if len(ring) < 3 {
		return 0
	}
	var s float64
	for i := range ring {
		j := (i + 1) % len(ring)
		s += ring[i].X*ring[j].Y - ring[j].X*ring[i].Y
	}
	return math.Abs(s) / 2
}

// BufferSquare expands a degenerate point set (a single point or a segment)
// into a small axis-aligned rectangle so it can stand in as a polygon.
func BufferSquare(pts []Point, half float64) []Point {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return []Point{
		{minX - half, minY - half},
		{maxX + half, minY - half},
		{maxX + half, maxY + half},
		{minX - half, maxY + half},
	}
}
