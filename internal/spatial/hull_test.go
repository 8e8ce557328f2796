package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvexHull_Square(t *testing.T) {
	pts := []Point{
		{0, 0}, {2, 0}, {2, 2}, {0, 2},
		{1, 1}, {0.5, 0.5}, // interior
	}
	hull := ConvexHull(pts)
	require.Len(t, hull, 4)
	assert.InDelta(t, 4.0, RingArea(hull), 1e-12)
}

func TestConvexHull_Degenerate(t *testing.T) {
	assert.Len(t, ConvexHull([]Point{{1, 1}}), 1)
	assert.Len(t, ConvexHull([]Point{{1, 1}, {1, 1}, {2, 2}}), 2)
}

func TestClipToHull_Overlap(t *testing.T) {
	// Unit square hull, subject shifted by half in x.
	hull := ConvexHull([]Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}})
	subject := []Point{{0.5, 0}, {1.5, 0}, {1.5, 1}, {0.5, 1}}

	clipped := ClipToHull(subject, hull)
	require.NotEmpty(t, clipped)
	assert.InDelta(t, 0.5, RingArea(clipped), 1e-9)
}

func TestClipToHull_Disjoint(t *testing.T) {
	hull := ConvexHull([]Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}})
	subject := []Point{{5, 5}, {6, 5}, {6, 6}}
	assert.Empty(t, ClipToHull(subject, hull))
}

func TestPointInRing(t *testing.T) {
	ring := []Point{{0, 0}, {4, 0}, {4, 4}, {0, 4}}
	assert.True(t, PointInRing(Point{2, 2}, ring))
	assert.False(t, PointInRing(Point{5, 2}, ring))
}

func TestShapeContains_Hole(t *testing.T) {
	s := Shape{
		Rings: [][]Point{
			{{0, 0}, {10, 0}, {10, 10}, {0, 10}},
			{{4, 4}, {6, 4}, {6, 6}, {4, 6}}, // hole
		},
	}
	assert.True(t, s.Contains(Point{1, 1}))
	assert.False(t, s.Contains(Point{5, 5}))
	assert.False(t, s.Contains(Point{11, 1}))
}

func TestBufferSquare(t *testing.T) {
	ring := BufferSquare([]Point{{1, 1}, {1.2, 1}}, 0.1)
	require.Len(t, ring, 4)
	assert.Greater(t, RingArea(ring), 0.0)
	assert.True(t, PointInRing(Point{1.1, 1}, ring))
}
