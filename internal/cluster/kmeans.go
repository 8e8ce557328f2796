package cluster

import (
	"hash/fnv"
	"math"
	"math/rand"

	"go.uber.org/zap"

	"github.com/meridian-health/facility-cli/internal/cache"
	"github.com/meridian-health/facility-cli/internal/spatial"
)

// Lloyd's algorithm over lon/lat points. Clustering runs with a single
// initialization seeded at the supplied centers, so results are
// deterministic given fixed input order. Assignment ties keep the first
// minimum, which makes them sensitive to input order as well.

const (
	DefaultMaxIter = 300
	DefaultTol     = 1e-4
)

// FitResult is the outcome of one k-means fit.
type FitResult struct {
	Labels    []int           `json:"labels"`
	Centers   []spatial.Point `json:"centers"`
	Iters     int             `json:"iters"`
	Converged bool            `json:"converged"`
}

// FitFunc fits k-means over points seeded at init. Injectable so the
// convergence branches can be exercised without a real fit.
type FitFunc func(points, init []spatial.Point, maxIter int, tol float64) FitResult

// FitKMeans runs Lloyd's algorithm seeded at init. The fit converged
// only when it settled strictly before the iteration budget; stopping
// exactly at the budget counts as non-convergence.
func FitKMeans(points, init []spatial.Point, maxIter int, tol float64) FitResult {
	k := len(init)
	centers := make([]spatial.Point, k)
	copy(centers, init)
	labels := make([]int, len(points))

	iters := 0
	for it := 1; it <= maxIter; it++ {
		iters = it
		assign(points, centers, labels)

		next := recompute(points, labels, centers)
		shift := 0.0
		for i := range centers {
			d := euclid(centers[i], next[i])
			if d > shift {
				shift = d
			}
		}
		centers = next
		if shift <= tol {
			break
		}
	}

	return FitResult{
		Labels:    labels,
		Centers:   centers,
		Iters:     iters,
		Converged: iters < maxIter,
	}
}

func assign(points, centers []spatial.Point, labels []int) {
	for i, p := range points {
		best, bestDist := 0, math.Inf(1)
		for j, c := range centers {
			if d := euclid(p, c); d < bestDist {
				best, bestDist = j, d
			}
		}
		labels[i] = best
	}
}

// recompute averages each cluster's points. A cluster left empty keeps
// its previous center.
func recompute(points []spatial.Point, labels []int, prev []spatial.Point) []spatial.Point {
	sums := make([]spatial.Point, len(prev))
	counts := make([]int, len(prev))
	for i, p := range points {
		sums[labels[i]].X += p.X
		sums[labels[i]].Y += p.Y
		counts[labels[i]]++
	}
	next := make([]spatial.Point, len(prev))
	for i := range next {
		if counts[i] == 0 {
			next[i] = prev[i]
			continue
		}
		next[i] = spatial.Point{X: sums[i].X / float64(counts[i]), Y: sums[i].Y / float64(counts[i])}
	}
	return next
}

func euclid(a, b spatial.Point) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// SeedPlusPlus picks k initial centers with k-means++ weighting.
func SeedPlusPlus(points []spatial.Point, k int, rng *rand.Rand) []spatial.Point {
	centers := make([]spatial.Point, 0, k)
	centers = append(centers, points[rng.Intn(len(points))])
	dists := make([]float64, len(points))
	for len(centers) < k {
		total := 0.0
		for i, p := range points {
			d := math.Inf(1)
			for _, c := range centers {
				if e := euclid(p, c); e < d {
					d = e
				}
			}
			dists[i] = d * d
			total += dists[i]
		}
		if total == 0 {
			// All remaining points coincide with a chosen center.
			centers = append(centers, points[rng.Intn(len(points))])
			continue
		}
		target := rng.Float64() * total
		acc := 0.0
		pick := len(points) - 1
		for i, d := range dists {
			acc += d
			if acc >= target {
				pick = i
				break
			}
		}
		centers = append(centers, points[pick])
	}
	return centers
}

// Seed derives a stable RNG seed from a location key so placement is
// reproducible per location.
func Seed(location string) int64 {
	h := fnv.New64a()
	h.Write([]byte(location))
	return int64(h.Sum64())
}

// CachedFit memoizes a fit on the exact input values. Entries are never
// invalidated; clearing the cache is a separate explicit operation.
func CachedFit(c *cache.Cache, fit FitFunc, points, init []spatial.Point, maxIter int, tol float64) (FitResult, error) {
	key, err := cache.Key("cluster:kmeans", points, init, maxIter, tol)
	if err != nil {
		return FitResult{}, err
	}
	var cached FitResult
	hit, err := c.Get(key, &cached)
	if err != nil {
		zap.L().Warn("cluster: cache read failed, refitting", zap.Error(err))
	} else if hit {
		return cached, nil
	}
	res := fit(points, init, maxIter, tol)
	if err := c.Put(key, res); err != nil {
		zap.L().Warn("cluster: cache write failed", zap.Error(err))
	}
	return res, nil
}
