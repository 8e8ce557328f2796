// Package flow orchestrates the per-location pipeline: clustering,
// validation, outlining and placement, merge, and threshold checks.
package flow

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-health/facility-cli/internal/cache"
	"github.com/meridian-health/facility-cli/internal/cluster"
	"github.com/meridian-health/facility-cli/internal/config"
	"github.com/meridian-health/facility-cli/internal/distance"
	"github.com/meridian-health/facility-cli/internal/outline"
	"github.com/meridian-health/facility-cli/internal/place"
	"github.com/meridian-health/facility-cli/internal/runstate"
	"github.com/meridian-health/facility-cli/internal/spatial"
	"github.com/meridian-health/facility-cli/internal/stop"
	"github.com/meridian-health/facility-cli/internal/table"
)

// Workflow runs the scientific pipeline over a set of locations.
type Workflow struct {
	cfg   *config.Config
	cache *cache.Cache
	store *runstate.Store

	// Fit is the clustering routine; injectable for tests.
	Fit cluster.FitFunc
}

// Summary is the outcome of one pipeline run.
type Summary struct {
	Merged *outline.ResultFiles
	Failed []string
}

// New builds a workflow.
func New(cfg *config.Config, c *cache.Cache, store *runstate.Store) *Workflow {
	return &Workflow{cfg: cfg, cache: c, store: store, Fit: cluster.FitKMeans}
}

// ProcessLocations runs every stage over the given locations. Failed
// locations are collected and reported, never aborting the others; a
// stop request unwinds with cleanup and the run is recorded stopped
// rather than failed.
func (w *Workflow) ProcessLocations(ctx context.Context, tok *stop.Token, locations []string) (*Summary, error) {
	run, err := w.store.BeginRun(ctx, w.cfg.Args.Country)
	if err != nil {
		return nil, err
	}

	summary, err := w.process(ctx, tok, locations)
	status := runstate.Done
	switch {
	case eris.Is(err, stop.ErrStopped):
		status = runstate.Stopped
	case err != nil:
		status = runstate.Failed
	}
	if endErr := w.store.EndRun(ctx, run.ID, status); endErr != nil {
		zap.L().Error("flow: record run status", zap.Error(endErr))
	}
	if err != nil {
		return nil, err
	}

	if summary.Merged == nil {
		zap.L().Warn("flow: no results found")
	} else {
		zap.L().Info("flow: run complete",
			zap.Int("locations", len(locations)),
			zap.Int("failed", len(summary.Failed)),
			zap.Strings("merged", summary.Merged.Paths()))
	}
	return summary, nil
}

func (w *Workflow) process(ctx context.Context, tok *stop.Token, locations []string) (*Summary, error) {
	clustered, err := w.ClusterHouseholds(ctx, tok, locations)
	if err != nil {
		return nil, err
	}

	valid, failed := w.ValidateClusters(clustered)

	results, moreFailed, err := w.OutlineAndPlace(ctx, tok, valid)
	if err != nil {
		return nil, err
	}
	failed = append(failed, moreFailed...)
	sort.Strings(failed)

	merged, err := w.ProcessResults(results)
	if err != nil {
		return nil, err
	}
	if merged != nil {
		if err := w.CheckThresholds(merged); err != nil {
			return nil, err
		}
	}

	if err := w.writeFailed(failed); err != nil {
		return nil, err
	}
	return &Summary{Merged: merged, Failed: failed}, nil
}

// ClusterHouseholds clusters every location on a bounded worker pool
// and saves each result's three artifacts. Progress is reported at each
// whole-percentage-point change.
func (w *Workflow) ClusterHouseholds(ctx context.Context, tok *stop.Token, locations []string) (map[string]*cluster.ClusteredHouseholds, error) {
	households, err := table.ReadCSV(w.cfg.Inputs.Households.File)
	if err != nil {
		return nil, eris.Wrap(err, "flow: read households")
	}
	centers, err := table.ReadCSV(w.cfg.Inputs.VillageCenters.File)
	if err != nil {
		return nil, eris.Wrap(err, "flow: read village centers")
	}

	var (
		mu       sync.Mutex
		results  = make(map[string]*cluster.ClusteredHouseholds, len(locations))
		progress = newProgress("cluster", len(locations))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.workers())
	for _, location := range locations {
		if err := tok.Check(); err != nil {
			return nil, err
		}
		location := location
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				if serr := tok.Check(); serr != nil {
					return serr
				}
				return err
			}
			ch, err := w.clusterOne(ctx, tok, location, households, centers)
			if err != nil {
				if eris.Is(err, stop.ErrStopped) {
					return err
				}
				zap.L().Warn("flow: location failed",
					zap.String("location", location),
					zap.Error(err))
			}
			mu.Lock()
			defer mu.Unlock()
			results[location] = ch
			progress.step()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (w *Workflow) clusterOne(ctx context.Context, tok *stop.Token, location string, households, centers *table.Table) (*cluster.ClusteredHouseholds, error) {
	if err := tok.Check(); err != nil {
		return nil, err
	}

	hhCols := w.cfg.Inputs.Households.AdmCols
	hh, err := spatial.FilterLocations(households, []string{location}, hhCols)
	if err != nil {
		return nil, eris.Wrapf(err, "flow: %s", location)
	}
	vc, err := spatial.FilterLocations(centers, []string{location}, hhCols)
	if err != nil {
		return nil, eris.Wrapf(err, "flow: %s", location)
	}

	ch := cluster.New(w.cfg, location, hh.Clone(), vc.Clone())
	if !ch.Valid() {
		w.setLocation(ctx, location, runstate.Failed)
		return ch, nil
	}

	if err := w.runOne(ctx, tok, location, ch); err != nil {
		if eris.Is(err, stop.ErrStopped) {
			w.cleanupCluster(ctx, location, ch)
			return nil, err
		}
		w.setLocation(ctx, location, runstate.Failed)
		return ch, err
	}
	w.setLocation(ctx, location, runstate.Done)
	return ch, nil
}

func (w *Workflow) runOne(ctx context.Context, tok *stop.Token, location string, ch *cluster.ClusteredHouseholds) error {
	w.setLocation(ctx, location, runstate.InProgress)
	if err := ch.Cluster(w.cachedFit()); err != nil {
		return err
	}
	if err := tok.Check(); err != nil {
		return err
	}
	if err := ch.Finalize(); err != nil {
		return err
	}
	return ch.Save()
}

// ValidateClusters keeps locations whose result is valid AND whose
// three files landed on disk, a double check against partial writes.
func (w *Workflow) ValidateClusters(clustered map[string]*cluster.ClusteredHouseholds) (map[string]*cluster.ClusteredHouseholds, []string) {
	valid := make(map[string]*cluster.ClusteredHouseholds, len(clustered))
	var failed []string
	for location, ch := range clustered {
		if ch != nil && ch.Valid() && ch.FilesExist() {
			valid[location] = ch
			continue
		}
		failed = append(failed, location)
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		zap.L().Warn("flow: locations failed clustering",
			zap.Int("count", len(failed)),
			zap.Strings("locations", failed))
	}
	return valid, failed
}

// OutlineAndPlace builds cluster shapes, places facilities, and
// computes distances per valid location on a second worker pool. A
// location with empty or unreadable cluster data yields a nil result
// and is reported failed, not fatal.
func (w *Workflow) OutlineAndPlace(ctx context.Context, tok *stop.Token, valid map[string]*cluster.ClusteredHouseholds) (map[string]*outline.ResultFiles, []string, error) {
	admin, err := spatial.ReadShapes(w.cfg.Inputs.Shapes.File, w.cfg.Inputs.Shapes.AdmCols)
	if err != nil {
		return nil, nil, eris.Wrap(err, "flow: read shapes")
	}
	baseline, err := w.readBaseline()
	if err != nil {
		return nil, nil, err
	}

	locations := make([]string, 0, len(valid))
	for location := range valid {
		locations = append(locations, location)
	}
	sort.Strings(locations)

	var (
		mu       sync.Mutex
		results  = make(map[string]*outline.ResultFiles, len(valid))
		failed   []string
		progress = newProgress("outline", len(locations))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.workers())
	for _, location := range locations {
		if err := tok.Check(); err != nil {
			return nil, nil, err
		}
		location := location
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				if serr := tok.Check(); serr != nil {
					return serr
				}
				return err
			}
			rf, err := w.outlineOne(tok, location, admin, baseline)
			if err != nil {
				if eris.Is(err, stop.ErrStopped) {
					return err
				}
				zap.L().Warn("flow: location failed",
					zap.String("location", location),
					zap.Error(err))
				rf = nil
			}
			mu.Lock()
			defer mu.Unlock()
			if rf == nil {
				failed = append(failed, location)
			} else {
				results[location] = rf
			}
			progress.step()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return results, failed, nil
}

func (w *Workflow) outlineOne(tok *stop.Token, location string, admin *spatial.ShapeSet, baseline *table.Table) (*outline.ResultFiles, error) {
	if err := tok.Check(); err != nil {
		return nil, err
	}

	rf, err := outline.NewResultFiles(w.cfg, location)
	if err != nil {
		return nil, err
	}
	clusters, err := readTable(rf.Clusters)
	if err != nil || clusters.Len() == 0 {
		zap.L().Warn("flow: empty or unreadable cluster data",
			zap.String("location", location),
			zap.Error(err))
		return nil, nil
	}
	counts, err := readTable(rf.Counts)
	if err != nil {
		return nil, eris.Wrapf(err, "flow: %s: read counts", location)
	}

	cleanup := func() {
		for _, p := range []string{rf.Shapes, rf.Facilities} {
			os.Remove(p)
		}
	}

	shapes, err := outline.BuildClusterShapes(w.cfg, admin, clusters, counts, location)
	if err != nil {
		return nil, err
	}
	if err := outline.ExportShapes(w.cfg, shapes, rf.Shapes); err != nil {
		return nil, err
	}

	facilities, err := place.CachedFacilities(w.cfg, w.cache, clusters, location)
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := facilities.WriteCSV(rf.Facilities); err != nil {
		cleanup()
		return nil, err
	}

	if err := tok.Check(); err != nil {
		cleanup()
		return nil, err
	}
	if err := w.measureDistances(rf, clusters, facilities, baseline, location); err != nil {
		cleanup()
		return nil, err
	}

	if !rf.Exist() {
		return nil, eris.Errorf("flow: %s: result files missing after write", location)
	}
	return rf, nil
}

// measureDistances enriches the clustered households and cluster
// centers with distances to their assigned facility, optimal and (when
// configured) baseline, and writes the distance distributions.
func (w *Workflow) measureDistances(rf *outline.ResultFiles, clusters, facilities, baseline *table.Table, location string) error {
	cc := w.cfg.Results.Clusters
	fc := w.cfg.Results.Facilities

	enriched, err := distance.AssignAndMeasure(clusters, cc.XYCols, facilities, fc.XYCols, "id", distance.PrefixHousehold)
	if err != nil {
		return eris.Wrapf(err, "flow: %s", location)
	}

	centers, err := readTable(rf.Centers)
	if err != nil {
		return eris.Wrapf(err, "flow: %s: read centers", location)
	}
	centersEnriched, err := distance.AssignAndMeasure(centers, cc.CenterXYCols(), facilities, fc.XYCols, "id", distance.PrefixVillage)
	if err != nil {
		return eris.Wrapf(err, "flow: %s", location)
	}

	if baseline != nil {
		admCols := w.cfg.Inputs.Baseline.AdmCols
		slice, err := spatial.FilterLocations(baseline, []string{location}, admCols)
		if err != nil {
			return eris.Wrapf(err, "flow: %s: baseline slice", location)
		}
		bXY := w.cfg.Inputs.Baseline.XYCols
		enriched, err = distance.AssignAndMeasure(enriched, cc.XYCols, slice, bXY, "id", distance.PrefixBaselineHH)
		if err != nil {
			return eris.Wrapf(err, "flow: %s", location)
		}
		centersEnriched, err = distance.AssignAndMeasure(centersEnriched, cc.CenterXYCols(), slice, bXY, "id", distance.PrefixBaselineVillage)
		if err != nil {
			return eris.Wrapf(err, "flow: %s", location)
		}
	}

	if err := enriched.WriteCSV(rf.Clusters); err != nil {
		return eris.Wrapf(err, "flow: %s: write enriched households", location)
	}
	if err := centersEnriched.WriteCSV(rf.Centers); err != nil {
		return eris.Wrapf(err, "flow: %s: write enriched centers", location)
	}

	if enriched.HasCols(distance.PrefixHousehold + distance.SuffixMinkowski) {
		if err := distance.WriteECDF(enriched, distance.PrefixHousehold+distance.SuffixMinkowski, ecdfPath(rf.Clusters)); err != nil {
			return eris.Wrapf(err, "flow: %s", location)
		}
	}
	return nil
}

// ProcessResults merges all successful locations, or returns nil when
// none succeeded.
func (w *Workflow) ProcessResults(results map[string]*outline.ResultFiles) (*outline.ResultFiles, error) {
	ordered := make([]*outline.ResultFiles, 0, len(results))
	locations := make([]string, 0, len(results))
	for location := range results {
		locations = append(locations, location)
	}
	sort.Strings(locations)
	for _, location := range locations {
		ordered = append(ordered, results[location])
	}
	return outline.MergeResults(w.cfg, ordered)
}

// CheckThresholds computes households-per-cluster statistics over the
// merged counts and compares the share of small clusters to the
// configured maximum. Violations only raise log severity; the stats
// CSV is always written.
func (w *Workflow) CheckThresholds(merged *outline.ResultFiles) error {
	counts, err := table.ReadCSV(merged.Counts)
	if err != nil {
		return eris.Wrap(err, "flow: read merged counts")
	}

	small, total := 0, counts.Len()
	minHH, maxHH, sumHH := 0.0, 0.0, 0.0
	for i := 0; i < total; i++ {
		flag, err := counts.Value(i, "small")
		if err != nil {
			return eris.Wrap(err, "flow: cluster stats")
		}
		if flag == "true" {
			small++
		}
		n, err := counts.Float(i, "num_households")
		if err != nil {
			return eris.Wrap(err, "flow: cluster stats")
		}
		if i == 0 || n < minHH {
			minHH = n
		}
		if n > maxHH {
			maxHH = n
		}
		sumHH += n
	}
	perc := 0.0
	mean := 0.0
	if total > 0 {
		perc = float64(small) / float64(total) * 100
		mean = sumHH / float64(total)
	}

	stats := table.New("clusters", "small_clusters", "small_percent", "min_households", "mean_households", "max_households")
	err = stats.Append(
		table.FormatFloat(float64(total)),
		table.FormatFloat(float64(small)),
		table.FormatFloat(perc),
		table.FormatFloat(minHH),
		table.FormatFloat(mean),
		table.FormatFloat(maxHH),
	)
	if err != nil {
		return eris.Wrap(err, "flow: cluster stats")
	}
	statsPath := strings.TrimSuffix(merged.Counts, ".csv") + "_stats.csv"
	if err := stats.WriteCSV(statsPath); err != nil {
		return eris.Wrap(err, "flow: write cluster stats")
	}

	fields := []zap.Field{
		zap.Int("clusters", total),
		zap.Int("small", small),
		zap.Float64("percent", perc),
		zap.Int("max_percent", w.cfg.Args.ThresholdVillagePerc),
		zap.String("path", statsPath),
	}
	if perc > float64(w.cfg.Args.ThresholdVillagePerc) {
		zap.L().Warn("flow: too many small clusters", fields...)
	} else {
		zap.L().Info("flow: cluster stats", fields...)
	}
	return nil
}

func (w *Workflow) writeFailed(failed []string) error {
	t := table.New("location")
	for _, location := range failed {
		if err := t.Append(location); err != nil {
			return eris.Wrap(err, "flow: failed locations")
		}
	}
	path, err := spatial.LocationPath(w.cfg.Results.LocationsFile, "")
	if err != nil {
		return err
	}
	path = strings.TrimSuffix(path, ".csv") + "_failed.csv"
	return t.WriteCSV(path)
}

func (w *Workflow) readBaseline() (*table.Table, error) {
	if !w.cfg.Inputs.HasBaseline() {
		return nil, nil
	}
	t, err := table.ReadCSV(w.cfg.Inputs.Baseline.File)
	if err != nil {
		return nil, eris.Wrap(err, "flow: read baseline")
	}
	return t, nil
}

// cachedFit memoizes the clustering fit on its exact inputs so a rerun
// over unchanged data never refits. A broken cache falls back to a
// direct fit rather than failing the location.
func (w *Workflow) cachedFit() cluster.FitFunc {
	return func(points, init []spatial.Point, maxIter int, tol float64) cluster.FitResult {
		res, err := cluster.CachedFit(w.cache, w.Fit, points, init, maxIter, tol)
		if err != nil {
			zap.L().Warn("flow: fit cache unavailable, fitting directly", zap.Error(err))
			return w.Fit(points, init, maxIter, tol)
		}
		return res
	}
}

func (w *Workflow) workers() int {
	if w.cfg.Args.Workers < 1 {
		return 1
	}
	return w.cfg.Args.Workers
}

func (w *Workflow) setLocation(ctx context.Context, location string, state runstate.State) {
	if err := w.store.SetLocation(ctx, location, state); err != nil {
		zap.L().Error("flow: record location state",
			zap.String("location", location),
			zap.Error(err))
	}
}

func (w *Workflow) cleanupCluster(ctx context.Context, location string, ch *cluster.ClusteredHouseholds) {
	files, err := ch.Files()
	if err == nil {
		for _, f := range files {
			os.Remove(f)
		}
	}
	w.setLocation(ctx, location, runstate.Stopped)
}

func readTable(path string) (*table.Table, error) {
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		return nil, eris.Errorf("missing or empty file %s", path)
	}
	return table.ReadCSV(path)
}

func ecdfPath(clustersPath string) string {
	return strings.TrimSuffix(clustersPath, ".csv") + ".ecdf.csv"
}

// progress reports at each whole-percentage-point change, from the
// completion path only.
type progress struct {
	stage   string
	total   int
	done    int
	lastPct int
}

func newProgress(stage string, total int) *progress {
	return &progress{stage: stage, total: total, lastPct: -1}
}

// step must be called with the caller's results mutex held.
func (p *progress) step() {
	p.done++
	pct := 100
	if p.total > 0 {
		pct = p.done * 100 / p.total
	}
	if pct == p.lastPct {
		return
	}
	p.lastPct = pct
	zap.L().Info("flow: progress",
		zap.String("stage", p.stage),
		zap.Int("done", p.done),
		zap.Int("total", p.total),
		zap.Int("percent", pct))
}
