package outline

import (
	"bytes"
	"encoding/json"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	geojson "github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/meridian-health/facility-cli/internal/config"
	"github.com/meridian-health/facility-cli/internal/spatial"
	"github.com/meridian-health/facility-cli/internal/table"
)

// ResultFiles is the fixed quintuple of artifact paths one location's
// pipeline run produces. The merged result uses the same five kinds
// resolved with an empty location.
type ResultFiles struct {
	Location   string
	Shapes     string
	Clusters   string
	Centers    string
	Counts     string
	Facilities string
}

// NewResultFiles resolves the five artifact paths for a location.
func NewResultFiles(cfg *config.Config, location string) (*ResultFiles, error) {
	rf := &ResultFiles{Location: location}
	for _, f := range []struct {
		pattern string
		dst     *string
	}{
		{cfg.Results.Shapes.File, &rf.Shapes},
		{cfg.Results.Clusters.File, &rf.Clusters},
		{cfg.Results.Clusters.CentersFile, &rf.Centers},
		{cfg.Results.Clusters.CountsFile, &rf.Counts},
		{cfg.Results.Facilities.File, &rf.Facilities},
	} {
		path, err := spatial.LocationPath(f.pattern, location)
		if err != nil {
			return nil, eris.Wrapf(err, "outline: result files for %q", location)
		}
		*f.dst = path
	}
	return rf, nil
}

// Paths returns the five artifact paths in fixed order.
func (r *ResultFiles) Paths() []string {
	return []string{r.Shapes, r.Clusters, r.Centers, r.Counts, r.Facilities}
}

// Exist reports whether all five artifacts exist with content.
func (r *ResultFiles) Exist() bool {
	for _, p := range r.Paths() {
		info, err := os.Stat(p)
		if err != nil || info.Size() == 0 {
			return false
		}
	}
	return true
}

// MergeResults concatenates every location's five artifacts into one
// merged quintuple written at the empty-location paths. Each tabular
// kind is sorted by its full column set so the merge is deterministic
// regardless of completion order; the shapes collection is sorted by
// feature encoding. Returns nil when no location succeeded.
func MergeResults(cfg *config.Config, results []*ResultFiles) (*ResultFiles, error) {
	if len(results) == 0 {
		zap.L().Warn("outline: no results to merge")
		return nil, nil
	}

	merged, err := NewResultFiles(cfg, "")
	if err != nil {
		return nil, err
	}

	for _, kind := range []struct {
		name string
		src  func(*ResultFiles) string
		dst  string
	}{
		{"clustered households", func(r *ResultFiles) string { return r.Clusters }, merged.Clusters},
		{"cluster centers", func(r *ResultFiles) string { return r.Centers }, merged.Centers},
		{"cluster counts", func(r *ResultFiles) string { return r.Counts }, merged.Counts},
		{"facilities", func(r *ResultFiles) string { return r.Facilities }, merged.Facilities},
	} {
		if err := mergeTables(results, kind.src, kind.dst); err != nil {
			return nil, eris.Wrapf(err, "outline: merge %s", kind.name)
		}
	}
	if err := mergeShapes(results, merged.Shapes); err != nil {
		return nil, eris.Wrap(err, "outline: merge shapes")
	}

	zap.L().Info("outline: merged results",
		zap.Int("locations", len(results)),
		zap.String("dir", cfg.Results.Dir))
	return merged, nil
}

func mergeTables(results []*ResultFiles, src func(*ResultFiles) string, dst string) error {
	var merged *table.Table
	for _, r := range results {
		t, err := table.ReadCSV(src(r))
		if err != nil {
			return eris.Wrapf(err, "read %s", src(r))
		}
		if merged == nil {
			merged = t
			continue
		}
		// Locations only partially covered by a baseline lack the
		// baseline enrichment columns, so the merge unions schemas.
		merged.ConcatOuter(t)
	}
	merged.SortAll()
	return merged.WriteCSV(dst)
}

func mergeShapes(results []*ResultFiles, dst string) error {
	merged := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	for _, r := range results {
		data, err := os.ReadFile(r.Shapes)
		if err != nil {
			return eris.Wrapf(err, "read %s", r.Shapes)
		}
		var fc geojson.FeatureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return eris.Wrapf(err, "decode %s", r.Shapes)
		}
		merged.Features = append(merged.Features, fc.Features...)
	}

	type encoded struct {
		data    []byte
		feature *geojson.Feature
	}
	pairs := make([]encoded, len(merged.Features))
	for i, f := range merged.Features {
		data, err := json.Marshal(f)
		if err != nil {
			return eris.Wrap(err, "encode feature")
		}
		pairs[i] = encoded{data, f}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return bytes.Compare(pairs[i].data, pairs[j].data) < 0
	})
	for i, p := range pairs {
		merged.Features[i] = p.feature
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
