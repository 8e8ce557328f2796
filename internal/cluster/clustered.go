package cluster

import (
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-health/facility-cli/internal/config"
	"github.com/meridian-health/facility-cli/internal/spatial"
	"github.com/meridian-health/facility-cli/internal/table"
)

// ClusteredHouseholds owns one location's three derived tables: the
// clustered households, the per-village cluster centers, and the
// per-cluster counts. It moves through two states, unconverged and
// finalized; Finalize is irreversible.
type ClusteredHouseholds struct {
	Location   string
	Households *table.Table
	Centers    *table.Table
	Counts     *table.Table
	Converged  bool

	cfg       *config.Config
	valid     bool
	finalized bool
}

// New builds a ClusteredHouseholds from one location's household and
// village-center slices. Empty input data marks the result invalid and
// clustering is never attempted; this is distinct from a fit that ran
// and failed to converge.
func New(cfg *config.Config, location string, households, centers *table.Table) *ClusteredHouseholds {
	ch := &ClusteredHouseholds{
		Location:   location,
		Households: households,
		Centers:    centers,
		cfg:        cfg,
	}
	if households == nil || centers == nil || households.Len() == 0 || centers.Len() == 0 {
		zap.L().Info("cluster: empty input data, skipping",
			zap.String("location", location))
		return ch
	}
	ch.valid = true
	return ch
}

// Valid reports whether construction succeeded and both source tables
// are non-empty. Invalid instances are excluded from downstream stages.
func (ch *ClusteredHouseholds) Valid() bool {
	return ch.valid && ch.Households != nil && ch.Households.Len() > 0 &&
		ch.Centers != nil && ch.Centers.Len() > 0
}

// Cluster partitions the households into one cluster per village
// center, seeding the fit at the center coordinates. Households gain a
// cluster id column; centers gain their cluster id and the computed
// cluster centroid, which is the data's actual centroid rather than the
// original village-center point.
func (ch *ClusteredHouseholds) Cluster(fit FitFunc) error {
	if !ch.Valid() {
		return eris.Errorf("cluster: %s: invalid input data", ch.Location)
	}

	hhXY := ch.cfg.Inputs.Households.XYCols
	vcXY := ch.cfg.Inputs.VillageCenters.XYCols
	points, err := tablePoints(ch.Households, hhXY)
	if err != nil {
		return eris.Wrapf(err, "cluster: %s: households", ch.Location)
	}
	init, err := tablePoints(ch.Centers, vcXY)
	if err != nil {
		return eris.Wrapf(err, "cluster: %s: centers", ch.Location)
	}

	res := fit(points, init, DefaultMaxIter, DefaultTol)
	ch.Converged = res.Converged
	if !res.Converged {
		zap.L().Warn("cluster: fit did not converge, keeping best assignment",
			zap.String("location", ch.Location),
			zap.Int("iters", res.Iters))
	}

	clusterCol := ch.cfg.Results.Clusters.ClusterCol()
	labels := make([]string, len(res.Labels))
	for i, l := range res.Labels {
		labels[i] = strconv.Itoa(l)
	}
	if err := ch.Households.AddCol(clusterCol, labels); err != nil {
		return eris.Wrapf(err, "cluster: %s", ch.Location)
	}

	ids := make([]string, ch.Centers.Len())
	lons := make([]string, ch.Centers.Len())
	lats := make([]string, ch.Centers.Len())
	for i := 0; i < ch.Centers.Len(); i++ {
		ids[i] = strconv.Itoa(i)
		lons[i] = table.FormatFloat(res.Centers[i].X)
		lats[i] = table.FormatFloat(res.Centers[i].Y)
	}
	cxy := ch.cfg.Results.Clusters.CenterXYCols()
	if err := ch.Centers.AddCol(clusterCol, ids); err != nil {
		return eris.Wrapf(err, "cluster: %s", ch.Location)
	}
	if err := ch.Centers.AddCol(cxy[0], lons); err != nil {
		return eris.Wrapf(err, "cluster: %s", ch.Location)
	}
	if err := ch.Centers.AddCol(cxy[1], lats); err != nil {
		return eris.Wrapf(err, "cluster: %s", ch.Location)
	}
	return nil
}

// Finalize locks in the finalized column selection and sort order and
// computes the per-cluster counts. The village-name column is joined
// from the centers by cluster id when the fit converged; otherwise the
// cluster id itself stands in as the name. Irreversible.
func (ch *ClusteredHouseholds) Finalize() error {
	if !ch.Valid() {
		return eris.Errorf("cluster: %s: invalid input data", ch.Location)
	}
	if ch.finalized {
		return eris.Errorf("cluster: %s: already finalized", ch.Location)
	}

	clusters := ch.cfg.Results.Clusters
	clusterCol := clusters.ClusterCol()
	villageCol := ch.villageCol()

	if ch.Converged {
		if err := ch.Households.Join(ch.Centers, clusterCol, villageCol); err != nil {
			return eris.Wrapf(err, "cluster: %s: join village names", ch.Location)
		}
	} else {
		names := make([]string, ch.Households.Len())
		for i := range names {
			id, err := ch.Households.Value(i, clusterCol)
			if err != nil {
				return eris.Wrapf(err, "cluster: %s", ch.Location)
			}
			names[i] = id
		}
		if err := ch.Households.AddCol(villageCol, names); err != nil {
			return eris.Wrapf(err, "cluster: %s", ch.Location)
		}
	}

	cols := append(append(append([]string{}, clusters.AdmCols...), clusters.XYCols...), clusters.DataCols...)
	selected, err := ch.Households.Select(cols...)
	if err != nil {
		return eris.Wrapf(err, "cluster: %s: finalized columns", ch.Location)
	}
	if err := selected.Sort(append(append([]string{}, clusters.AdmCols...), clusters.XYCols...)...); err != nil {
		return eris.Wrapf(err, "cluster: %s: sort", ch.Location)
	}
	ch.Households = selected

	counts, err := ch.computeCounts()
	if err != nil {
		return err
	}
	ch.Counts = counts
	ch.finalized = true
	return nil
}

func (ch *ClusteredHouseholds) villageCol() string {
	adm := ch.cfg.Results.Clusters.AdmCols
	return adm[len(adm)-1]
}

// computeCounts flags clusters whose household count falls below the
// configured threshold. A count exactly at the threshold is not small.
func (ch *ClusteredHouseholds) computeCounts() (*table.Table, error) {
	clusters := ch.cfg.Results.Clusters
	clusterCol := clusters.ClusterCol()
	admCols := clusters.AdmCols[:len(clusters.AdmCols)-1]
	threshold := ch.cfg.Args.ThresholdHouseholds

	groups, err := ch.Households.GroupBy(append(append([]string{}, admCols...), clusterCol)...)
	if err != nil {
		return nil, eris.Wrapf(err, "cluster: %s: counts", ch.Location)
	}
	counts := table.New(append(append([]string{}, admCols...), clusterCol, "num_households", "small")...)
	for _, g := range groups {
		n := len(g.Rows)
		row := append(append([]string{}, g.Key...),
			table.FormatFloat(float64(n)),
			strconv.FormatBool(n < threshold))
		if err := counts.Append(row...); err != nil {
			return nil, eris.Wrapf(err, "cluster: %s: counts", ch.Location)
		}
	}
	return counts, nil
}

// Save writes the three per-location artifacts. Saving an invalid or
// unfinalized instance is an error.
func (ch *ClusteredHouseholds) Save() error {
	if !ch.Valid() {
		return eris.Errorf("cluster: %s: cannot save invalid result", ch.Location)
	}
	if !ch.finalized {
		return eris.Errorf("cluster: %s: cannot save before finalize", ch.Location)
	}

	clusters := ch.cfg.Results.Clusters
	for _, f := range []struct {
		pattern string
		t       *table.Table
	}{
		{clusters.File, ch.Households},
		{clusters.CentersFile, ch.Centers},
		{clusters.CountsFile, ch.Counts},
	} {
		path, err := spatial.LocationPath(f.pattern, ch.Location)
		if err != nil {
			return eris.Wrapf(err, "cluster: %s", ch.Location)
		}
		if err := f.t.WriteCSV(path); err != nil {
			return eris.Wrapf(err, "cluster: %s", ch.Location)
		}
	}
	return nil
}

// Files returns the three artifact paths for this location.
func (ch *ClusteredHouseholds) Files() ([]string, error) {
	clusters := ch.cfg.Results.Clusters
	out := make([]string, 0, 3)
	for _, pattern := range []string{clusters.File, clusters.CentersFile, clusters.CountsFile} {
		path, err := spatial.LocationPath(pattern, ch.Location)
		if err != nil {
			return nil, eris.Wrapf(err, "cluster: %s", ch.Location)
		}
		out = append(out, path)
	}
	return out, nil
}

// FilesExist reports whether all three artifacts exist on disk with
// content, guarding against partial writes.
func (ch *ClusteredHouseholds) FilesExist() bool {
	files, err := ch.Files()
	if err != nil {
		return false
	}
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil || info.Size() == 0 {
			return false
		}
	}
	return true
}

func tablePoints(t *table.Table, xyCols []string) ([]spatial.Point, error) {
	if !t.HasCols(xyCols...) {
		return nil, eris.Errorf("missing coordinate columns %v", xyCols)
	}
	pts := make([]spatial.Point, t.Len())
	for i := 0; i < t.Len(); i++ {
		x, err := t.Float(i, xyCols[0])
		if err != nil {
			return nil, err
		}
		y, err := t.Float(i, xyCols[1])
		if err != nil {
			return nil, err
		}
		pts[i] = spatial.Point{X: x, Y: y}
	}
	return pts, nil
}
