package inputs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	geom "github.com/twpayne/go-geom"
	geojson "github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/meridian-health/facility-cli/internal/config"
	"github.com/meridian-health/facility-cli/internal/join"
	"github.com/meridian-health/facility-cli/internal/spatial"
	"github.com/meridian-health/facility-cli/internal/stop"
	"github.com/meridian-health/facility-cli/internal/table"
)

// PrepareVillageCenters normalizes the user-supplied village centers:
// cleans coordinates, renames the user's columns to the configured
// names, attaches the administrative path by spatial join, sorts, and
// writes both a CSV and a GeoJSON rendition.
func PrepareVillageCenters(cfg *config.Config, tok *stop.Token) (string, error) {
	raw := cfg.Args.VillageCenters
	prepared := cfg.Inputs.VillageCenters

	t, err := table.ReadCSV(raw.File)
	if err != nil {
		return "", eris.Wrap(err, "inputs: read village centers")
	}
	t, err = t.DropNull(raw.XYCols...)
	if err != nil {
		return "", eris.Wrap(err, "inputs: clean village centers")
	}
	if err := t.Rename(raw.XYCols, prepared.XYCols); err != nil {
		return "", eris.Wrap(err, "inputs: rename village center coordinates")
	}
	if len(raw.AdmCols) > 0 {
		tail := prepared.AdmCols[len(prepared.AdmCols)-len(raw.AdmCols):]
		if err := t.Rename(raw.AdmCols, tail); err != nil {
			return "", eris.Wrap(err, "inputs: rename village name columns")
		}
	}

	shapes, err := spatial.ReadShapes(cfg.Inputs.Shapes.File, cfg.Inputs.Shapes.AdmCols)
	if err != nil {
		return "", eris.Wrap(err, "inputs: read shapes")
	}
	joined, err := join.PointsToShapes(tok, t, shapes, prepared.XYCols)
	if err != nil {
		return "", err
	}

	cols := append(append([]string{}, prepared.AdmCols...), prepared.XYCols...)
	out, err := joined.Select(cols...)
	if err != nil {
		return "", eris.Wrap(err, "inputs: select village center columns")
	}
	if err := out.Sort(cols...); err != nil {
		return "", eris.Wrap(err, "inputs: sort village centers")
	}
	if err := out.WriteCSV(prepared.File); err != nil {
		return "", eris.Wrap(err, "inputs: write village centers")
	}
	if err := writePointsGeoJSON(out, prepared.XYCols, geoJSONPath(prepared.File)); err != nil {
		return "", err
	}
	zap.L().Info("inputs: prepared village centers",
		zap.Int("centers", out.Len()),
		zap.String("path", prepared.File))
	return prepared.File, nil
}

// PrepareBaseline normalizes the optional user-supplied baseline
// facilities: attaches the administrative path, assigns ids and plus
// codes. Returns "" when no baseline is configured.
func PrepareBaseline(cfg *config.Config, tok *stop.Token) (string, error) {
	raw := cfg.Args.Baseline
	prepared := cfg.Inputs.Baseline
	if raw.File == "" {
		return "", nil
	}

	t, err := table.ReadCSV(raw.File)
	if err != nil {
		return "", eris.Wrap(err, "inputs: read baseline")
	}
	t, err = t.DropNull(raw.XYCols...)
	if err != nil {
		return "", eris.Wrap(err, "inputs: clean baseline")
	}
	if err := t.Rename(raw.XYCols, prepared.XYCols); err != nil {
		return "", eris.Wrap(err, "inputs: rename baseline coordinates")
	}

	shapes, err := spatial.ReadShapes(cfg.Inputs.Shapes.File, cfg.Inputs.Shapes.AdmCols)
	if err != nil {
		return "", eris.Wrap(err, "inputs: read shapes")
	}
	joined, err := join.PointsToShapes(tok, t, shapes, prepared.XYCols)
	if err != nil {
		return "", err
	}

	ids := make([]string, joined.Len())
	codes := make([]string, joined.Len())
	for i := 0; i < joined.Len(); i++ {
		lon, err := joined.Float(i, prepared.XYCols[0])
		if err != nil {
			return "", eris.Wrap(err, "inputs: baseline coordinates")
		}
		lat, err := joined.Float(i, prepared.XYCols[1])
		if err != nil {
			return "", eris.Wrap(err, "inputs: baseline coordinates")
		}
		adm := make([]string, len(prepared.AdmCols))
		for j, c := range prepared.AdmCols {
			if adm[j], err = joined.Value(i, c); err != nil {
				return "", eris.Wrap(err, "inputs: baseline admin path")
			}
		}
		ids[i] = fmt.Sprintf("%s_%d", strings.Join(adm, ":"), i)
		codes[i] = spatial.PlusCode(lon, lat)
	}
	if err := joined.AddCol("id", ids); err != nil {
		return "", eris.Wrap(err, "inputs: baseline ids")
	}
	if err := joined.AddCol("plus_code", codes); err != nil {
		return "", eris.Wrap(err, "inputs: baseline plus codes")
	}

	cols := append(append([]string{}, prepared.AdmCols...), prepared.XYCols...)
	for _, c := range prepared.InfoCols {
		if joined.HasCols(c) {
			cols = append(cols, c)
		}
	}
	cols = append(cols, "id", "plus_code")
	out, err := joined.Select(cols...)
	if err != nil {
		return "", eris.Wrap(err, "inputs: select baseline columns")
	}
	if err := out.WriteCSV(prepared.File); err != nil {
		return "", eris.Wrap(err, "inputs: write baseline")
	}
	zap.L().Info("inputs: prepared baseline facilities",
		zap.Int("facilities", out.Len()),
		zap.String("path", prepared.File))
	return prepared.File, nil
}

// DeriveLocations extracts the distinct administrative paths from the
// prepared village centers and persists them as the flat locations
// list. Locations are immutable after preparation.
func DeriveLocations(cfg *config.Config) ([]string, error) {
	centers, err := table.ReadCSV(cfg.Inputs.VillageCenters.File)
	if err != nil {
		return nil, eris.Wrap(err, "inputs: read village centers")
	}
	admCols := cfg.Inputs.Shapes.AdmCols

	groups, err := centers.GroupBy(admCols...)
	if err != nil {
		return nil, eris.Wrap(err, "inputs: group locations")
	}
	locations := make([]string, 0, len(groups))
	out := table.New("location")
	for _, g := range groups {
		loc := strings.Join(g.Key, ":")
		locations = append(locations, loc)
		if err := out.Append(loc); err != nil {
			return nil, eris.Wrap(err, "inputs: locations list")
		}
	}
	if err := out.WriteCSV(cfg.Inputs.LocationsFile); err != nil {
		return nil, eris.Wrap(err, "inputs: write locations list")
	}
	zap.L().Info("inputs: derived locations",
		zap.Int("locations", len(locations)),
		zap.String("path", cfg.Inputs.LocationsFile))
	return locations, nil
}

// LoadLocations reads the persisted flat locations list.
func LoadLocations(cfg *config.Config) ([]string, error) {
	t, err := table.ReadCSV(cfg.Inputs.LocationsFile)
	if err != nil {
		return nil, eris.Wrap(err, "inputs: read locations list")
	}
	locations := make([]string, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		loc, err := t.Value(i, "location")
		if err != nil {
			return nil, eris.Wrap(err, "inputs: locations list")
		}
		locations = append(locations, loc)
	}
	return locations, nil
}

// HouseholdShapeStats counts households per administrative polygon,
// always writes the stats CSV, and warns when the share of polygons
// below the household threshold exceeds the configured percentage.
// Threshold violations never fail the run.
func HouseholdShapeStats(cfg *config.Config, tok *stop.Token) (*table.Table, error) {
	households, err := table.ReadCSV(cfg.Inputs.Households.File)
	if err != nil {
		return nil, eris.Wrap(err, "inputs: read households")
	}
	shapes, err := spatial.ReadShapes(cfg.Inputs.Shapes.File, cfg.Inputs.Shapes.AdmCols)
	if err != nil {
		return nil, eris.Wrap(err, "inputs: read shapes")
	}

	stats, err := join.CountPerShape(tok, households, shapes, cfg.Inputs.Households.XYCols, "num_households")
	if err != nil {
		return nil, err
	}

	below := 0
	for i := 0; i < stats.Len(); i++ {
		n, err := stats.Float(i, "num_households")
		if err != nil {
			return nil, eris.Wrap(err, "inputs: stats")
		}
		if int(n) < cfg.Args.ThresholdHouseholds {
			below++
		}
	}
	perc := 0.0
	if stats.Len() > 0 {
		perc = float64(below) / float64(stats.Len()) * 100
	}

	path := filepath.Join(cfg.Inputs.Dir, "household_stats.csv")
	if err := stats.WriteCSV(path); err != nil {
		return nil, eris.Wrap(err, "inputs: write household stats")
	}

	fields := []zap.Field{
		zap.Int("shapes", stats.Len()),
		zap.Int("below_threshold", below),
		zap.Float64("percent", perc),
		zap.Int("max_percent", cfg.Args.ThresholdVillagePerc),
		zap.String("path", path),
	}
	if perc > float64(cfg.Args.ThresholdVillagePerc) {
		zap.L().Warn("inputs: too many polygons below the household threshold", fields...)
	} else {
		zap.L().Info("inputs: household stats", fields...)
	}
	return stats, nil
}

func geoJSONPath(csvPath string) string {
	return strings.TrimSuffix(csvPath, filepath.Ext(csvPath)) + ".geojson"
}

func writePointsGeoJSON(t *table.Table, xyCols []string, path string) error {
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	for i := 0; i < t.Len(); i++ {
		lon, err := t.Float(i, xyCols[0])
		if err != nil {
			return eris.Wrap(err, "inputs: point coordinates")
		}
		lat, err := t.Float(i, xyCols[1])
		if err != nil {
			return eris.Wrap(err, "inputs: point coordinates")
		}
		props := make(map[string]any, len(t.Cols))
		for _, c := range t.Cols {
			if c == xyCols[0] || c == xyCols[1] {
				continue
			}
			v, err := t.Value(i, c)
			if err != nil {
				return eris.Wrap(err, "inputs: point properties")
			}
			props[c] = v
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry:   geom.NewPointFlat(geom.XY, []float64{lon, lat}),
			Properties: props,
		})
	}
	data, err := json.Marshal(fc)
	if err != nil {
		return eris.Wrap(err, "inputs: marshal points")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrap(err, "inputs: write points geojson")
	}
	return nil
}
