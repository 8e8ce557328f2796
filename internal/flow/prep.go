package flow

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-health/facility-cli/internal/cache"
	"github.com/meridian-health/facility-cli/internal/config"
	"github.com/meridian-health/facility-cli/internal/inputs"
	"github.com/meridian-health/facility-cli/internal/runstate"
	"github.com/meridian-health/facility-cli/internal/spatial"
	"github.com/meridian-health/facility-cli/internal/stop"
	"github.com/meridian-health/facility-cli/internal/table"
)

// DataPrep prepares all pipeline inputs from the user-supplied files.
type DataPrep struct {
	cfg   *config.Config
	cache *cache.Cache
	store *runstate.Store

	// Progress, when set, receives the running household-derivation
	// row count.
	Progress func(rows int)
}

// NewDataPrep builds a data preparation workflow.
func NewDataPrep(cfg *config.Config, c *cache.Cache, store *runstate.Store) *DataPrep {
	return &DataPrep{cfg: cfg, cache: c, store: store}
}

// PrepareInputs runs the full preparation sequence: resolve the
// country, derive households, validate household-per-polygon stats,
// normalize village centers and the optional baseline, and persist the
// flat locations list. Returns the derived locations.
func (p *DataPrep) PrepareInputs(ctx context.Context, tok *stop.Token, country string) ([]string, error) {
	country, err := p.resolveCountry(tok, country)
	if err != nil {
		return nil, err
	}
	p.cfg.Args.Country = country

	deriver := inputs.NewDeriver(p.cfg, p.cache, p.store)
	deriver.Progress = p.Progress
	if _, err := deriver.DeriveHouseholds(ctx, tok); err != nil {
		return nil, err
	}
	if _, err := inputs.HouseholdShapeStats(p.cfg, tok); err != nil {
		return nil, err
	}
	if err := tok.Check(); err != nil {
		return nil, err
	}

	if _, err := inputs.PrepareVillageCenters(p.cfg, tok); err != nil {
		return nil, err
	}
	if _, err := inputs.PrepareBaseline(p.cfg, tok); err != nil {
		return nil, err
	}

	locations, err := inputs.DeriveLocations(p.cfg)
	if err != nil {
		return nil, err
	}
	zap.L().Info("flow: inputs prepared",
		zap.String("country", country),
		zap.Int("locations", len(locations)))
	return locations, nil
}

// resolveCountry keeps an explicit country, or detects one from the
// raw village centers when country polygons are configured.
func (p *DataPrep) resolveCountry(tok *stop.Token, country string) (string, error) {
	if country != "" {
		return country, nil
	}
	cs := p.cfg.Inputs.CountryShapes
	if cs.File == "" {
		return "", eris.New("flow: no country given and no country shapes configured")
	}

	countries, err := spatial.ReadShapes(cs.File, cs.AdmCols)
	if err != nil {
		return "", eris.Wrap(err, "flow: read country shapes")
	}
	raw := p.cfg.Args.VillageCenters
	centers, err := table.ReadCSV(raw.File)
	if err != nil {
		return "", eris.Wrap(err, "flow: read village centers")
	}
	centers, err = centers.DropNull(raw.XYCols...)
	if err != nil {
		return "", eris.Wrap(err, "flow: clean village centers")
	}
	return inputs.DetectCountry(tok, centers, raw.XYCols, countries)
}
