// Package inputs prepares the pipeline's input files: derived
// households, normalized village centers, baseline facilities, and the
// flat locations list.
package inputs

import (
	"context"
	"encoding/csv"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-health/facility-cli/internal/cache"
	"github.com/meridian-health/facility-cli/internal/config"
	"github.com/meridian-health/facility-cli/internal/join"
	"github.com/meridian-health/facility-cli/internal/runstate"
	"github.com/meridian-health/facility-cli/internal/spatial"
	"github.com/meridian-health/facility-cli/internal/stop"
	"github.com/meridian-health/facility-cli/internal/table"
)

// stepDeriveHouseholds names the derivation step in the runstate store.
const stepDeriveHouseholds = "derive_households"

// Deriver turns a large raw building point file into the bounded
// households table by spatially joining it against the administrative
// polygons, one chunk at a time.
type Deriver struct {
	cfg   *config.Config
	cache *cache.Cache
	store *runstate.Store

	// Progress, when set, receives the running row count after each
	// chunk.
	Progress func(rows int)
}

// NewDeriver builds a household deriver.
func NewDeriver(cfg *config.Config, c *cache.Cache, store *runstate.Store) *Deriver {
	return &Deriver{cfg: cfg, cache: c, store: store}
}

// DeriveHouseholds produces the households file and returns its path.
// Re-running with the step recorded done and a non-empty output file on
// disk is a no-op. The chunked join is checked for cancellation before
// every chunk, and each chunk's join is memoized on its exact content.
func (d *Deriver) DeriveHouseholds(ctx context.Context, tok *stop.Token) (string, error) {
	out := d.cfg.Inputs.Households.File

	state, err := d.store.Step(ctx, stepDeriveHouseholds)
	if err != nil {
		return "", eris.Wrap(err, "inputs: derivation state")
	}
	if state == runstate.Done && fileHasContent(out) {
		zap.L().Info("inputs: households already derived, skipping",
			zap.String("path", out))
		return out, nil
	}
	if err := d.store.SetStep(ctx, stepDeriveHouseholds, runstate.InProgress); err != nil {
		return "", eris.Wrap(err, "inputs: derivation state")
	}

	derived, total, err := d.derive(tok)
	if err != nil {
		final := runstate.Failed
		if eris.Is(err, stop.ErrStopped) {
			final = runstate.Stopped
		}
		if serr := d.store.SetStep(ctx, stepDeriveHouseholds, final); serr != nil {
			zap.L().Error("inputs: record derivation state", zap.Error(serr))
		}
		return "", err
	}

	if derived.Len() > total {
		return "", eris.Errorf("inputs: derived %d households from %d building points", derived.Len(), total)
	}

	if err := derived.WriteCSV(out); err != nil {
		return "", eris.Wrap(err, "inputs: write households")
	}
	if err := d.store.SetStep(ctx, stepDeriveHouseholds, runstate.Done); err != nil {
		return "", eris.Wrap(err, "inputs: derivation state")
	}
	zap.L().Info("inputs: derived households",
		zap.String("buildings", humanize.Comma(int64(total))),
		zap.String("households", humanize.Comma(int64(derived.Len()))),
		zap.String("path", out))
	return out, nil
}

func (d *Deriver) derive(tok *stop.Token) (*table.Table, int, error) {
	buildings := d.cfg.Inputs.Buildings
	households := d.cfg.Inputs.Households

	shapes, err := spatial.ReadShapes(d.cfg.Inputs.Shapes.File, d.cfg.Inputs.Shapes.AdmCols)
	if err != nil {
		return nil, 0, eris.Wrap(err, "inputs: read shapes")
	}

	f, err := os.Open(buildings.File)
	if err != nil {
		return nil, 0, eris.Wrap(err, "inputs: open buildings")
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, 0, eris.Wrap(err, "inputs: buildings header")
	}

	chunkSize := d.cfg.Args.ChunkSize
	var derived *table.Table
	total := 0
	for {
		if err := tok.Check(); err != nil {
			return nil, 0, err
		}
		chunk, err := readChunk(r, header, chunkSize)
		if err != nil {
			return nil, 0, eris.Wrap(err, "inputs: read buildings chunk")
		}
		if chunk == nil {
			break
		}
		total += chunk.Len()

		joined, err := join.CachedPointsToShapes(tok, d.cache, chunk, shapes, buildings.XYCols)
		if err != nil {
			return nil, 0, err
		}
		part, err := joined.Select(append(append([]string{}, shapes.AdmCols...), buildings.XYCols...)...)
		if err != nil {
			return nil, 0, eris.Wrap(err, "inputs: select household columns")
		}
		if err := part.Rename(buildings.XYCols, households.XYCols); err != nil {
			return nil, 0, eris.Wrap(err, "inputs: rename coordinate columns")
		}
		if err := part.Rename(shapes.AdmCols, households.AdmCols); err != nil {
			return nil, 0, eris.Wrap(err, "inputs: rename admin columns")
		}

		if derived == nil {
			derived = part
		} else if err := derived.Concat(part); err != nil {
			return nil, 0, eris.Wrap(err, "inputs: concat chunk")
		}
		if d.Progress != nil {
			d.Progress(total)
		}
	}
	if derived == nil {
		derived = table.New(append(append([]string{}, households.AdmCols...), households.XYCols...)...)
	}

	cols := append(append([]string{}, households.AdmCols...), households.XYCols...)
	derived, err = derived.DropNull(cols...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "inputs: drop null households")
	}
	if err := derived.Sort(cols...); err != nil {
		return nil, 0, eris.Wrap(err, "inputs: sort households")
	}
	return derived, total, nil
}

// readChunk reads up to n records, returning nil at EOF with nothing
// read.
func readChunk(r *csv.Reader, header []string, n int) (*table.Table, error) {
	t := table.New(header...)
	for i := 0; i < n; i++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := t.Append(rec...); err != nil {
			return nil, err
		}
	}
	if t.Len() == 0 {
		return nil, nil
	}
	return t, nil
}

func fileHasContent(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
