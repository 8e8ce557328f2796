package main

import (
	"bufio"
	"os"
	"os/signal"

	"github.com/cheggaaa/pb/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-health/facility-cli/internal/flow"
	"github.com/meridian-health/facility-cli/internal/stop"
)

var (
	prepareCountry  string
	prepareCenters  string
	prepareBaseline string
)

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Prepare pipeline inputs from raw data files",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer cancel()
		tok := stop.New(ctx)

		if prepareCenters != "" {
			cfg.Args.VillageCenters.File = prepareCenters
		}
		if prepareBaseline != "" {
			cfg.Args.Baseline.File = prepareBaseline
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		ca, err := openCache()
		if err != nil {
			return err
		}

		p := flow.NewDataPrep(cfg, ca, st)
		if total, err := countRecords(cfg.Inputs.Buildings.File); err == nil && total > 0 {
			bar := pb.Start64(int64(total))
			bar.Set("prefix", "deriving households")
			defer bar.Finish()
			p.Progress = func(rows int) { bar.SetCurrent(int64(rows)) }
		}

		locations, err := p.PrepareInputs(ctx, tok, prepareCountry)
		if err != nil {
			if eris.Is(err, stop.ErrStopped) {
				zap.L().Info("prepare stopped")
				return nil
			}
			return eris.Wrap(err, "prepare inputs")
		}

		zap.L().Info("inputs ready", zap.Int("locations", len(locations)))
		return nil
	},
}

// countRecords counts data rows so the derivation progress bar has a
// total. A missing file is not an error here; derivation reports it.
func countRecords(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		n++
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if n > 0 {
		n-- // header
	}
	return n, nil
}

func init() {
	prepareCmd.Flags().StringVar(&prepareCountry, "country", "", "country name (detected from country shapes when omitted)")
	prepareCmd.Flags().StringVar(&prepareCenters, "centers", "", "raw village centers CSV (overrides config)")
	prepareCmd.Flags().StringVar(&prepareBaseline, "baseline", "", "baseline facilities CSV (overrides config)")
	rootCmd.AddCommand(prepareCmd)
}
