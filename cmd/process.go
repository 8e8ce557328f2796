package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-health/facility-cli/internal/flow"
	"github.com/meridian-health/facility-cli/internal/inputs"
	"github.com/meridian-health/facility-cli/internal/stop"
)

var (
	processLocations string
	processWorkers   int
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run the placement pipeline over prepared locations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer cancel()
		tok := stop.New(ctx)

		if err := cfg.Validate(); err != nil {
			return err
		}
		if processWorkers > 0 {
			cfg.Args.Workers = processWorkers
		}

		locations, err := resolveLocations()
		if err != nil {
			return err
		}
		if len(locations) == 0 {
			return eris.New("no locations to process; run prepare first")
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

		w := flow.New(cfg, ca, st)
		summary, err := w.ProcessLocations(ctx, tok, locations)
		if err != nil {
			if eris.Is(err, stop.ErrStopped) {
				zap.L().Info("run stopped")
				return nil
			}
			return eris.Wrap(err, "process locations")
		}

		if summary.Merged == nil {
			zap.L().Warn("no results found")
			return nil
		}

		out := struct {
			Merged []string `json:"merged"`
			Failed []string `json:"failed"`
		}{
			Merged: summary.Merged.Paths(),
			Failed: summary.Failed,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func resolveLocations() ([]string, error) {
	if processLocations != "" {
		parts := strings.Split(processLocations, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	}
	return inputs.LoadLocations(cfg)
}

func init() {
	processCmd.Flags().StringVar(&processLocations, "locations", "", "comma-separated locations (default: all prepared locations)")
	processCmd.Flags().IntVar(&processWorkers, "workers", 0, "worker pool size (overrides config)")
	rootCmd.AddCommand(processCmd)
}
