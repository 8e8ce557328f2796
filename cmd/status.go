package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/meridian-health/facility-cli/internal/runstate"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show run history and per-location processing state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.Runs(ctx)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no runs recorded")
		}
		for _, r := range runs {
			started := "unknown"
			if !r.StartedAt.IsZero() {
				started = humanize.Time(r.StartedAt.Local())
			}
			fmt.Printf("%s  %-11s  %-8s  started %s\n", r.ID, r.Status, r.Country, started)
		}

		steps, err := st.Steps(ctx)
		if err != nil {
			return err
		}
		if len(steps) > 0 {
			fmt.Println("\npreparation steps:")
			for _, s := range steps {
				fmt.Printf("  %-20s %s\n", s.Name, s.State)
			}
		}

		for _, state := range []runstate.State{
			runstate.InProgress, runstate.Done, runstate.Failed, runstate.Stopped,
		} {
			locations, err := st.Locations(ctx, state)
			if err != nil {
				return err
			}
			if len(locations) == 0 {
				continue
			}
			fmt.Printf("\n%s (%d):\n", state, len(locations))
			for _, loc := range locations {
				fmt.Printf("  %s\n", loc)
			}
		}
		return nil
	},
}

var statusResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear per-location state (run history is kept)",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		return st.Reset(cmd.Context())
	},
}

func init() {
	statusCmd.AddCommand(statusResetCmd)
	rootCmd.AddCommand(statusCmd)
}
