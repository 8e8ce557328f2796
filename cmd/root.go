package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-health/facility-cli/internal/cache"
	"github.com/meridian-health/facility-cli/internal/config"
	"github.com/meridian-health/facility-cli/internal/runstate"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "facility-cli",
	Short: "Health facility placement pipeline",
	Long:  "Derives households from building points, clusters them around village centers, outlines cluster boundaries, and recommends facility placements per location.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore() (*runstate.Store, error) {
	st, err := runstate.Open(cfg.State.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open state store")
	}
	return st, nil
}

func openCache() (*cache.Cache, error) {
	if cfg.Cache.Backend == "memory" {
		return cache.New(cache.NewMemory()), nil
	}
	backend, err := cache.NewDisk(cfg.Cache.Dir)
	if err != nil {
		return nil, eris.Wrap(err, "open cache")
	}
	return cache.New(backend), nil
}
