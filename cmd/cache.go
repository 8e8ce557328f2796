package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the computation cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all cached computations",
	Long:  "Cache entries are never invalidated automatically; clearing is the one explicit way to force recomputation.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ca, err := openCache()
		if err != nil {
			return err
		}
		if err := ca.Clear(); err != nil {
			return err
		}
		zap.L().Info("cache cleared", zap.String("dir", cfg.Cache.Dir))
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
