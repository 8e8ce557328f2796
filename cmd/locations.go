package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meridian-health/facility-cli/internal/inputs"
)

var locationsCmd = &cobra.Command{
	Use:   "locations",
	Short: "List the prepared locations",
	RunE: func(cmd *cobra.Command, args []string) error {
		locations, err := inputs.LoadLocations(cfg)
		if err != nil {
			return err
		}
		for _, loc := range locations {
			fmt.Println(loc)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(locationsCmd)
}
