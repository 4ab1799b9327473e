package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func housekeepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "housekeep",
		Short: "Run one housekeeping pass (cache sweep, history prune)",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			p, err := buildPipeline(logger)
			if err != nil {
				return fmt.Errorf("housekeep: %w", err)
			}

			report := p.lifecycle.Run(cmd.Context())

			fmt.Printf("Housekeeping report:\n")
			fmt.Printf("  Cache entries swept:  %d\n", report.CacheEntriesSwept)
			fmt.Printf("  History pruned:       %d\n", report.HistoryPruned)
			fmt.Printf("  Requests pruned:      %d\n", report.RequestsPruned)

			return nil
		},
	}
}
