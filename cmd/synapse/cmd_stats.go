package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show usage analytics from recorded analyses",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			p, err := buildPipeline(logger)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			usage, err := p.history.Usage()
			if err != nil {
				return fmt.Errorf("stats: reading analytics: %w", err)
			}

			fmt.Printf("Total analyses:    %d\n", usage.TotalAnalyses)
			fmt.Printf("Total connections: %d\n", usage.TotalConnections)
			fmt.Printf("Total patterns:    %d\n", usage.TotalPatterns)

			if len(usage.DailyUsage) > 0 {
				days := make([]string, 0, len(usage.DailyUsage))
				for d := range usage.DailyUsage {
					days = append(days, d)
				}
				sort.Strings(days)

				fmt.Println("\nDaily usage:")
				for _, d := range days {
					fmt.Printf("  %s  %d\n", d, usage.DailyUsage[d])
				}
			}

			return nil
		},
	}
}
