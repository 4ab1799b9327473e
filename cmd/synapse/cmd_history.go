package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded analyses, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			p, err := buildPipeline(logger)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}

			entries, err := p.history.Entries(limit)
			if err != nil {
				return fmt.Errorf("history: reading entries: %w", err)
			}

			if len(entries) == 0 {
				fmt.Println("No recorded analyses.")
				return nil
			}

			for _, e := range entries {
				perf := e.Performance
				fmt.Printf("%s  %s  (%s)\n", e.Timestamp.Format("2006-01-02 15:04"), e.Ref, e.ID)
				fmt.Printf("  %d insights, %d connections, %d patterns, %dms, model %s\n",
					perf.InsightsAnalyzed, perf.Connections, perf.MetaPatterns, perf.DurationMS, perf.Model)
				if e.Summary != "" {
					fmt.Printf("  %s\n", truncate(e.Summary, 120))
				}
				if e.ResultsPreview != "" {
					fmt.Printf("  findings: %s\n", truncate(e.ResultsPreview, 120))
				}
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to show")
	return cmd
}
