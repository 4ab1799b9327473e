package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/synapselabs/synapse/internal/models"
)

func analyzeCmd() *cobra.Command {
	var (
		depth      string
		focusAreas []string
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "analyze [ref]",
		Short: "Analyze a memory snapshot and print discovered connections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			p, err := buildPipeline(logger)
			if err != nil {
				return fmt.Errorf("analyze: %w", err)
			}

			opts := models.AnalysisOptions{
				Depth:      depth,
				FocusAreas: focusAreas,
			}

			result, err := p.analyzer.Analyze(cmd.Context(), args[0], opts)
			if err != nil {
				return fmt.Errorf("analyze: %w", err)
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			printResult(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&depth, "depth", "standard", "analysis depth: standard or deep")
	cmd.Flags().StringSliceVar(&focusAreas, "focus", nil, "focus areas (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the raw JSON result")
	return cmd
}

func printResult(result *models.AnalysisResult) {
	if result.Summary != "" {
		fmt.Printf("%s\n\n", result.Summary)
	}

	if len(result.Connections) == 0 {
		fmt.Println("No connections found.")
	} else {
		fmt.Printf("Connections (%d):\n", len(result.Connections))
		for _, c := range result.Connections {
			fmt.Printf("  %s  [surprise %.2f, relevance %.2f]\n", c.Title, c.SurpriseFactor, c.Relevance)
			fmt.Printf("    %s\n", truncate(c.Description, 120))
			if c.ActionableInsight != "" {
				fmt.Printf("    -> %s\n", truncate(c.ActionableInsight, 120))
			}
			if len(c.ConnectedInsightIDs) > 0 {
				fmt.Printf("    insights: %s\n", strings.Join(c.ConnectedInsightIDs, ", "))
			}
		}
	}

	if len(result.MetaPatterns) > 0 {
		fmt.Printf("\nMeta-patterns (%d):\n", len(result.MetaPatterns))
		for _, p := range result.MetaPatterns {
			fmt.Printf("  %s  [confidence %.2f, evidence %d]\n", p.Name, p.Confidence, p.EvidenceCount)
			fmt.Printf("    %s\n", truncate(p.Description, 120))
		}
	}

	if len(result.Recommendations) > 0 {
		fmt.Println("\nRecommendations:")
		for _, r := range result.Recommendations {
			fmt.Printf("  - %s\n", r)
		}
	}

	m := result.Metadata
	fmt.Printf("\n%d insights analyzed in %dms (model %s, chunks %d, cache hit %t)\n",
		m.InsightsAnalyzed, m.DurationMS, m.Model, m.ChunkCount, m.CacheHit)
}
