package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/synapselabs/synapse/internal/llm"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check connectivity to required services",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()
			allOK := true

			// Check the memory directory.
			if info, err := os.Stat(cfg.Analysis.MemoryDir); err != nil || !info.IsDir() {
				fmt.Printf("Memory dir: FAIL (%s not accessible)\n", cfg.Analysis.MemoryDir)
				allOK = false
			} else {
				fmt.Println("Memory dir: OK")
			}

			// Check the configured LLM backend with a trivial generation.
			gen := newGenerator(logger)
			_, err := gen.Generate(ctx, `Reply with the JSON object {"ok": true} and nothing else.`,
				llm.GenerateOptions{Timeout: cfg.Analysis.ShortTimeout, JSONOnly: true})
			if err != nil {
				fmt.Printf("LLM backend (%s): FAIL (%v)\n", cfg.Analysis.Backend, err)
				allOK = false
			} else {
				fmt.Printf("LLM backend (%s): OK (model %s)\n", cfg.Analysis.Backend, gen.Model())
			}

			// Check the Claude API key when that backend is selected.
			if cfg.Analysis.Backend == "claude" && cfg.Claude.APIKey == "" {
				fmt.Println("Claude API: FAIL (no API key configured)")
				allOK = false
			}

			if !allOK {
				return fmt.Errorf("one or more health checks failed")
			}
			return nil
		},
	}
}
