package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	synapsemcp "github.com/synapselabs/synapse/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP (Model Context Protocol) server over stdio",
		Long: `Starts an MCP JSON-RPC 2.0 server that reads from stdin and writes to stdout.
All diagnostic logs go to stderr so that stdout remains exclusively MCP protocol traffic.

Tools exposed:
  analyze_memory   — analyze a snapshot synchronously
  submit_analysis  — queue an analysis for background processing
  analysis_status  — poll a queued analysis by ID
  cancel_analysis  — cancel a queued analysis
  usage_stats      — usage analytics

If the LLM backend is unavailable, individual tool calls return MCP
error responses rather than crashing the server.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()

			p, err := buildPipeline(logger)
			if err != nil {
				return fmt.Errorf("mcp: %w", err)
			}

			p.queue.Start(cmd.Context())
			defer p.queue.Shutdown()

			srv := synapsemcp.NewServer(p.analyzer, p.queue, p.history, logger)

			// Use a standard log.Logger pointing at stderr for the mcp-go error logger.
			errLogger := log.New(os.Stderr, "mcp: ", log.LstdFlags)

			logger.Info("mcp: synapse MCP server starting", "transport", "stdio")

			return mcpserver.ServeStdio(
				srv.MCPServer(),
				mcpserver.WithErrorLogger(errLogger),
			)
		},
	}

	return cmd
}
