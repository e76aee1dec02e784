package cmd

import (
	"context"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/bullseye/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for assistant integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an assistant list, score and review sessions. Configure it with:

  {
    "mcpServers": {
      "bullseye": { "command": "bullseye", "args": ["mcp"] }
    }
  }

Available tools: bullseye_list_sessions, bullseye_session_summary,
bullseye_create_session, bullseye_record_shot, bullseye_undo,
bullseye_score_point, bullseye_stats`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun() error {
	m, err := getManager()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	// stdout carries the protocol; logs stay on stderr.
	srv := mcp.NewServer(m, buildVersion, newLogger())
	return srv.ServeStdio(ctx)
}
