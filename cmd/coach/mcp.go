// ABOUTME: CLI command for starting MCP server.
// ABOUTME: Runs stdio-based MCP server for AI assistant integration.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/harperreed/coach/internal/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server",
	Long: `Start the Model Context Protocol (MCP) server for AI assistant integration.

The server communicates via stdin/stdout. Logs go to stderr.

CONFIGURATION:

  {
    "mcpServers": {
      "coach": {
        "command": "coach",
        "args": ["mcp"]
      }
    }
  }

AVAILABLE TOOLS:

  log_activity            Record a training session
  set_rpe                 Set perceived exertion on an activity
  log_observation         Record how a session felt (triggers autopsy)
  set_athlete             Create or update an athlete profile
  request_recommendation  Get or create a recommendation
  get_latest              Most recent recommendation
  get_risk_assessment     ACWR, divergence, and risk flags
  prune                   Delete old recommendations

AVAILABLE RESOURCES:

  coach://athletes         Athlete profiles
  coach://recommendations  Recent recommendations per athlete
  coach://generation-log   Recent generation attempts per athlete`,
	RunE: func(cmd *cobra.Command, args []string) error {
		server, err := mcp.NewServer(db, coach, pipeline)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		// Handle shutdown signals
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigChan
			cancel()
		}()

		return server.Serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
