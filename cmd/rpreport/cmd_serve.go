package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"rpreport/internal/logging"
	mcpserver "rpreport/internal/mcp"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

var serveFlags struct {
	watchInterval time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server over stdio",
	Long: `Starts an MCP server over stdin/stdout exposing the reporting session as
tools. The session is restored from and saved to the state store, so an
agent can pick up a launch across restarts.

The server exits when its parent process goes away.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&serveFlags.watchInterval, "watch-interval", 2*time.Second, "How often to check the parent process")
}

func runServe(cmd *cobra.Command, _ []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.store.Close()

	logger := logging.New("mcp")
	srv, err := mcpserver.NewServer(mcpserver.Config{
		NewSession:  e.newSession,
		Store:       e.store,
		SessionName: rootFlags.session,
		Version:     version,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	defer func() {
		if err := srv.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	mcpserver.WatchParent(ctx, cancel, serveFlags.watchInterval, logger)

	logger.Info("starting rpreport MCP server over stdio", "session", rootFlags.session, "launch", srv.Session().LaunchUUID())
	return srv.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}
