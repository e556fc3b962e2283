package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxlearn/internal/mcp"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the hook verbs as MCP tools over stdio",
		Long: `Run an MCP server on stdin/stdout exposing pre_task, post_task,
pre_command, session_start and session_end as tools.

Register it with an MCP client, for example:
  {"mcpServers": {"ctxlearn": {"command": "ctxlearn", "args": ["mcp"]}}}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			srv, err := mcp.NewServer(&mcp.Config{
				Name:    "ctxlearn",
				Version: version,
				Logger:  a.logger.Underlying().Named("mcp"),
				Meter:   a.tel.Meter("github.com/fyrsmithlabs/ctxlearn/internal/mcp"),
			}, eng.dispatcher)
			if err != nil {
				return err
			}

			a.logger.Info(ctx, "mcp server starting", zap.String("store", eng.store.Path()))
			return srv.Run(ctx)
		},
	}
}
