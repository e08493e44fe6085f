package main

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

func (a *app) mcpServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "docextract", Version: version}, nil)
	a.router.RegisterMCP(srv)
	return srv
}

func (a *app) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the extraction tools over MCP on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.logger.Info("mcp server starting", "transport", "stdio")
			return a.mcpServer().Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}
