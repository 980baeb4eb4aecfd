package cmd

import (
	"github.com/spf13/cobra"

	"github.com/samsaffron/skillshub/internal/mcp"
	"github.com/samsaffron/skillshub/internal/signal"
	"github.com/samsaffron/skillshub/internal/tools"
)

var (
	mcpAllow     []string
	mcpWorkspace string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the file tools over MCP stdio",
	Long: `Run an MCP (Model Context Protocol) server on stdin/stdout that
publishes the workspace file tools. Tool calls use the same executor as
the chat loop, including workspace resolution and deny globs.

Examples:
  skillshub mcp -w ~/skills --allow all
  skillshub mcp --allow createFile,editFile`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	AddAllowFlag(mcpCmd, &mcpAllow)
	AddWorkspaceFlag(mcpCmd, &mcpWorkspace)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	perms, err := tools.ParsePermissions(mcpAllow)
	if err != nil {
		return err
	}

	runtime := newHubRuntime(cfg)
	executor, err := runtime.newExecutor(runOptions{Permissions: perms, Workspace: mcpWorkspace})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()
	server := mcp.NewServer(runtime.registry, executor, mcp.ServerOptions{Version: Version, Permissions: perms})
	return mcp.Serve(ctx, server)
}
