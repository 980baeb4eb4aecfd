// Package mcp exposes the workspace file tools as an MCP server.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/samsaffron/skillshub/internal/llm"
	"github.com/samsaffron/skillshub/internal/tools"
)

// ServerOptions selects which tools are published.
type ServerOptions struct {
	Name        string
	Version     string
	Permissions tools.Permissions
}

// NewServer registers every tool the permissions allow. Calls go through
// executor, so MCP clients get the same results the chat loop does.
func NewServer(registry *tools.Registry, executor llm.ToolExecutor, opts ServerOptions) *mcp.Server {
	if opts.Name == "" {
		opts.Name = "skillshub"
	}
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}
	server := mcp.NewServer(&mcp.Implementation{Name: opts.Name, Version: opts.Version}, nil)
	for _, spec := range registry.ListTools(opts.Permissions) {
		server.AddTool(&mcp.Tool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.Schema,
		}, toolHandler(spec.Name, executor))
	}
	return server
}

// Serve runs the server over stdin/stdout until ctx is done or the client
// disconnects.
func Serve(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

func toolHandler(name string, executor llm.ToolExecutor) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args json.RawMessage
		if req.Params != nil {
			args = req.Params.Arguments
		}
		call := llm.ToolCall{ID: "mcp-" + uuid.NewString(), Name: name, Arguments: args}
		result := executor.Execute(ctx, call)

		zerolog.Ctx(ctx).Debug().
			Str("tool", name).
			Bool("success", result.Success).
			Msg("mcp tool call")

		return &mcp.CallToolResult{
			Content:           []mcp.Content{&mcp.TextContent{Text: result.PayloadJSON()}},
			StructuredContent: result.Payload(),
			IsError:           !result.Success,
		}, nil
	}
}
