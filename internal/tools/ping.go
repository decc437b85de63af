package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// PingInput defines the input schema for the ping tool.
type PingInput struct {
	Echo string `json:"echo,omitempty" jsonschema:"Text to echo back instead of checking the backend"`
}

// NewPingHandler creates a ping tool handler with injected dependencies.
// With an echo argument it answers locally; otherwise it performs a
// health check against the backend.
func NewPingHandler(deps *Dependencies) mcp.ToolHandlerFor[PingInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input PingInput) (*mcp.CallToolResult, any, error) {
		if input.Echo != "" {
			return TextResult(input.Echo), nil, nil
		}

		msg, err := deps.API.Health(ctx)
		if err != nil {
			deps.Logger.Warn("health check failed", "error", err)
			return ErrorResult("Backend unreachable", "Check that the repochat server is running"), nil, nil
		}
		if msg == "" {
			msg = "pong"
		}
		return TextResult(msg), nil, nil
	}
}
