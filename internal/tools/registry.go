package tools

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterAll registers all tools with the MCP server.
// This is called from main after server creation but before Run().
func RegisterAll(server *mcp.Server, deps *Dependencies) {
	// Ping tool - backend reachability check
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ping",
		Description: "Check that the repochat backend is reachable",
	}, NewPingHandler(deps))

	// Ask tool - one-shot question about a repository
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask",
		Description: "Ask a question about an ingested GitHub repository and get the full answer",
	}, NewAskHandler(deps))

	// Ingest tool - clone and index a repository server-side
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingest_repo",
		Description: "Ingest a GitHub repository so it can be queried",
	}, NewIngestHandler(deps))

	// Code tree tool - file tree as the server sees it
	mcp.AddTool(server, &mcp.Tool{
		Name:        "code_tree",
		Description: "Fetch the file tree of a GitHub repository",
	}, NewCodeTreeHandler(deps))
}
