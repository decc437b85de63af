package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/mkarlsen/repochat/internal/models"
)

// CodeTreeInput defines the input schema for the code_tree tool.
type CodeTreeInput struct {
	Repo string `json:"repo" jsonschema:"required,Repository ID or GitHub URL"`
}

// NewCodeTreeHandler creates the code_tree tool handler. The server
// ingests the repository first if it has not seen it yet.
func NewCodeTreeHandler(deps *Dependencies) mcp.ToolHandlerFor[CodeTreeInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input CodeTreeInput) (
		*mcp.CallToolResult, any, error,
	) {
		if input.Repo == "" {
			return ErrorResult("Repo cannot be empty", "Provide a repository ID or GitHub URL"), nil, nil
		}

		repo, err := deps.resolveRepo(ctx, input.Repo)
		if err != nil {
			deps.Logger.Warn("repo resolution failed", "repo", input.Repo, "error", err)
			return ErrorResult("Unknown repository "+input.Repo, "Ingest it first with ingest_repo, or pass a GitHub URL"), nil, nil
		}
		if repo.GithubURL == "" {
			return ErrorResult("No GitHub URL known for "+input.Repo, "Pass the full URL instead"), nil, nil
		}

		data, err := deps.API.CodeTree(ctx, repo.GithubURL)
		if err != nil {
			deps.Logger.Error("code tree failed", "repo_id", repo.ID, "error", err)
			return ErrorResult("Code tree fetch failed", "Check that the backend is running"), nil, nil
		}

		var b strings.Builder
		writeNode(&b, data.Tree, 0)
		fmt.Fprintf(&b, "\n%d files\n", data.Tree.CountFiles())

		deps.Logger.Info("code tree fetched", "repo_id", repo.ID, "files", data.Tree.CountFiles())
		return TextResult(b.String()), nil, nil
	}
}

// writeNode renders a node and its children as two-space indented lines,
// folders marked with a trailing slash.
func writeNode(b *strings.Builder, node models.TreeNode, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	if node.Type == models.NodeFolder {
		b.WriteString(node.Name + "/\n")
	} else {
		b.WriteString(node.Name + "\n")
	}
	for _, child := range node.Children {
		writeNode(b, child, depth+1)
	}
}
