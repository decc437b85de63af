package tools

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/mkarlsen/repochat/internal/models"
)

// AskInput defines the input schema for the ask tool.
type AskInput struct {
	Repo     string `json:"repo" jsonschema:"required,Repository ID or GitHub URL"`
	Question string `json:"question" jsonschema:"required,The question to ask about the repository"`
	Mode     string `json:"mode,omitempty" jsonschema:"Answer mode: fast (default) or accurate"`
}

// NewAskHandler creates the ask tool handler. The answer arrives in one
// piece through the one-shot query endpoint; streaming stays with the
// chat TUI.
func NewAskHandler(deps *Dependencies) mcp.ToolHandlerFor[AskInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskInput) (
		*mcp.CallToolResult, any, error,
	) {
		question := strings.TrimSpace(input.Question)
		if question == "" {
			return ErrorResult("Question cannot be empty", "Provide a question about the repository"), nil, nil
		}
		if input.Repo == "" {
			return ErrorResult("Repo cannot be empty", "Provide a repository ID or GitHub URL"), nil, nil
		}

		mode := models.ModeFast
		if input.Mode != "" {
			mode = models.Mode(input.Mode)
			if !mode.Valid() {
				return ErrorResult("Unknown mode "+input.Mode, "Use fast or accurate"), nil, nil
			}
		}

		repo, err := deps.resolveRepo(ctx, input.Repo)
		if err != nil {
			deps.Logger.Warn("repo resolution failed", "repo", input.Repo, "error", err)
			return ErrorResult("Unknown repository "+input.Repo, "Ingest it first with ingest_repo, or pass a GitHub URL"), nil, nil
		}

		answer, err := deps.API.Query(ctx, repo.ID, question, mode)
		if err != nil {
			deps.Logger.Error("query failed", "repo_id", repo.ID, "error", err)
			return ErrorResult("Query failed", "The backend may still be ingesting the repository"), nil, nil
		}

		queryLog := question
		if len(queryLog) > 30 {
			queryLog = queryLog[:30] + "..."
		}
		deps.Logger.Info("ask completed", "repo_id", repo.ID, "question", queryLog, "chars", len(answer))

		return TextResult(answer), nil, nil
	}
}
