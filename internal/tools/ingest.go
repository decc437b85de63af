package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/mkarlsen/repochat/internal/models"
)

// IngestInput defines the input schema for the ingest_repo tool.
type IngestInput struct {
	GithubURL string `json:"github_url" jsonschema:"required,GitHub URL of the repository to ingest"`
}

// NewIngestHandler creates the ingest_repo tool handler. Ingestion is
// idempotent server-side; the repository is also recorded in the local
// registry so later calls can refer to it by ID or name.
func NewIngestHandler(deps *Dependencies) mcp.ToolHandlerFor[IngestInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IngestInput) (
		*mcp.CallToolResult, any, error,
	) {
		if input.GithubURL == "" {
			return ErrorResult("GitHub URL cannot be empty", "Provide the repository URL"), nil, nil
		}

		data, err := deps.API.Ingest(ctx, input.GithubURL)
		if err != nil {
			deps.Logger.Error("ingest failed", "url", input.GithubURL, "error", err)
			return ErrorResult("Ingest failed", "Check the URL and that the backend is running"), nil, nil
		}

		repo := models.Repo{
			ID:        data.RepoID,
			GithubURL: input.GithubURL,
			Name:      models.RepoNameFromURL(input.GithubURL),
			Status:    data.Status,
		}
		if deps.Store != nil {
			if err := deps.Store.Upsert(ctx, repo); err != nil {
				deps.Logger.Warn("failed to record repository locally", "repo_id", repo.ID, "error", err)
			}
		}

		deps.Logger.Info("repository ingested", "repo_id", repo.ID, "status", data.Status)
		return TextResult(fmt.Sprintf("Ingested %s (repo_id: %s, status: %s)", repo.Name, repo.ID, data.Status)), nil, nil
	}
}
