package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mkarlsen/repochat/internal/models"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <github-url>",
	Short: "Ingest a GitHub repository on the server",
	Long: `Ask the server to clone and index a GitHub repository.

Ingestion is idempotent: re-ingesting a known repository refreshes it.
The repository is also recorded locally so later commands can refer to
it by name or ID instead of the full URL.

Examples:
  repochat ingest https://github.com/gorilla/mux
  repochat ingest https://github.com/gorilla/websocket --server http://localhost:8000`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	githubURL := args[0]
	ctx := cmd.Context()

	data, err := apiClient.Ingest(ctx, githubURL)
	if err != nil {
		return err
	}

	repo := models.Repo{
		ID:        data.RepoID,
		GithubURL: githubURL,
		Name:      models.RepoNameFromURL(githubURL),
		Status:    data.Status,
	}
	if err := repoStore.Upsert(ctx, repo); err != nil {
		fmt.Printf("Warning: failed to record repository locally: %v\n", err)
	}

	fmt.Printf("Ingested repository: %s (%s)\n", repo.Name, repo.ID)
	if verbose {
		fmt.Printf("  URL: %s\n", repo.GithubURL)
		fmt.Printf("  Status: %s\n", data.Status)
	}

	return nil
}
