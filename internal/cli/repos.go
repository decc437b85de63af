package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List locally known repositories",
	Long: `List the repositories this machine has ingested or chatted with,
most recently used first.

Subcommands:
  forget    Remove a repository from the local registry

Examples:
  repochat repos
  repochat repos -v
  repochat repos forget gorilla/mux`,
	RunE: runRepos,
}

var reposForgetCmd = &cobra.Command{
	Use:   "forget <repo>",
	Short: "Remove a repository from the local registry",
	Long: `Remove a repository from the local registry.

Only the local record is removed. The server keeps its index, and the
repository can still be addressed by URL afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: runReposForget,
}

func init() {
	reposCmd.AddCommand(reposForgetCmd)
}

func runRepos(cmd *cobra.Command, args []string) error {
	repos, err := repoStore.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list repositories: %w", err)
	}

	if len(repos) == 0 {
		fmt.Println("No repositories known yet. Ingest one with: repochat ingest <github-url>")
		return nil
	}

	fmt.Printf("Repositories (%d):\n\n", len(repos))
	for _, repo := range repos {
		fmt.Printf("- %s (%s) [%s]\n", repo.Name, repo.ID, repo.Status)
		if verbose {
			fmt.Printf("  URL: %s\n", repo.GithubURL)
			fmt.Printf("  Ingested: %s\n", repo.IngestedAt.Format("2006-01-02 15:04"))
			fmt.Printf("  Last used: %s\n", repo.LastUsedAt.Format("2006-01-02 15:04"))
		}
	}

	return nil
}

func runReposForget(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	repo, err := repoStore.Resolve(ctx, args[0])
	if err != nil {
		return fmt.Errorf("resolve repository %q: %w", args[0], err)
	}
	if err := repoStore.Delete(ctx, repo.ID); err != nil {
		return fmt.Errorf("forget repository: %w", err)
	}

	fmt.Printf("Forgot repository: %s (%s)\n", repo.Name, repo.ID)
	return nil
}
