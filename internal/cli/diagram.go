package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var diagramCmd = &cobra.Command{
	Use:   "diagram <repo>",
	Short: "Print the architecture diagram of a repository",
	Long: `Fetch the architecture diagram of a repository as Mermaid source.

The output is raw Mermaid, so it can be piped into a renderer or pasted
into any tool that understands Mermaid:

  repochat diagram gorilla/mux | mmdc -i - -o architecture.svg

Examples:
  repochat diagram gorilla/mux
  repochat diagram https://github.com/gorilla/websocket`,
	Args: cobra.ExactArgs(1),
	RunE: runDiagram,
}

func runDiagram(cmd *cobra.Command, args []string) error {
	repo, err := resolveRepo(cmd, args[0])
	if err != nil {
		return err
	}
	if repo.GithubURL == "" {
		return fmt.Errorf("no GitHub URL known for repository %q", args[0])
	}

	data, err := apiClient.Diagram(cmd.Context(), repo.GithubURL)
	if err != nil {
		return err
	}

	fmt.Println(data.Diagram)
	return nil
}
