package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mkarlsen/repochat/internal/models"
)

var (
	askRepo string
	askMode string
	askRaw  bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a one-shot question about a repository",
	Long: `Ask a single question about an ingested repository and print the answer.

The answer arrives in one piece. For a streaming conversation use
"repochat chat" instead.

The --repo flag accepts a repository ID, a name previously seen by
"repochat ingest", or a GitHub URL.

Examples:
  repochat ask "How does request routing work?" --repo gorilla/mux
  repochat ask "Where are retries implemented?" --repo https://github.com/gorilla/websocket
  repochat ask "Summarize the storage layer" --repo gorilla/mux --mode accurate
  repochat ask "What does the Makefile build?" --repo gorilla/mux --raw > answer.md`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askRepo, "repo", "r", "", "repository ID, name, or GitHub URL")
	askCmd.Flags().StringVarP(&askMode, "mode", "m", string(models.ModeFast), "answer mode: fast or accurate")
	askCmd.Flags().BoolVar(&askRaw, "raw", false, "print the answer without markdown rendering")
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("question is empty")
	}

	mode := models.Mode(askMode)
	if !mode.Valid() {
		return fmt.Errorf("unknown mode %q: use %q or %q", askMode, models.ModeFast, models.ModeAccurate)
	}

	repo, err := resolveRepo(cmd, askRepo)
	if err != nil {
		return err
	}

	answer, err := apiClient.Query(cmd.Context(), repo.ID, question, mode)
	if err != nil {
		return err
	}

	if askRaw {
		fmt.Println(answer)
		return nil
	}
	fmt.Println(renderMarkdown(answer, 0))
	return nil
}
