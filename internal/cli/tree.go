package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mkarlsen/repochat/internal/models"
)

var treeCmd = &cobra.Command{
	Use:   "tree <repo>",
	Short: "Print the code tree of a repository",
	Long: `Fetch and print the file tree of a repository as the server sees it.

The server ingests the repository first if it has not seen it yet, so
this also works as a cheap way to warm up a repo before chatting.

Examples:
  repochat tree gorilla/mux
  repochat tree https://github.com/gorilla/websocket
  repochat tree a1b2c3d4e5f6a7b8c9d0`,
	Args: cobra.ExactArgs(1),
	RunE: runTree,
}

func runTree(cmd *cobra.Command, args []string) error {
	repo, err := resolveRepo(cmd, args[0])
	if err != nil {
		return err
	}
	if repo.GithubURL == "" {
		return fmt.Errorf("no GitHub URL known for repository %q", args[0])
	}

	data, err := apiClient.CodeTree(cmd.Context(), repo.GithubURL)
	if err != nil {
		return err
	}

	var b strings.Builder
	writeTree(&b, data.Tree, 0)
	fmt.Print(b.String())
	fmt.Printf("\n%d files\n", data.Tree.CountFiles())

	return nil
}

// writeTree renders a node and its children as two-space indented lines,
// folders marked with a trailing slash.
func writeTree(b *strings.Builder, node models.TreeNode, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	if node.Type == models.NodeFolder {
		b.WriteString(node.Name + "/\n")
	} else {
		b.WriteString(node.Name + "\n")
	}
	for _, child := range node.Children {
		writeTree(b, child, depth+1)
	}
}
