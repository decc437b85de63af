// Package cli provides the command-line interface for repochat.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mkarlsen/repochat/internal/api"
	"github.com/mkarlsen/repochat/internal/config"
	"github.com/mkarlsen/repochat/internal/metrics"
	"github.com/mkarlsen/repochat/internal/models"
	"github.com/mkarlsen/repochat/internal/socket"
	"github.com/mkarlsen/repochat/internal/store"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	// Shared client state wired up in PersistentPreRunE.
	cfg        config.Config
	logger     *slog.Logger
	logCleanup func() error
	collector  *metrics.Collector
	apiClient  *api.Client
	registry   *socket.Registry
	repoStore  *store.Store
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "repochat",
	Short: "Chat with a codebase from your terminal",
	Long: `Repochat is a terminal client for the Codebase Comprehender backend.

Ingest a GitHub repository once, then ask questions about it: either as
one-shot queries or in a streaming chat session where the answer arrives
chunk by chunk, exactly as the model produces it.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip client setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if serverURL != "" {
			cfg.ServerURL = serverURL
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		// The chat TUI owns the terminal, so its logs go to the file only.
		if cmd.Name() == "chat" {
			logger, logCleanup = config.SetupQuietLogger(cfg.LogFile, cfg.LogLevel)
		} else {
			logger, logCleanup = config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		}

		collector = metrics.NewCollector()
		apiClient = api.New(cfg.ServerURL, cfg.HTTPTimeout, logger, collector)
		registry = socket.NewRegistry(logger, collector)

		var err error
		repoStore, err = store.Open(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open repo registry: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if repoStore != nil {
			if err := repoStore.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close repo registry: %v\n", err)
			}
		}
		if logCleanup != nil {
			if err := logCleanup(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "backend server URL (overrides config)")

	// Add subcommands
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(diagramCmd)
	rootCmd.AddCommand(reposCmd)
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// resolveRepo turns a repository reference (ID, name, or GitHub URL) into a
// known repo. URLs the local registry has never seen still resolve, because
// the server derives repository IDs deterministically from the URL.
func resolveRepo(cmd *cobra.Command, ref string) (models.Repo, error) {
	if ref == "" {
		return models.Repo{}, fmt.Errorf("no repository given: pass --repo with an ID, name, or GitHub URL")
	}

	ctx := cmd.Context()
	repo, err := repoStore.Resolve(ctx, ref)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound) && strings.Contains(ref, "/"):
		repo = models.Repo{
			ID:        models.RepoIDFromURL(ref),
			GithubURL: ref,
			Name:      models.RepoNameFromURL(ref),
		}
	default:
		return models.Repo{}, fmt.Errorf("resolve repository %q: %w", ref, err)
	}

	if err := repoStore.Touch(ctx, repo.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Warn("failed to record repository use", "repo_id", repo.ID, "error", err)
	}
	return repo, nil
}
