package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mkarlsen/repochat/internal/chat"
	"github.com/mkarlsen/repochat/internal/models"
	"github.com/mkarlsen/repochat/internal/rooms"
	"github.com/mkarlsen/repochat/internal/socket"
)

// connectTimeout bounds the wait for the initial websocket handshake
// before the TUI starts.
const connectTimeout = 15 * time.Second

var (
	chatRepo string
	chatMode string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start a streaming chat session about a repository",
	Long: `Open a full-screen chat session about an ingested repository.

Answers stream in chunk by chunk over a shared websocket connection
while you watch. The session keeps the whole conversation on screen;
Ctrl+N starts a fresh one without reconnecting.

Key bindings:
  enter      submit the question
  tab        toggle answer mode (fast/accurate)
  ctrl+n     new chat
  ctrl+y     copy the last answer to the clipboard
  ctrl+r     rejoin the repository room after a reconnect
  ctrl+c     quit

Examples:
  repochat chat --repo gorilla/mux
  repochat chat --repo https://github.com/gorilla/websocket --mode fast`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatRepo, "repo", "r", "", "repository ID, name, or GitHub URL")
	chatCmd.Flags().StringVarP(&chatMode, "mode", "m", "", "answer mode: fast or accurate (default from config)")
}

func runChat(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("chat needs a terminal; use \"repochat ask\" for scripted queries")
	}

	mode := cfg.DefaultMode
	if chatMode != "" {
		mode = models.Mode(chatMode)
		if !mode.Valid() {
			return fmt.Errorf("unknown mode %q: use %q or %q", chatMode, models.ModeFast, models.ModeAccurate)
		}
	}

	repo, err := resolveRepo(cmd, chatRepo)
	if err != nil {
		return err
	}

	handle, err := registry.Acquire(cfg.ServerURL, socket.Options{
		Path:              cfg.SocketPath,
		Transports:        cfg.Transports,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		KeepaliveInterval: cfg.KeepaliveInterval,
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer handle.Release()
	conn := handle.Conn()

	if err := waitForConnection(conn, connectTimeout); err != nil {
		return err
	}

	roomClient := rooms.NewClient(conn, apiClient, logger)
	defer roomClient.Close()

	joinCtx, cancel := context.WithTimeout(cmd.Context(), cfg.HTTPTimeout)
	err = roomClient.Join(joinCtx, repo.ID)
	cancel()
	if err != nil {
		return fmt.Errorf("join repository room: %w", err)
	}

	session := chat.NewSession(conn, apiClient, repo.ID, chat.Options{
		Mode:         mode,
		DedupeWindow: cfg.DedupeWindow,
		Collector:    collector,
		Logger:       logger,
	})
	defer session.Close()

	model := newChatModel(session, roomClient, repo, collector)
	p := tea.NewProgram(model)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat UI error: %w", err)
	}

	// Best effort: the server also forgets the room when the socket goes.
	leaveCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := roomClient.Leave(leaveCtx, repo.ID); err != nil {
		logger.Debug("leave room on exit failed", "repo_id", repo.ID, "error", err)
	}

	return nil
}

// waitForConnection blocks until the shared connection reports connected
// or the timeout elapses. The subscription is taken before the state
// check so a connect between the two is not missed.
func waitForConnection(conn *socket.Conn, timeout time.Duration) error {
	recv := conn.Dispatcher().Subscribe(1)
	defer recv.Close()

	if conn.State().Connected {
		return nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case state, ok := <-recv.States():
			if !ok {
				return fmt.Errorf("connection closed while waiting for %s", cfg.ServerURL)
			}
			if state.Connected {
				return nil
			}
		case <-deadline.C:
			return fmt.Errorf("no connection to %s after %s (is the server running?)", cfg.ServerURL, timeout)
		}
	}
}
