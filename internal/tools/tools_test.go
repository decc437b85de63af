package tools_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarlsen/repochat/internal/api"
	"github.com/mkarlsen/repochat/internal/devstub"
	"github.com/mkarlsen/repochat/internal/models"
	"github.com/mkarlsen/repochat/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newSession wires a tool server backed by the devstub to an in-memory
// MCP client session.
func newSession(t *testing.T) (*mcp.ClientSession, context.Context) {
	t.Helper()

	backend := httptest.NewServer(devstub.New(devstub.Options{
		Logger: testLogger(),
		Answer: func(repoID, query string, mode models.Mode) (string, error) {
			return "The answer to " + query, nil
		},
	}))
	t.Cleanup(backend.Close)

	logger := testLogger()
	deps := &tools.Dependencies{
		API:    api.New(backend.URL, 5*time.Second, logger, nil),
		Logger: logger,
	}

	server := mcp.NewServer(&mcp.Implementation{Name: "test-repochat", Version: "0.0.1-test"}, nil)
	tools.RegisterAll(server, deps)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	go func() {
		_ = server.Run(ctx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err, "client should connect")
	t.Cleanup(func() { session.Close() })

	return session, ctx
}

func textContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content should be TextContent")
	return tc.Text
}

func TestListTools(t *testing.T) {
	session, ctx := newSession(t)

	result, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	require.Len(t, result.Tools, 4)

	names := make(map[string]bool)
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"ping", "ask", "ingest_repo", "code_tree"} {
		assert.True(t, names[want], "tool %q should be registered", want)
	}
}

func TestPingTool(t *testing.T) {
	session, ctx := newSession(t)

	t.Run("echo", func(t *testing.T) {
		result, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      "ping",
			Arguments: map[string]any{"echo": "hello world"},
		})
		require.NoError(t, err)
		assert.False(t, result.IsError)
		assert.Equal(t, "hello world", textContent(t, result))
	})

	t.Run("health check", func(t *testing.T) {
		result, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      "ping",
			Arguments: map[string]any{},
		})
		require.NoError(t, err)
		assert.False(t, result.IsError)
		assert.NotEmpty(t, textContent(t, result))
	})
}

func TestAskTool(t *testing.T) {
	session, ctx := newSession(t)

	t.Run("answers by URL", func(t *testing.T) {
		result, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name: "ask",
			Arguments: map[string]any{
				"repo":     "https://github.com/gorilla/mux",
				"question": "How does routing work?",
			},
		})
		require.NoError(t, err)
		assert.False(t, result.IsError)
		assert.Equal(t, "The answer to How does routing work?", textContent(t, result))
	})

	t.Run("empty question is a tool error", func(t *testing.T) {
		result, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name: "ask",
			Arguments: map[string]any{
				"repo":     "https://github.com/gorilla/mux",
				"question": "   ",
			},
		})
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("unknown mode is a tool error", func(t *testing.T) {
		result, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name: "ask",
			Arguments: map[string]any{
				"repo":     "https://github.com/gorilla/mux",
				"question": "anything",
				"mode":     "turbo",
			},
		})
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("bare unknown id is a tool error", func(t *testing.T) {
		result, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name: "ask",
			Arguments: map[string]any{
				"repo":     "nosuchrepo",
				"question": "anything",
			},
		})
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})
}

func TestIngestTool(t *testing.T) {
	session, ctx := newSession(t)

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "ingest_repo",
		Arguments: map[string]any{"github_url": "https://github.com/gorilla/websocket"},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, textContent(t, result), "websocket")
	assert.Contains(t, textContent(t, result), "repo_id")
}

func TestCodeTreeTool(t *testing.T) {
	session, ctx := newSession(t)

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "code_tree",
		Arguments: map[string]any{"repo": "https://github.com/gorilla/mux"},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, textContent(t, result), "files")
}
