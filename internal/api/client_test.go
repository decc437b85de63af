package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarlsen/repochat/internal/metrics"
	"github.com/mkarlsen/repochat/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func respond(t *testing.T, w http.ResponseWriter, status, message string, data any) {
	t.Helper()
	envelope := map[string]any{"status": status, "message": message}
	if data != nil {
		envelope["data"] = data
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestTriggerProcessing(t *testing.T) {
	var got TriggerRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query/trigger-processing", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		respond(t, w, StatusSuccess, "processing started", nil)
	}))
	defer srv.Close()

	collector := metrics.NewCollector()
	c := New(srv.URL, time.Second, testLogger(), collector)

	err := c.TriggerProcessing(context.Background(), "repo1", "what does main do?", models.ModeAccurate, "sid-9")
	require.NoError(t, err)

	assert.Equal(t, "repo1", got.RepoID)
	assert.Equal(t, "what does main do?", got.Query)
	assert.Equal(t, "accurate", got.Mode)
	assert.Equal(t, "sid-9", got.SocketID)

	snap := collector.Snapshot()
	require.NotNil(t, snap.Trigger, "trigger timing must be recorded")
	assert.EqualValues(t, 1, snap.Trigger.Count)
}

func TestTriggerProcessingEnvelopeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(t, w, StatusError, "repo not found", nil)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, testLogger(), nil)
	err := c.TriggerProcessing(context.Background(), "missing", "q", models.ModeFast, "sid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repo not found")
}

func TestTriggerProcessingHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, testLogger(), nil)
	err := c.TriggerProcessing(context.Background(), "r", "q", models.ModeFast, "sid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestJoinAndLeaveRoom(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		var req RoomRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sid-1", req.SocketID)
		assert.Equal(t, "repo1", req.RepoID)
		respond(t, w, StatusSuccess, "ok", nil)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, testLogger(), nil)
	require.NoError(t, c.JoinRoom(context.Background(), "sid-1", "repo1"))
	require.NoError(t, c.LeaveRoom(context.Background(), "sid-1", "repo1"))
	assert.Equal(t, []string{"/rooms/join", "/rooms/leave"}, paths)
}

func TestIngest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/ingest", r.URL.Path)
		var req IngestRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://github.com/a/b", req.GithubURL)
		respond(t, w, StatusSuccess, "ingestion started", IngestData{RepoID: "abc", Status: models.IngestStarted})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, testLogger(), nil)
	data, err := c.Ingest(context.Background(), "https://github.com/a/b")
	require.NoError(t, err)
	assert.Equal(t, "abc", data.RepoID)
	assert.Equal(t, models.IngestStarted, data.Status)
}

func TestCodeTree(t *testing.T) {
	tree := models.TreeNode{
		Name: "b", Type: models.NodeFolder,
		Children: []models.TreeNode{{Name: "main.py", Type: models.NodeFile, Ext: ".py"}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/code-tree", r.URL.Path)
		respond(t, w, StatusSuccess, "ok", TreeData{RepoID: "abc", Tree: tree})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, testLogger(), nil)
	data, err := c.CodeTree(context.Background(), "https://github.com/a/b")
	require.NoError(t, err)
	assert.Equal(t, "abc", data.RepoID)
	require.Len(t, data.Tree.Children, 1)
	assert.Equal(t, models.NodeFile, data.Tree.Children[0].Type)
}

func TestDiagram(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/architect/diagram", r.URL.Path)
		// The query param carries the raw GitHub URL despite its name.
		assert.Equal(t, "https://github.com/a/b", r.URL.Query().Get("repo_id"))
		respond(t, w, StatusSuccess, "Architecture diagram generated", DiagramData{
			RepoID:  "abc",
			Diagram: "graph TD\n    A --> B",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, testLogger(), nil)
	data, err := c.Diagram(context.Background(), "https://github.com/a/b")
	require.NoError(t, err)
	assert.Equal(t, "abc", data.RepoID)
	assert.True(t, strings.HasPrefix(data.Diagram, "graph"))
}

func TestQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query/", r.URL.Path)
		var req QueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "fast", req.Mode)
		respond(t, w, StatusSuccess, "ok", AnswerData{Answer: "It parses args."})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, testLogger(), nil)
	answer, err := c.Query(context.Background(), "abc", "what does main do?", models.ModeFast)
	require.NoError(t, err)
	assert.Equal(t, "It parses args.", answer)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/", r.URL.Path)
		respond(t, w, StatusSuccess, "repochat server is running", nil)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, testLogger(), nil)
	msg, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "repochat server is running", msg)
}

func TestNewDefaults(t *testing.T) {
	t.Setenv("REPOCHAT_SERVER_URL", "")
	c := New("", 0, nil, nil)
	assert.Equal(t, "http://localhost:8000", c.BaseURL())

	t.Setenv("REPOCHAT_SERVER_URL", "http://envhost:1234")
	c = New("", 0, nil, nil)
	assert.Equal(t, "http://envhost:1234", c.BaseURL())

	c = New("http://explicit:9/", 0, nil, nil)
	assert.Equal(t, "http://explicit:9", c.BaseURL(), "trailing slash is trimmed")
}

func TestContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := New(srv.URL, 10*time.Second, testLogger(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Query(ctx, "r", "q", models.ModeFast)
	require.Error(t, err)
}
