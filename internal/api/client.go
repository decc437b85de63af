// Package api provides the REST client for the repochat server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mkarlsen/repochat/internal/metrics"
	"github.com/mkarlsen/repochat/internal/models"
)

// Client talks to the repochat server's HTTP endpoints. Streaming answers
// do not flow through here; this side only triggers processing and serves
// the one-shot operations.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	collector  *metrics.Collector
}

// New creates a REST client.
// If baseURL is empty, uses REPOCHAT_SERVER_URL env var or defaults to
// localhost:8000. A non-positive timeout falls back to 30s.
func New(baseURL string, timeout time.Duration, logger *slog.Logger, collector *metrics.Collector) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("REPOCHAT_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:    logger,
		collector: collector,
	}
}

// BaseURL returns the server address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// post sends a JSON body and decodes the enveloped response data into out.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

// get fetches path and decodes the enveloped response data into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	envelope, err := c.roundTrip(req)
	if err != nil {
		return err
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("unmarshal data: %w", err)
		}
	}
	return nil
}

// roundTrip executes the request and checks both the HTTP status and the
// envelope status.
func (c *Client) roundTrip(req *http.Request) (*StandardResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server error: %s - %s", resp.Status, string(body))
	}

	var envelope StandardResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if envelope.Status == StatusError {
		return nil, fmt.Errorf("server error: %s", envelope.Message)
	}

	return &envelope, nil
}

// TriggerProcessing starts server-side processing of a query. The answer
// streams back over the socket identified by socketID.
func (c *Client) TriggerProcessing(ctx context.Context, repoID, query string, mode models.Mode, socketID string) error {
	start := time.Now()
	err := c.post(ctx, "/query/trigger-processing", TriggerRequest{
		RepoID:   repoID,
		Query:    query,
		Mode:     string(mode),
		SocketID: socketID,
	}, nil)
	if err != nil {
		return fmt.Errorf("trigger processing: %w", err)
	}
	c.collector.RecordTiming(metrics.OpTrigger, time.Since(start))
	c.logger.Debug("processing triggered", "repo_id", repoID, "mode", mode, "socket_id", socketID)
	return nil
}

// JoinRoom subscribes the socket to a repository's streamed responses.
func (c *Client) JoinRoom(ctx context.Context, socketID, repoID string) error {
	start := time.Now()
	err := c.post(ctx, "/rooms/join", RoomRequest{SocketID: socketID, RepoID: repoID}, nil)
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	c.collector.RecordTiming(metrics.OpRoomJoin, time.Since(start))
	return nil
}

// LeaveRoom unsubscribes the socket from a repository's room.
func (c *Client) LeaveRoom(ctx context.Context, socketID, repoID string) error {
	if err := c.post(ctx, "/rooms/leave", RoomRequest{SocketID: socketID, RepoID: repoID}, nil); err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	return nil
}

// Ingest asks the server to clone and index a repository.
func (c *Client) Ingest(ctx context.Context, githubURL string) (*IngestData, error) {
	var data IngestData
	if err := c.post(ctx, "/repos/ingest", IngestRequest{GithubURL: githubURL}, &data); err != nil {
		return nil, fmt.Errorf("ingest repo: %w", err)
	}
	return &data, nil
}

// CodeTree fetches the repository's file tree, ingesting it first if the
// server has not seen it.
func (c *Client) CodeTree(ctx context.Context, githubURL string) (*TreeData, error) {
	var data TreeData
	if err := c.post(ctx, "/repos/code-tree", TreeRequest{GithubURL: githubURL}, &data); err != nil {
		return nil, fmt.Errorf("code tree: %w", err)
	}
	return &data, nil
}

// Diagram fetches the architecture diagram for a repository as Mermaid
// source. The server keys this endpoint on the GitHub URL, not the
// derived repository id.
func (c *Client) Diagram(ctx context.Context, githubURL string) (*DiagramData, error) {
	var data DiagramData
	if err := c.get(ctx, "/architect/diagram?repo_id="+url.QueryEscape(githubURL), &data); err != nil {
		return nil, fmt.Errorf("architecture diagram: %w", err)
	}
	return &data, nil
}

// Query asks a one-shot question and returns the full answer without
// streaming.
func (c *Client) Query(ctx context.Context, repoID, query string, mode models.Mode) (string, error) {
	var data AnswerData
	if err := c.post(ctx, "/query/", QueryRequest{RepoID: repoID, Query: query, Mode: string(mode)}, &data); err != nil {
		return "", fmt.Errorf("query: %w", err)
	}
	return data.Answer, nil
}

// Health checks the server is reachable and returns its status message.
func (c *Client) Health(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/", nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	envelope, err := c.roundTrip(req)
	if err != nil {
		return "", fmt.Errorf("health: %w", err)
	}
	return envelope.Message, nil
}
