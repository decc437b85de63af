// Package devstub implements an in-process stand-in for the Codebase
// Comprehender backend. It speaks the production wire protocol, both the
// REST surface and the websocket event stream, so integration tests and
// offline development never need the real server.
package devstub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mkarlsen/repochat/internal/api"
	"github.com/mkarlsen/repochat/internal/metrics"
	"github.com/mkarlsen/repochat/internal/models"
	"github.com/mkarlsen/repochat/internal/socket"
)

// AnswerFunc produces the answer the stub streams back for a query.
// Tests script it to control the stream content.
type AnswerFunc func(repoID, query string, mode models.Mode) (string, error)

// Options configures the stub server.
type Options struct {
	// Answer defaults to a deterministic echo of the query.
	Answer AnswerFunc
	// SocketPath defaults to /ws.
	SocketPath string
	// ChunkSize caps stream chunk length in runes.
	ChunkSize int
	// ChunkDelay inserts a pause between chunk emissions.
	ChunkDelay time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the stub backend. It implements http.Handler, so tests mount
// it directly on httptest.NewServer.
type Server struct {
	logger    *slog.Logger
	answer    AnswerFunc
	chunkSize int
	delay     time.Duration
	upgrader  websocket.Upgrader
	collector *metrics.Collector
	router    chi.Router

	mu      sync.Mutex
	clients map[string]*stubClient
	rooms   map[string]map[string]struct{}
	repos   map[string]models.Repo
}

// stubClient is one connected websocket peer.
type stubClient struct {
	sid     string
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *stubClient) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(socket.Frame{Event: event, Data: data})
}

// New creates a stub server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Answer == nil {
		opts.Answer = defaultAnswer
	}
	if opts.SocketPath == "" {
		opts.SocketPath = "/ws"
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}

	s := &Server{
		logger:    opts.Logger,
		answer:    opts.Answer,
		chunkSize: opts.ChunkSize,
		delay:     opts.ChunkDelay,
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		collector: metrics.NewCollector(),
		clients:   make(map[string]*stubClient),
		rooms:     make(map[string]map[string]struct{}),
		repos:     make(map[string]models.Repo),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get(opts.SocketPath, s.handleWS)
	r.Post("/query/trigger-processing", s.handleTrigger)
	r.Post("/query/", s.handleQuery)
	r.Post("/rooms/join", s.handleJoin)
	r.Post("/rooms/leave", s.handleLeave)
	r.Post("/repos/ingest", s.handleIngest)
	r.Post("/repos/code-tree", s.handleCodeTree)
	r.Get("/architect/diagram", s.handleDiagram)

	s.router = r
	return s
}

// ServeHTTP dispatches to the stub's router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Metrics returns the stub's own collector for test assertions.
func (s *Server) Metrics() *metrics.Collector {
	return s.collector
}

// ClientCount reports the number of connected sockets.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// InRoom reports whether the socket has joined the repository's room.
func (s *Server) InRoom(sid, repoID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[repoID][sid]
	return ok
}

// defaultAnswer echoes the query so tests can assert on content without
// scripting anything.
func defaultAnswer(repoID, query string, mode models.Mode) (string, error) {
	return fmt.Sprintf("Answer from %s about %s: %s", mode.ModelName(), repoID, query), nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	sid := uuid.New().String()
	client := &stubClient{sid: sid, ws: ws}

	if err := client.send(socket.EventConnect, socket.ConnectPayload{SID: sid}); err != nil {
		s.logger.Error("hello frame failed", "error", err)
		ws.Close()
		return
	}

	s.mu.Lock()
	s.clients[sid] = client
	s.mu.Unlock()
	s.logger.Info("client connected", "sid", sid)

	defer func() {
		s.dropClient(sid)
		ws.Close()
		s.logger.Info("client disconnected", "sid", sid)
	}()

	for {
		var frame socket.Frame
		if err := ws.ReadJSON(&frame); err != nil {
			return
		}
		s.handleFrame(client, frame)
	}
}

func (s *Server) handleFrame(client *stubClient, frame socket.Frame) {
	switch frame.Event {
	case socket.EventPing:
		s.collector.RecordTiming(metrics.OpPing, 0)
		if err := client.send(socket.EventPong, socket.PongPayload{Message: "pong"}); err != nil {
			s.logger.Warn("pong failed", "sid", client.sid, "error", err)
		}

	case socket.EventJoinRepo:
		var p socket.RoomPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil || p.RepoID == "" {
			return
		}
		s.joinRoom(client.sid, p.RepoID)

	case socket.EventLeaveRepo:
		var p socket.RoomPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil || p.RepoID == "" {
			return
		}
		s.leaveRoom(client.sid, p.RepoID)

	case socket.EventQueryStart:
		var p socket.QueryStartPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return
		}
		// Announcement only. Streaming starts with the HTTP trigger.
		s.logger.Info("query started", "sid", client.sid, "repo_id", p.RepoID, "mode", p.Mode)

	default:
		s.logger.Warn("unhandled event", "event", frame.Event, "sid", client.sid)
	}
}

func (s *Server) joinRoom(sid, repoID string) {
	s.mu.Lock()
	if s.rooms[repoID] == nil {
		s.rooms[repoID] = make(map[string]struct{})
	}
	s.rooms[repoID][sid] = struct{}{}
	client := s.clients[sid]
	s.mu.Unlock()

	s.logger.Info("socket joined room", "sid", sid, "repo_id", repoID)
	if client != nil {
		payload := socket.JoinedRepoPayload{RepoID: repoID, Message: "joined repo " + repoID}
		if err := client.send(socket.EventJoinedRepo, payload); err != nil {
			s.logger.Warn("joined_repo frame failed", "sid", sid, "error", err)
		}
	}
}

func (s *Server) leaveRoom(sid, repoID string) {
	s.mu.Lock()
	delete(s.rooms[repoID], sid)
	s.mu.Unlock()
	s.logger.Info("socket left room", "sid", sid, "repo_id", repoID)
}

func (s *Server) dropClient(sid string) {
	s.mu.Lock()
	delete(s.clients, sid)
	for repoID := range s.rooms {
		delete(s.rooms[repoID], sid)
	}
	s.mu.Unlock()
}

// recipients resolves the stream targets: the named socket if it is
// connected, otherwise everyone in the repository's room.
func (s *Server) recipients(socketID, repoID string) []*stubClient {
	s.mu.Lock()
	defer s.mu.Unlock()

	if socketID != "" {
		if c, ok := s.clients[socketID]; ok {
			return []*stubClient{c}
		}
		return nil
	}
	var out []*stubClient
	for sid := range s.rooms[repoID] {
		if c, ok := s.clients[sid]; ok {
			out = append(out, c)
		}
	}
	return out
}

// stream generates the answer and plays it out as chunk frames followed
// by the completion frame.
func (s *Server) stream(socketID, repoID, query string, mode models.Mode) {
	started := time.Now()
	targets := s.recipients(socketID, repoID)
	if len(targets) == 0 {
		s.logger.Warn("no stream recipients", "socket_id", socketID, "repo_id", repoID)
		return
	}

	answer, err := s.answer(repoID, query, mode)
	if err != nil {
		s.logger.Warn("answer generation failed", "error", err, "repo_id", repoID)
		for _, c := range targets {
			if sendErr := c.send(socket.EventQueryError, socket.QueryErrorPayload{
				Error:  err.Error(),
				RepoID: repoID,
			}); sendErr != nil {
				s.logger.Warn("query_error frame failed", "sid", c.sid, "error", sendErr)
			}
		}
		return
	}

	chunks := Chunks(answer, s.chunkSize)
	var sent int64
	var bytes int64
	for _, chunk := range chunks {
		for _, c := range targets {
			if err := c.send(socket.EventQueryChunk, socket.ChunkPayload{Text: chunk}); err != nil {
				s.logger.Warn("chunk frame failed", "sid", c.sid, "error", err)
			}
		}
		sent++
		bytes += int64(len(chunk))
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
	}

	for _, c := range targets {
		if err := c.send(socket.EventQueryComplete, socket.CompletePayload{Text: answer}); err != nil {
			s.logger.Warn("complete frame failed", "sid", c.sid, "error", err)
		}
	}
	s.collector.RecordStreamUsage(metrics.OpQueryStream, time.Since(started), sent, bytes)
	s.logger.Info("stream finished", "repo_id", repoID, "chunks", sent, "bytes", bytes)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "Codebase Comprehender API running", nil)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "Stats snapshot", s.collector.Snapshot())
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req api.TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RepoID == "" || req.Query == "" {
		writeError(w, http.StatusBadRequest, "repo_id and query are required")
		return
	}
	mode := models.Mode(req.Mode)
	if !mode.Valid() {
		mode = models.ModeAccurate
	}

	s.collector.RecordTiming(metrics.OpTrigger, 0)
	go s.stream(req.SocketID, req.RepoID, req.Query, mode)

	writeSuccess(w, http.StatusOK, "Query processing started", nil)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req api.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RepoID == "" || req.Query == "" {
		writeError(w, http.StatusBadRequest, "repo_id and query are required")
		return
	}
	mode := models.Mode(req.Mode)
	if !mode.Valid() {
		mode = models.ModeFast
	}

	answer, err := s.answer(req.RepoID, req.Query, mode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSuccess(w, http.StatusOK, "Query executed successfully.", api.AnswerData{Answer: answer})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req api.RoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	_, known := s.clients[req.SocketID]
	s.mu.Unlock()
	if !known {
		writeError(w, http.StatusNotFound, "unknown socket_id")
		return
	}

	s.joinRoom(req.SocketID, req.RepoID)
	s.collector.RecordTiming(metrics.OpRoomJoin, 0)
	writeSuccess(w, http.StatusOK, "Joined room", nil)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req api.RoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.leaveRoom(req.SocketID, req.RepoID)
	writeSuccess(w, http.StatusOK, "Left room", nil)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req api.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.GithubURL == "" {
		writeError(w, http.StatusBadRequest, "github_url is required")
		return
	}

	repoID := models.RepoIDFromURL(req.GithubURL)
	repo := models.Repo{
		ID:         repoID,
		GithubURL:  req.GithubURL,
		Name:       models.RepoNameFromURL(req.GithubURL),
		Status:     models.IngestCompleted,
		IngestedAt: time.Now(),
	}
	s.mu.Lock()
	s.repos[repoID] = repo
	s.mu.Unlock()

	s.logger.Info("repository ingested", "repo_id", repoID, "url", req.GithubURL)
	writeSuccess(w, http.StatusOK, "Repository ingested successfully.", api.IngestData{
		RepoID: repoID,
		Status: models.IngestCompleted,
	})
}

func (s *Server) handleCodeTree(w http.ResponseWriter, r *http.Request) {
	var req api.TreeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.GithubURL == "" {
		writeError(w, http.StatusBadRequest, "github_url is required")
		return
	}

	repoID := models.RepoIDFromURL(req.GithubURL)
	name := models.RepoNameFromURL(req.GithubURL)
	writeSuccess(w, http.StatusOK, "Code tree generated successfully", api.TreeData{
		RepoID: repoID,
		Tree:   sampleTree(name),
	})
}

func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	// The production API names this param repo_id but it carries the
	// GitHub URL; the server derives the id from it.
	githubURL := r.URL.Query().Get("repo_id")
	if githubURL == "" {
		writeError(w, http.StatusBadRequest, "repo_id is required")
		return
	}

	writeSuccess(w, http.StatusOK, "Architecture diagram generated", api.DiagramData{
		RepoID:  models.RepoIDFromURL(githubURL),
		Diagram: sampleDiagram,
	})
}

const sampleDiagram = `graph TD
    CLI[CLI] --> API[REST API]
    CLI --> WS[WebSocket Stream]
    API --> Store[(Repo Store)]
    WS --> Rooms[Repository Rooms]`

// sampleTree is the canned code tree the stub hands out: enough shape to
// exercise rendering without cloning anything. The production server
// roots the tree at the clone directory's basename, so "gorilla/websocket"
// becomes "websocket" here.
func sampleTree(name string) models.TreeNode {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return models.TreeNode{
		Name: name,
		Type: models.NodeFolder,
		Children: []models.TreeNode{
			{Name: "cmd", Type: models.NodeFolder, Children: []models.TreeNode{
				{Name: "main.go", Type: models.NodeFile, Ext: "go"},
			}},
			{Name: "internal", Type: models.NodeFolder, Children: []models.TreeNode{
				{Name: "server.go", Type: models.NodeFile, Ext: "go"},
				{Name: "server_test.go", Type: models.NodeFile, Ext: "go"},
			}},
			{Name: "README.md", Type: models.NodeFile, Ext: "md"},
			{Name: "Makefile", Type: models.NodeFile, Ext: ""},
		},
	}
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeEnvelope(w, status, api.StandardResponse{Status: api.StatusSuccess, Message: message}, data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeEnvelope(w, status, api.StandardResponse{Status: api.StatusError, Message: message}, nil)
}

func writeEnvelope(w http.ResponseWriter, status int, envelope api.StandardResponse, data any) {
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			http.Error(w, `{"status":"error","message":"encode response"}`, http.StatusInternalServerError)
			return
		}
		envelope.Data = raw
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		slog.Debug("write envelope failed", "error", err)
	}
}
