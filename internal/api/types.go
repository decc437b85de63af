package api

import (
	"encoding/json"

	"github.com/mkarlsen/repochat/internal/models"
)

// StandardResponse is the envelope every server endpoint replies with.
type StandardResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Envelope status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// TriggerRequest starts server-side processing of a query whose answer
// streams back over the socket identified by SocketID.
type TriggerRequest struct {
	RepoID   string `json:"repo_id"`
	Query    string `json:"query"`
	Mode     string `json:"mode"`
	SocketID string `json:"socket_id"`
}

// RoomRequest joins or leaves a repository room.
type RoomRequest struct {
	SocketID string `json:"socket_id"`
	RepoID   string `json:"repo_id"`
}

// IngestRequest asks the server to clone and index a repository.
type IngestRequest struct {
	GithubURL string `json:"github_url"`
}

// IngestData is the ingest response payload.
type IngestData struct {
	RepoID string              `json:"repo_id"`
	Status models.IngestStatus `json:"status"`
}

// TreeRequest asks for the code tree of a repository.
type TreeRequest struct {
	GithubURL string `json:"github_url"`
}

// TreeData is the code-tree response payload.
type TreeData struct {
	RepoID string          `json:"repo_id"`
	Tree   models.TreeNode `json:"tree"`
}

// DiagramData is the architecture-diagram response payload. Diagram is
// Mermaid source, normalized to start with "graph".
type DiagramData struct {
	RepoID  string `json:"repo_id"`
	Diagram string `json:"diagram"`
}

// QueryRequest is a one-shot, non-streaming question.
type QueryRequest struct {
	RepoID string `json:"repo_id"`
	Query  string `json:"query"`
	Mode   string `json:"mode,omitempty"`
}

// AnswerData is the one-shot answer payload.
type AnswerData struct {
	Answer string `json:"answer"`
}
