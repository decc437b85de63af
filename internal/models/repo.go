package models

import "time"

// IngestStatus reports where a repository is in the server-side ingestion pipeline.
type IngestStatus string

const (
	IngestQueued    IngestStatus = "queued"
	IngestStarted   IngestStatus = "started"
	IngestCompleted IngestStatus = "completed"
	IngestFailed    IngestStatus = "failed"
)

// Repo describes an ingested repository known to the server.
type Repo struct {
	ID         string       `json:"repo_id"`
	GithubURL  string       `json:"github_url"`
	Name       string       `json:"name"`
	Status     IngestStatus `json:"status"`
	IngestedAt time.Time    `json:"ingested_at"`
	LastUsedAt time.Time    `json:"last_used_at"`
}

// NodeType distinguishes entries in a repository code tree.
type NodeType string

const (
	NodeFolder NodeType = "folder"
	NodeFile   NodeType = "file"
)

// TreeNode is one entry in the code tree returned by the server.
// Folders carry Children, files carry Ext.
type TreeNode struct {
	Name     string     `json:"name"`
	Type     NodeType   `json:"type"`
	Ext      string     `json:"ext,omitempty"`
	Children []TreeNode `json:"children,omitempty"`
}

// CountFiles returns the number of file nodes in the subtree rooted at n.
func (n TreeNode) CountFiles() int {
	if n.Type == NodeFile {
		return 1
	}
	total := 0
	for _, c := range n.Children {
		total += c.CountFiles()
	}
	return total
}

// Mode selects the answer model on the server.
type Mode string

const (
	// ModeFast routes the query to the small low-latency model.
	ModeFast Mode = "fast"
	// ModeAccurate routes the query to the large coding model.
	ModeAccurate Mode = "accurate"
)

// Valid reports whether m is a mode the server understands.
func (m Mode) Valid() bool {
	return m == ModeFast || m == ModeAccurate
}

// ModelName returns the server-side model a mode maps to. Unknown modes
// fall back to the fast model, matching the server's behavior.
func (m Mode) ModelName() string {
	switch m {
	case ModeAccurate:
		return "qwen3-480b-coder"
	default:
		return "llama-3.1-8b"
	}
}
