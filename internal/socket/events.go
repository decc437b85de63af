// Package socket maintains the shared WebSocket connection to the repochat
// server, dispatches its events, and synthesizes connection lifecycle
// events (connect, disconnect, reconnect) for subscribers.
package socket

import "encoding/json"

// Frame is the JSON envelope every message on the wire uses.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Events delivered to handlers. The connect/disconnect/reconnect family is
// synthesized locally by the transport; the rest arrive from the server.
const (
	EventConnect          = "connect"
	EventDisconnect       = "disconnect"
	EventConnectError     = "connect_error"
	EventReconnect        = "reconnect"
	EventReconnectAttempt = "reconnect_attempt"
	EventReconnectError   = "reconnect_error"
	EventPong             = "pong"
	EventQueryChunk       = "query_chunk"
	EventQueryComplete    = "query_complete"
	EventQueryError       = "query_error"
	EventJoinedRepo       = "joined_repo"
)

// Events emitted to the server.
const (
	EventQueryStart = "query_start"
	EventPing       = "ping"
	EventJoinRepo   = "join_repo"
	EventLeaveRepo  = "leave_repo"
)

// ConnectPayload is the hello payload carrying the server-assigned
// connection id.
type ConnectPayload struct {
	SID string `json:"sid"`
}

// ReconnectPayload reports a successful reconnect and how many attempts
// it took.
type ReconnectPayload struct {
	SID      string `json:"sid"`
	Attempts int    `json:"attempts"`
}

// ReconnectAttemptPayload precedes each reconnect attempt.
type ReconnectAttemptPayload struct {
	Attempt int `json:"attempt"`
}

// ErrorPayload carries a transport-level error message.
type ErrorPayload struct {
	Error string `json:"error"`
}

// PongPayload is the server's reply to a ping.
type PongPayload struct {
	Message string `json:"message"`
}

// ChunkPayload is one incremental piece of a streamed answer.
type ChunkPayload struct {
	Text string `json:"text"`
}

// CompletePayload carries the canonical full answer text.
type CompletePayload struct {
	Text string `json:"text"`
}

// QueryErrorPayload reports a failed query for a repository.
type QueryErrorPayload struct {
	Error  string `json:"error"`
	RepoID string `json:"repo_id"`
}

// JoinedRepoPayload confirms a room join.
type JoinedRepoPayload struct {
	RepoID  string `json:"repo_id"`
	Message string `json:"message"`
}

// QueryStartPayload announces a query over the socket channel.
type QueryStartPayload struct {
	RepoID string `json:"repo_id"`
	Query  string `json:"query"`
	Mode   string `json:"mode"`
}

// RoomPayload addresses a repository room.
type RoomPayload struct {
	RepoID string `json:"repo_id"`
}
