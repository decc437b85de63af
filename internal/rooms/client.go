// Package rooms manages repository room membership: the server only
// streams answer chunks to sockets that joined the repository's room.
package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mkarlsen/repochat/internal/socket"
)

// ErrDisconnected rejects room operations while the transport is down.
var ErrDisconnected = errors.New("rooms: not connected")

// roomAPI is the HTTP side of room membership, implemented by
// *api.Client.
type roomAPI interface {
	JoinRoom(ctx context.Context, socketID, repoID string) error
	LeaveRoom(ctx context.Context, socketID, repoID string) error
}

// transport exposes the connection pieces membership depends on,
// implemented by *socket.Conn.
type transport interface {
	State() socket.State
	Emit(event string, payload any) error
	Dispatcher() *socket.Dispatcher
}

// Client tracks which repository rooms this connection has joined.
// Membership is bound to one server-assigned connection id: a disconnect
// voids it, and a reconnect does not rejoin. Callers re-join explicitly
// once the connection is back.
type Client struct {
	api    roomAPI
	conn   transport
	logger *slog.Logger

	mu sync.Mutex
	// rooms maps repo id to the connection id the join was issued under.
	rooms map[string]string

	stateRecv *socket.StateReceiver
	closeOnce sync.Once
}

// NewClient wires the membership tracker to the connection. The
// joined_repo confirmation handler attaches through HandleOnce, so build
// one room client per connection.
func NewClient(conn transport, api roomAPI, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		api:    api,
		conn:   conn,
		logger: logger,
		rooms:  make(map[string]string),
	}

	d := conn.Dispatcher()
	d.HandleOnce(socket.EventJoinedRepo, c.handleJoined)

	c.stateRecv = d.Subscribe(4)
	go c.watchConnection()

	return c
}

// Join enters the repository's room. The socket-level announcement is
// fire-and-forget; the HTTP call is the authority, and only its success
// records membership.
func (c *Client) Join(ctx context.Context, repoID string) error {
	state := c.conn.State()
	if !state.Connected || state.ConnectionID == "" {
		return ErrDisconnected
	}

	if err := c.conn.Emit(socket.EventJoinRepo, socket.RoomPayload{RepoID: repoID}); err != nil {
		c.logger.Warn("join_repo emit failed", "error", err, "repo_id", repoID)
	}

	if err := c.api.JoinRoom(ctx, state.ConnectionID, repoID); err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	c.mu.Lock()
	c.rooms[repoID] = state.ConnectionID
	c.mu.Unlock()

	c.logger.Info("joined repository room", "repo_id", repoID, "socket_id", state.ConnectionID)
	return nil
}

// Leave exits the repository's room and clears the membership record.
func (c *Client) Leave(ctx context.Context, repoID string) error {
	state := c.conn.State()
	if !state.Connected || state.ConnectionID == "" {
		return ErrDisconnected
	}

	if err := c.conn.Emit(socket.EventLeaveRepo, socket.RoomPayload{RepoID: repoID}); err != nil {
		c.logger.Warn("leave_repo emit failed", "error", err, "repo_id", repoID)
	}

	if err := c.api.LeaveRoom(ctx, state.ConnectionID, repoID); err != nil {
		return fmt.Errorf("leave room: %w", err)
	}

	c.mu.Lock()
	delete(c.rooms, repoID)
	c.mu.Unlock()

	c.logger.Info("left repository room", "repo_id", repoID, "socket_id", state.ConnectionID)
	return nil
}

// Joined reports whether the repository's room membership is live.
func (c *Client) Joined(repoID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[repoID]
	return ok
}

// Rooms returns the repo ids of all live memberships.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for repoID := range c.rooms {
		out = append(out, repoID)
	}
	return out
}

// Close detaches the client from connection-state updates.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.stateRecv.Close()
	})
}

// watchConnection voids all memberships when the connection drops. The
// server forgets room assignments with the socket, so the local record
// must not outlive it.
func (c *Client) watchConnection() {
	for state := range c.stateRecv.States() {
		if state.Connected {
			continue
		}
		c.mu.Lock()
		n := len(c.rooms)
		c.rooms = make(map[string]string)
		c.mu.Unlock()
		if n > 0 {
			c.logger.Info("connection lost, room memberships cleared", "rooms", n)
		}
	}
}

func (c *Client) handleJoined(data json.RawMessage) {
	var p socket.JoinedRepoPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.logger.Warn("malformed joined_repo payload", "error", err)
		return
	}
	c.logger.Debug("room join confirmed", "repo_id", p.RepoID, "message", p.Message)
}
