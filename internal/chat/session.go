package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mkarlsen/repochat/internal/metrics"
	"github.com/mkarlsen/repochat/internal/models"
	"github.com/mkarlsen/repochat/internal/socket"
)

// Submission guards beyond the correlator's own validation.
var (
	ErrDisconnected = errors.New("chat: transport not connected")
	ErrNoRepo       = errors.New("chat: no repository selected")
)

// Trigger is the HTTP side of the dual-channel submission.
type Trigger interface {
	TriggerProcessing(ctx context.Context, repoID, query string, mode models.Mode, socketID string) error
}

// transport is the socket side: implemented by *socket.Conn.
type transport interface {
	State() socket.State
	Emit(event string, payload any) error
	Dispatcher() *socket.Dispatcher
}

// Session owns one conversation with the assistant about one repository:
// the message history, the submission guards, the phase state machine,
// and the wiring of stream events into the accumulator.
//
// Run one session per connection. Stream handlers attach through
// HandleOnce, so a second session on the same connection would never see
// events; StartNewChat resets the conversation in place instead.
type Session struct {
	logger  *slog.Logger
	trigger Trigger
	conn    transport
	corr    *Correlator
	acc     *Accumulator
	repoID  string

	mu       sync.Mutex
	mode     models.Mode
	messages []models.Message
	phase    Phase
	subs     map[*Subscription]struct{}

	stateRecv *socket.StateReceiver
	closeOnce sync.Once
}

// Options configures a session.
type Options struct {
	// Mode selects the answer model; defaults to accurate.
	Mode models.Mode
	// DedupeWindow suppresses byte-identical resubmission; negative
	// falls back to DefaultDedupeWindow.
	DedupeWindow time.Duration
	// Collector receives query_stream usage metrics.
	Collector *metrics.Collector
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewSession creates the session and attaches its stream handlers to the
// connection's dispatcher.
func NewSession(conn transport, trigger Trigger, repoID string, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if !opts.Mode.Valid() {
		opts.Mode = models.ModeAccurate
	}

	corr := NewCorrelator(opts.DedupeWindow)
	s := &Session{
		logger:  opts.Logger,
		trigger: trigger,
		conn:    conn,
		corr:    corr,
		acc:     NewAccumulator(corr, opts.Collector),
		repoID:  repoID,
		mode:    opts.Mode,
		phase:   PhaseIdle,
		subs:    make(map[*Subscription]struct{}),
	}

	d := conn.Dispatcher()
	d.HandleOnce(socket.EventQueryChunk, s.handleChunk)
	d.HandleOnce(socket.EventQueryComplete, s.handleComplete)
	d.HandleOnce(socket.EventQueryError, s.handleError)

	s.stateRecv = d.Subscribe(4)
	go s.watchConnection()

	return s
}

// Submit sends one user query. Validation rejections (busy, empty,
// duplicate) come back as sentinel errors and leave no trace in the
// history. On acceptance the user message is appended, the query is
// announced on the socket channel, and the awaited HTTP trigger starts
// processing. A failed trigger surfaces as the fallback assistant
// message so the user is never left waiting on nothing.
func (s *Session) Submit(ctx context.Context, text string) error {
	state := s.conn.State()
	if !state.Connected {
		return ErrDisconnected
	}
	if s.repoID == "" {
		return ErrNoRepo
	}

	if _, err := s.corr.Begin(text); err != nil {
		return err
	}

	s.mu.Lock()
	mode := s.mode
	s.messages = append(s.messages, models.NewMessage(models.RoleUser, text))
	s.phase = PhaseSubmitting
	s.mu.Unlock()
	s.notify()

	s.logger.Info("query submitted", "repo_id", s.repoID, "mode", mode, "socket_id", state.ConnectionID)

	// Socket announcement is fire-and-forget; the HTTP trigger below is
	// the authoritative channel.
	if err := s.conn.Emit(socket.EventQueryStart, socket.QueryStartPayload{
		RepoID: s.repoID,
		Query:  text,
		Mode:   string(mode),
	}); err != nil {
		s.logger.Warn("query_start emit failed", "error", err)
	}

	if err := s.trigger.TriggerProcessing(ctx, s.repoID, text, mode, state.ConnectionID); err != nil {
		s.logger.Error("processing trigger failed", "error", err, "repo_id", s.repoID)
		s.failStream("trigger failed")
		return fmt.Errorf("trigger processing: %w", err)
	}
	return nil
}

// StartNewChat clears the history, the pending request, and the phase.
// The shared connection stays open.
func (s *Session) StartNewChat() {
	s.corr.Reset()
	s.acc.Reset()

	s.mu.Lock()
	s.messages = nil
	s.phase = PhaseIdle
	s.mu.Unlock()
	s.notify()

	s.logger.Info("started new chat", "repo_id", s.repoID)
}

// Close detaches the session from connection-state updates and closes
// all subscriptions. The connection itself is owned by the registry.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.stateRecv.Close()

		s.mu.Lock()
		subs := s.subs
		s.subs = make(map[*Subscription]struct{})
		s.mu.Unlock()
		for sub := range subs {
			close(sub.ch)
		}
	})
}

// Messages returns a copy of the history in submission order.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Loading reports whether a request is in flight.
func (s *Session) Loading() bool {
	return s.Phase().Loading()
}

// Streaming reports whether response chunks are arriving.
func (s *Session) Streaming() bool {
	return s.Phase().Streaming()
}

// Connected reports the transport state.
func (s *Session) Connected() bool {
	return s.conn.State().Connected
}

// ConnectionID returns the server-assigned socket id, empty while
// disconnected.
func (s *Session) ConnectionID() string {
	return s.conn.State().ConnectionID
}

// RepoID returns the repository this session converses about.
func (s *Session) RepoID() string {
	return s.repoID
}

// Mode returns the answer mode used for the next submission.
func (s *Session) Mode() models.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode changes the answer mode for subsequent submissions.
func (s *Session) SetMode(mode models.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown mode %q", mode)
	}
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	s.notify()
	return nil
}

// Subscription signals that the session's observable state changed; pull
// the new state through the accessors.
type Subscription struct {
	ch chan struct{}
	s  *Session
}

// Subscribe registers an update subscriber. Sends never block; a slow
// receiver coalesces updates.
func (s *Session) Subscribe(buf int) *Subscription {
	if buf < 1 {
		buf = 1
	}
	sub := &Subscription{ch: make(chan struct{}, buf), s: s}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

// Updates returns the signal channel. It closes when the subscription or
// the session is closed.
func (sub *Subscription) Updates() <-chan struct{} {
	return sub.ch
}

// Close detaches the subscription. Safe to call more than once.
func (sub *Subscription) Close() {
	s := sub.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub]; !ok {
		return
	}
	delete(s.subs, sub)
	close(sub.ch)
}

func (s *Session) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		select {
		case sub.ch <- struct{}{}:
		default:
		}
	}
}

// watchConnection forwards transport state changes to subscribers. A
// drop does not touch the history or the pending request: transport
// errors are never escalated into the conversation.
func (s *Session) watchConnection() {
	for range s.stateRecv.States() {
		s.notify()
	}
}

func (s *Session) handleChunk(data json.RawMessage) {
	var p socket.ChunkPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("malformed query_chunk payload", "error", err)
		return
	}

	msg, ok := s.acc.OnChunk(p.Text)
	if !ok {
		s.logger.Debug("dropping stray chunk, no request pending")
		return
	}

	s.mu.Lock()
	s.upsertLocked(msg)
	s.phase = PhaseStreaming
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handleComplete(data json.RawMessage) {
	var p socket.CompletePayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("malformed query_complete payload", "error", err)
		return
	}

	msg, ok := s.acc.OnComplete(p.Text)
	if !ok {
		s.logger.Debug("dropping stray completion, no request pending")
		return
	}

	s.mu.Lock()
	s.phase = PhaseFinalizing
	s.upsertLocked(msg)
	s.mu.Unlock()
	s.notify()

	s.mu.Lock()
	s.phase = PhaseIdle
	s.mu.Unlock()
	s.notify()

	s.logger.Info("response complete", "repo_id", s.repoID, "chars", len(p.Text))
}

func (s *Session) handleError(data json.RawMessage) {
	var p socket.QueryErrorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("malformed query_error payload", "error", err)
	}
	s.logger.Warn("query failed", "error", p.Error, "repo_id", p.RepoID)
	s.failStream(p.Error)
}

// failStream finalizes the pending request with the fallback message.
func (s *Session) failStream(reason string) {
	msg, ok := s.acc.OnError()
	if !ok {
		return
	}

	s.mu.Lock()
	s.upsertLocked(msg)
	s.phase = PhaseIdle
	s.mu.Unlock()
	s.notify()

	s.logger.Debug("stream finalized with fallback", "reason", reason)
}

// upsertLocked replaces the message with the same id or appends it.
// Caller must hold s.mu.
func (s *Session) upsertLocked(msg models.Message) {
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			s.messages[i] = msg
			return
		}
	}
	s.messages = append(s.messages, msg)
}
