package socket

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// State describes the connection at a point in time. ConnectionID is the
// server-assigned socket id; it changes on every reconnect.
type State struct {
	Connected    bool
	ConnectionID string
}

// Handler processes one decoded event payload.
type Handler func(data json.RawMessage)

// Dispatcher routes events to handlers and fans connection-state
// transitions out to subscribers.
//
// Handlers attach through HandleOnce: at most one handler per event name
// for the lifetime of the connection, so re-running wiring code never
// multiplies deliveries. Dispatch runs on the connection's single read
// loop, so handler invocations for one connection never overlap.
type Dispatcher struct {
	mu        sync.Mutex
	handlers  map[string]Handler
	receivers map[*StateReceiver]struct{}
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher. A nil logger falls back to
// slog.Default().
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers:  make(map[string]Handler),
		receivers: make(map[*StateReceiver]struct{}),
		logger:    logger,
	}
}

// HandleOnce attaches h for event unless a handler is already registered
// under that name. Reports whether h was attached.
func (d *Dispatcher) HandleOnce(event string, h Handler) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[event]; exists {
		d.logger.Debug("handler already attached, skipping", "event", event)
		return false
	}
	d.handlers[event] = h
	return true
}

// Dispatch invokes the handler registered for event, if any. The handler
// runs outside the dispatcher lock. Invoked by the transport read loop;
// one connection's events are always dispatched sequentially.
func (d *Dispatcher) Dispatch(event string, data json.RawMessage) {
	d.mu.Lock()
	h := d.handlers[event]
	d.mu.Unlock()

	if h == nil {
		d.logger.Debug("no handler for event", "event", event)
		return
	}
	h(data)
}

// Reset removes all handlers and closes all subscribers. Called on
// connection teardown.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers = make(map[string]Handler)
	for r := range d.receivers {
		close(r.ch)
	}
	d.receivers = make(map[*StateReceiver]struct{})
}

// StateReceiver delivers connection-state transitions over a channel.
type StateReceiver struct {
	ch chan State
	d  *Dispatcher
}

// Subscribe registers a state subscriber with the given channel buffer.
// Sends never block: a slow receiver misses intermediate transitions.
func (d *Dispatcher) Subscribe(buf int) *StateReceiver {
	if buf < 1 {
		buf = 1
	}
	r := &StateReceiver{ch: make(chan State, buf), d: d}

	d.mu.Lock()
	d.receivers[r] = struct{}{}
	d.mu.Unlock()
	return r
}

// States returns the channel transitions arrive on. The channel closes
// when the receiver or the connection is closed.
func (r *StateReceiver) States() <-chan State {
	return r.ch
}

// Close detaches the receiver and closes its channel. Safe to call more
// than once.
func (r *StateReceiver) Close() {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	if _, ok := r.d.receivers[r]; !ok {
		return
	}
	delete(r.d.receivers, r)
	close(r.ch)
}

// NotifyState pushes a transition to all subscribers without blocking.
// Invoked by the transport when the connection state changes.
func (d *Dispatcher) NotifyState(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for r := range d.receivers {
		select {
		case r.ch <- s:
		default:
			d.logger.Debug("state receiver full, dropping update")
		}
	}
}
