package socket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mkarlsen/repochat/internal/metrics"
)

// ErrNotConnected is returned by Emit while no live transport exists.
var ErrNotConnected = errors.New("socket: not connected")

// Options configures a connection.
type Options struct {
	// Path is appended to the endpoint for the WebSocket upgrade.
	Path string
	// Transports restricts the transport kinds; only "websocket" is supported.
	Transports []string
	// ReconnectAttempts bounds the silent redial loop after a drop.
	ReconnectAttempts int
	// ReconnectDelay is the fixed pause between redial attempts.
	ReconnectDelay time.Duration
	// HandshakeTimeout bounds dialing plus the hello frame read.
	HandshakeTimeout time.Duration
	// KeepaliveInterval spaces ping frames; zero disables keepalive.
	KeepaliveInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.Path == "" {
		o.Path = "/ws"
	}
	if len(o.Transports) == 0 {
		o.Transports = []string{"websocket"}
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 2 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
}

// Conn is one WebSocket connection to the server. All reads happen on the
// run goroutine; Emit may be called from any goroutine.
//
// The server's hello frame is consumed during the handshake, and the
// dispatcher sees a single synthesized connect event carrying its sid.
type Conn struct {
	wsURL      string
	opts       Options
	dispatcher *Dispatcher
	logger     *slog.Logger
	collector  *metrics.Collector

	mu         sync.Mutex
	ws         *websocket.Conn
	state      State
	closed     bool
	pingSentAt time.Time

	writeMu sync.Mutex
	done    chan struct{}
}

// newConn validates the configuration and builds the connection; start
// launches dialing asynchronously. An initial dial failure is not an
// error: the connection stays disconnected and retries silently up to
// Options.ReconnectAttempts.
func newConn(endpoint string, opts Options, logger *slog.Logger, collector *metrics.Collector) (*Conn, error) {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}

	for _, tr := range opts.Transports {
		if tr != "websocket" {
			return nil, fmt.Errorf("unsupported transport %q (only websocket)", tr)
		}
	}

	wsURL, err := toWebsocketURL(endpoint, opts.Path)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		wsURL:      wsURL,
		opts:       opts,
		dispatcher: NewDispatcher(logger),
		logger:     logger,
		collector:  collector,
		done:       make(chan struct{}),
	}
	return c, nil
}

// start launches the dial-and-serve loop. Handlers attached before start
// observe every lifecycle event, including an initial connect_error.
func (c *Conn) start() {
	go c.run()
}

// toWebsocketURL converts an http(s) endpoint to its ws(s) equivalent and
// appends the socket path.
func toWebsocketURL(endpoint, path string) (string, error) {
	wsEndpoint := endpoint
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String(), nil
}

// Dispatcher exposes the connection's event dispatcher.
func (c *Conn) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// State returns a copy of the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Emit sends an event frame to the server.
func (c *Conn) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.WriteJSON(Frame{Event: event, Data: data}); err != nil {
		return fmt.Errorf("write %s frame: %w", event, err)
	}
	return nil
}

// Close tears the connection down: the transport is closed, all handlers
// and subscribers are removed. Safe to call more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	ws := c.ws
	c.ws = nil
	c.state = State{}
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
	c.dispatcher.Reset()
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// run owns the connection lifecycle: initial dial, serving the read loop,
// and the bounded redial loop after drops.
func (c *Conn) run() {
	start := time.Now()
	ws, sid, err := c.dial()
	if err != nil {
		c.logger.Warn("initial connect failed", "url", c.wsURL, "error", err)
		c.emit(EventConnectError, ErrorPayload{Error: err.Error()})
		ws, sid, _ = c.redial()
		if ws == nil {
			return
		}
	} else {
		c.collector.RecordTiming(metrics.OpConnect, time.Since(start))
	}

	for {
		if !c.adopt(ws, sid) {
			ws.Close()
			return
		}
		c.emit(EventConnect, ConnectPayload{SID: sid})
		c.dispatcher.NotifyState(State{Connected: true, ConnectionID: sid})

		err := c.serve(ws)
		if c.isClosed() {
			return
		}
		c.logger.Info("connection lost", "url", c.wsURL, "error", err)
		c.dropState()
		c.emit(EventDisconnect, struct{}{})
		c.dispatcher.NotifyState(State{})

		var attempts int
		ws, sid, attempts = c.redial()
		if ws == nil {
			return
		}
		c.emit(EventReconnect, ReconnectPayload{SID: sid, Attempts: attempts})
	}
}

// dial opens the transport and consumes the hello frame.
func (c *Conn) dial() (*websocket.Conn, string, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.opts.HandshakeTimeout,
	}

	ws, _, err := dialer.Dial(c.wsURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("websocket connect: %w", err)
	}

	if err := ws.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout)); err != nil {
		ws.Close()
		return nil, "", fmt.Errorf("set read deadline: %w", err)
	}
	var f Frame
	if err := ws.ReadJSON(&f); err != nil {
		ws.Close()
		return nil, "", fmt.Errorf("read hello: %w", err)
	}
	if err := ws.SetReadDeadline(time.Time{}); err != nil {
		ws.Close()
		return nil, "", fmt.Errorf("clear read deadline: %w", err)
	}

	if f.Event != EventConnect {
		ws.Close()
		return nil, "", fmt.Errorf("expected %s hello, got %q", EventConnect, f.Event)
	}
	var hello ConnectPayload
	if err := json.Unmarshal(f.Data, &hello); err != nil {
		ws.Close()
		return nil, "", fmt.Errorf("decode hello: %w", err)
	}
	if hello.SID == "" {
		ws.Close()
		return nil, "", errors.New("hello frame missing sid")
	}
	return ws, hello.SID, nil
}

// redial retries dialing up to ReconnectAttempts with a fixed delay.
// Exhaustion returns nil: the connection stays disconnected and is not
// separately signaled.
func (c *Conn) redial() (*websocket.Conn, string, int) {
	for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
		select {
		case <-c.done:
			return nil, "", 0
		case <-time.After(c.opts.ReconnectDelay):
		}

		c.emit(EventReconnectAttempt, ReconnectAttemptPayload{Attempt: attempt})
		start := time.Now()
		ws, sid, err := c.dial()
		if err != nil {
			c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			c.emit(EventReconnectError, ErrorPayload{Error: err.Error()})
			continue
		}
		c.collector.RecordTiming(metrics.OpReconnect, time.Since(start))
		return ws, sid, attempt
	}
	c.logger.Warn("reconnect attempts exhausted", "url", c.wsURL, "attempts", c.opts.ReconnectAttempts)
	return nil, "", 0
}

// adopt installs a freshly dialed transport. Reports false if the
// connection was closed while dialing.
func (c *Conn) adopt(ws *websocket.Conn, sid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.ws = ws
	c.state = State{Connected: true, ConnectionID: sid}
	return true
}

func (c *Conn) dropState() {
	c.mu.Lock()
	c.ws = nil
	c.state = State{}
	c.mu.Unlock()
}

// serve reads frames until the transport breaks. Keepalive pings run on
// their own goroutine and stop with the read loop.
func (c *Conn) serve(ws *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	if c.opts.KeepaliveInterval > 0 {
		go c.keepalive(stop)
	}

	for {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			return err
		}
		if f.Event == EventPong {
			c.recordPong()
		}
		c.dispatcher.Dispatch(f.Event, f.Data)
	}
}

func (c *Conn) keepalive(stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.pingSentAt = time.Now()
			c.mu.Unlock()
			if err := c.Emit(EventPing, struct{}{}); err != nil {
				return
			}
		}
	}
}

func (c *Conn) recordPong() {
	c.mu.Lock()
	sentAt := c.pingSentAt
	c.pingSentAt = time.Time{}
	c.mu.Unlock()

	if !sentAt.IsZero() {
		c.collector.RecordTiming(metrics.OpPing, time.Since(sentAt))
	}
}

// emit dispatches a locally synthesized event.
func (c *Conn) emit(event string, payload any) {
	data, _ := json.Marshal(payload)
	c.dispatcher.Dispatch(event, data)
}
