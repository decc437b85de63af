package socket

import (
	"log/slog"
	"sync"

	"github.com/mkarlsen/repochat/internal/metrics"
)

// Registry hands out refcounted handles to at most one live connection
// per process. All consumers of the same endpoint share one transport;
// the connection closes when the last handle releases it.
type Registry struct {
	logger    *slog.Logger
	collector *metrics.Collector

	mu       sync.Mutex
	endpoint string
	conn     *Conn
	refs     int
}

// NewRegistry creates a registry. Nil logger and collector fall back to
// slog.Default() and a fresh collector.
func NewRegistry(logger *slog.Logger, collector *metrics.Collector) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}
	return &Registry{logger: logger, collector: collector}
}

// Handle is one consumer's reference to the shared connection.
type Handle struct {
	registry *Registry
	conn     *Conn
	released bool
}

// Acquire returns a handle to the live connection for endpoint, creating
// it if needed. Acquiring a different endpoint tears the previous
// connection down first, regardless of its refcount; that is the one
// documented override of refcounted teardown. Errors only on invalid
// configuration — dialing happens asynchronously.
func (r *Registry) Acquire(endpoint string, opts Options) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil && r.endpoint == endpoint {
		r.refs++
		r.logger.Debug("reusing shared connection", "endpoint", endpoint, "refs", r.refs)
		return &Handle{registry: r, conn: r.conn}, nil
	}

	if r.conn != nil {
		r.logger.Info("endpoint changed, tearing down previous connection",
			"old", r.endpoint, "new", endpoint, "orphaned_refs", r.refs)
		r.conn.Close()
		r.conn = nil
		r.refs = 0
	}

	conn, err := newConn(endpoint, opts, r.logger, r.collector)
	if err != nil {
		return nil, err
	}
	conn.start()
	r.endpoint = endpoint
	r.conn = conn
	r.refs = 1
	r.logger.Debug("created shared connection", "endpoint", endpoint)
	return &Handle{registry: r, conn: conn}, nil
}

// Conn returns the shared connection behind the handle. The connection
// outlives transport drops; it is only closed by the registry.
func (h *Handle) Conn() *Conn {
	return h.conn
}

// Release drops this handle's reference. The connection closes when the
// refcount reaches zero. Releasing twice is a no-op, as is releasing a
// handle orphaned by an endpoint switch.
func (h *Handle) Release() {
	r := h.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.released {
		return
	}
	h.released = true

	if r.conn != h.conn {
		return
	}

	r.refs--
	if r.refs > 0 {
		r.logger.Debug("released shared connection", "endpoint", r.endpoint, "refs", r.refs)
		return
	}
	r.logger.Debug("last handle released, closing connection", "endpoint", r.endpoint)
	r.conn.Close()
	r.conn = nil
	r.endpoint = ""
	r.refs = 0
}
