// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Stream metrics (only for streaming operations)
	TotalChunks int64
	TotalBytes  int64
	MinChunks   int64
	MaxChunks   int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`

	// Stream stats (nil if not applicable)
	TotalChunks *int64   `json:"total_chunks,omitempty"`
	TotalBytes  *int64   `json:"total_bytes,omitempty"`
	AvgChunks   *float64 `json:"avg_chunks,omitempty"`
	AvgBytes    *float64 `json:"avg_bytes,omitempty"`
	MinChunks   *int64   `json:"min_chunks,omitempty"`
	MaxChunks   *int64   `json:"max_chunks,omitempty"`
}

// Snapshot represents the full client statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptime_seconds"`
	Connect       *OperationSnapshot `json:"connect,omitempty"`
	Reconnect     *OperationSnapshot `json:"reconnect,omitempty"`
	Trigger       *OperationSnapshot `json:"trigger,omitempty"`
	QueryStream   *OperationSnapshot `json:"query_stream,omitempty"`
	RoomJoin      *OperationSnapshot `json:"room_join,omitempty"`
	Ping          *OperationSnapshot `json:"ping,omitempty"`
}

// Operation names for the collector.
const (
	OpConnect     = "ws_connect"
	OpReconnect   = "ws_reconnect"
	OpTrigger     = "trigger"
	OpQueryStream = "query_stream"
	OpRoomJoin    = "room_join"
	OpPing        = "ping"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{
			MinTime:   time.Duration(math.MaxInt64),
			MinChunks: math.MaxInt64,
		}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordStreamUsage records timing plus chunk and byte counts for a
// streamed response.
func (c *Collector) RecordStreamUsage(op string, duration time.Duration, chunks, bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}

	m.TotalChunks += chunks
	m.TotalBytes += bytes

	if chunks < m.MinChunks {
		m.MinChunks = chunks
	}
	if chunks > m.MaxChunks {
		m.MaxChunks = chunks
	}
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics, includeStream bool) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}

	if includeStream && (m.TotalChunks > 0 || m.TotalBytes > 0) {
		totalChunks := m.TotalChunks
		totalBytes := m.TotalBytes
		avgChunks := float64(m.TotalChunks) / float64(m.Count)
		avgBytes := float64(m.TotalBytes) / float64(m.Count)
		minChunks := m.MinChunks
		maxChunks := m.MaxChunks

		// Reset sentinel values for display
		if minChunks == math.MaxInt64 {
			minChunks = 0
		}

		snap.TotalChunks = &totalChunks
		snap.TotalBytes = &totalBytes
		snap.AvgChunks = &avgChunks
		snap.AvgBytes = &avgBytes
		snap.MinChunks = &minChunks
		snap.MaxChunks = &maxChunks
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Connect:       snapshotOp(c.ops[OpConnect], false),
		Reconnect:     snapshotOp(c.ops[OpReconnect], false),
		Trigger:       snapshotOp(c.ops[OpTrigger], false),
		QueryStream:   snapshotOp(c.ops[OpQueryStream], true),
		RoomJoin:      snapshotOp(c.ops[OpRoomJoin], false),
		Ping:          snapshotOp(c.ops[OpPing], false),
	}
}
