package chat

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Validation sentinels returned by Begin. Callers treat them as silent
// no-ops: nothing is appended to the history and nothing is emitted.
var (
	ErrBusy      = errors.New("chat: request already in flight")
	ErrEmpty     = errors.New("chat: empty query")
	ErrDuplicate = errors.New("chat: duplicate query inside suppression window")
)

// DefaultDedupeWindow suppresses byte-identical resubmission. Guards
// against double-fire from rapid repeated key events.
const DefaultDedupeWindow = 1000 * time.Millisecond

// pendingRequest correlates the single in-flight submission with the
// id-less stream events answering it.
type pendingRequest struct {
	AssistantMessageID string
	Text               string
	SubmittedAt        time.Time
}

// Correlator enforces one in-flight request and mints the assistant
// message id each submission streams into. Correlation is positional:
// stream events carry no request id, so whatever is pending is what they
// belong to.
type Correlator struct {
	mu      sync.Mutex
	window  time.Duration
	pending *pendingRequest

	// Retained past End so the suppression window spans finalized
	// requests.
	lastText string
	lastAt   time.Time
}

// NewCorrelator creates a correlator with the given suppression window.
// A negative window falls back to DefaultDedupeWindow; zero disables
// suppression.
func NewCorrelator(window time.Duration) *Correlator {
	if window < 0 {
		window = DefaultDedupeWindow
	}
	return &Correlator{window: window}
}

// Begin validates text and registers the pending request, returning the
// minted assistant message id.
func (c *Correlator) Begin(text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != nil {
		return "", ErrBusy
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmpty
	}
	now := time.Now()
	if text == c.lastText && now.Sub(c.lastAt) < c.window {
		return "", ErrDuplicate
	}

	id := uuid.New().String()
	c.pending = &pendingRequest{
		AssistantMessageID: id,
		Text:               text,
		SubmittedAt:        now,
	}
	c.lastText = text
	c.lastAt = now
	return id, nil
}

// End clears the pending request after completion or error. The
// last-submission record survives.
func (c *Correlator) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
}

// Pending returns the in-flight request, if any.
func (c *Correlator) Pending() (pendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return pendingRequest{}, false
	}
	return *c.pending, true
}

// InFlight reports whether a request is pending.
func (c *Correlator) InFlight() bool {
	_, ok := c.Pending()
	return ok
}

// Reset drops the pending request and the suppression record. Used by a
// full session reset.
func (c *Correlator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
	c.lastText = ""
	c.lastAt = time.Time{}
}
