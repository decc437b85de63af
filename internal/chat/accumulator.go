package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/mkarlsen/repochat/internal/metrics"
	"github.com/mkarlsen/repochat/internal/models"
)

// FallbackErrorText replaces any partial content when processing fails.
// The partial answer is never preserved: a half-generated response is
// worse than an honest failure.
const FallbackErrorText = "Something went wrong while generating the response. Please try again."

// Accumulator rebuilds one assistant message from ordered chunk events
// and finalizes it on completion or error. Events arriving with no
// pending request are stray leftovers of an already-finalized stream and
// are dropped.
type Accumulator struct {
	corr      *Correlator
	collector *metrics.Collector

	mu     sync.Mutex
	buffer strings.Builder
	chunks int64
	bytes  int64
}

// NewAccumulator creates an accumulator over the correlator's pending
// request. A nil collector falls back to a fresh one.
func NewAccumulator(corr *Correlator, collector *metrics.Collector) *Accumulator {
	if collector == nil {
		collector = metrics.NewCollector()
	}
	return &Accumulator{corr: corr, collector: collector}
}

// OnChunk appends one chunk and returns the updated draft message.
// Reports false when no request is pending.
func (a *Accumulator) OnChunk(text string) (models.Message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.corr.Pending()
	if !ok {
		return models.Message{}, false
	}

	a.buffer.WriteString(text)
	a.chunks++
	a.bytes += int64(len(text))

	return models.Message{
		ID:        p.AssistantMessageID,
		Role:      models.RoleAssistant,
		Content:   a.buffer.String(),
		CreatedAt: p.SubmittedAt,
	}, true
}

// OnComplete finalizes the pending message with the server-canonical
// text, which supersedes the local accumulation. A completion with no
// preceding chunks still produces the message.
func (a *Accumulator) OnComplete(finalText string) (models.Message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.corr.Pending()
	if !ok {
		return models.Message{}, false
	}

	msg := models.Message{
		ID:        p.AssistantMessageID,
		Role:      models.RoleAssistant,
		Content:   finalText,
		CreatedAt: p.SubmittedAt,
		Final:     true,
	}
	a.collector.RecordStreamUsage(metrics.OpQueryStream, time.Since(p.SubmittedAt), a.chunks, a.bytes)
	a.resetLocked()
	a.corr.End()
	return msg, true
}

// OnError finalizes the pending message with the fixed fallback text,
// discarding any partial content.
func (a *Accumulator) OnError() (models.Message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.corr.Pending()
	if !ok {
		return models.Message{}, false
	}

	msg := models.Message{
		ID:        p.AssistantMessageID,
		Role:      models.RoleAssistant,
		Content:   FallbackErrorText,
		CreatedAt: p.SubmittedAt,
		Final:     true,
	}
	a.resetLocked()
	a.corr.End()
	return msg, true
}

// Buffer returns the text accumulated so far for the in-flight request.
func (a *Accumulator) Buffer() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buffer.String()
}

// Reset clears the local accumulation. Used by a full session reset.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

func (a *Accumulator) resetLocked() {
	a.buffer.Reset()
	a.chunks = 0
	a.bytes = 0
}
