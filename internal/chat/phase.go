// Package chat implements the streaming conversation session: request
// correlation, answer reconstruction from chunk events, and the message
// history.
package chat

// Phase is the session's position in the request lifecycle. Exactly one
// request is in flight at a time; Submit is accepted only while Idle.
type Phase string

const (
	// PhaseIdle means no request is in flight.
	PhaseIdle Phase = "idle"
	// PhaseSubmitting covers the span from an accepted submission until
	// the first response chunk.
	PhaseSubmitting Phase = "submitting"
	// PhaseStreaming means response chunks are arriving.
	PhaseStreaming Phase = "streaming"
	// PhaseFinalizing covers the commit of a completed response into the
	// history.
	PhaseFinalizing Phase = "finalizing"
)

// Loading reports whether a request is in flight in any stage.
func (p Phase) Loading() bool {
	return p != PhaseIdle
}

// Streaming reports whether response chunks are currently arriving.
func (p Phase) Streaming() bool {
	return p == PhaseStreaming
}
