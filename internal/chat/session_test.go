package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarlsen/repochat/internal/models"
	"github.com/mkarlsen/repochat/internal/socket"
)

type fakeTransport struct {
	d *socket.Dispatcher

	mu       sync.Mutex
	state    socket.State
	emitErr  error
	emitted  []string
	payloads []any
}

func newFakeTransport(connected bool) *fakeTransport {
	state := socket.State{}
	if connected {
		state = socket.State{Connected: true, ConnectionID: "sid-test"}
	}
	return &fakeTransport{
		d:     socket.NewDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil))),
		state: state,
	}
}

func (f *fakeTransport) State() socket.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emitted = append(f.emitted, event)
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeTransport) Dispatcher() *socket.Dispatcher { return f.d }

func (f *fakeTransport) setConnected(connected bool, sid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = socket.State{Connected: connected, ConnectionID: sid}
}

func (f *fakeTransport) emissions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.emitted))
	copy(out, f.emitted)
	return out
}

type stubTrigger struct {
	mu    sync.Mutex
	err   error
	calls []triggerCall
}

type triggerCall struct {
	RepoID, Query, SocketID string
	Mode                    models.Mode
}

func (s *stubTrigger) TriggerProcessing(_ context.Context, repoID, query string, mode models.Mode, socketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, triggerCall{RepoID: repoID, Query: query, SocketID: socketID, Mode: mode})
	return nil
}

func (s *stubTrigger) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func newTestSession(t *testing.T, window time.Duration) (*Session, *fakeTransport, *stubTrigger) {
	t.Helper()
	ft := newFakeTransport(true)
	trig := &stubTrigger{}
	s := NewSession(ft, trig, "a1b2c3d4e5f6a7b8c9d0", Options{
		DedupeWindow: window,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(s.Close)
	return s, ft, trig
}

func TestSubmitStreamsToCompletion(t *testing.T) {
	s, ft, trig := newTestSession(t, 0)

	require.NoError(t, s.Submit(context.Background(), "how are routes registered?"))
	require.Equal(t, PhaseSubmitting, s.Phase())

	require.Len(t, trig.calls, 1)
	assert.Equal(t, "a1b2c3d4e5f6a7b8c9d0", trig.calls[0].RepoID)
	assert.Equal(t, "how are routes registered?", trig.calls[0].Query)
	assert.Equal(t, models.ModeAccurate, trig.calls[0].Mode)
	assert.Equal(t, "sid-test", trig.calls[0].SocketID)

	require.Equal(t, []string{socket.EventQueryStart}, ft.emissions())

	chunks := []string{"Routes are ", "registered in ", "the router setup."}
	want := ""
	for _, chunk := range chunks {
		want += chunk
		ft.d.Dispatch(socket.EventQueryChunk, mustJSON(t, socket.ChunkPayload{Text: chunk}))

		msgs := s.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, want, msgs[1].Content)
		assert.False(t, msgs[1].Final)
		assert.Equal(t, PhaseStreaming, s.Phase())
	}

	ft.d.Dispatch(socket.EventQueryComplete, mustJSON(t, socket.CompletePayload{Text: want}))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "how are routes registered?", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, want, msgs[1].Content)
	assert.True(t, msgs[1].Final)
	assert.Equal(t, PhaseIdle, s.Phase())
	assert.False(t, s.Loading())
}

func TestCanonicalCompletionTextWins(t *testing.T) {
	s, ft, _ := newTestSession(t, 0)

	require.NoError(t, s.Submit(context.Background(), "question"))
	ft.d.Dispatch(socket.EventQueryChunk, mustJSON(t, socket.ChunkPayload{Text: "truncated par"}))
	ft.d.Dispatch(socket.EventQueryComplete, mustJSON(t, socket.CompletePayload{Text: "the full server-side answer"}))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "the full server-side answer", msgs[1].Content)
}

func TestCompletionWithoutChunks(t *testing.T) {
	s, ft, _ := newTestSession(t, 0)

	require.NoError(t, s.Submit(context.Background(), "question"))
	ft.d.Dispatch(socket.EventQueryComplete, mustJSON(t, socket.CompletePayload{Text: "immediate answer"}))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "immediate answer", msgs[1].Content)
	assert.True(t, msgs[1].Final)
	assert.Equal(t, PhaseIdle, s.Phase())
}

func TestSubmitGuards(t *testing.T) {
	t.Run("disconnected", func(t *testing.T) {
		ft := newFakeTransport(false)
		s := NewSession(ft, &stubTrigger{}, "a1b2c3d4e5f6a7b8c9d0", Options{
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
		t.Cleanup(s.Close)

		err := s.Submit(context.Background(), "question")
		assert.ErrorIs(t, err, ErrDisconnected)
		assert.Empty(t, s.Messages())
	})

	t.Run("no repo", func(t *testing.T) {
		ft := newFakeTransport(true)
		s := NewSession(ft, &stubTrigger{}, "", Options{
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
		t.Cleanup(s.Close)

		err := s.Submit(context.Background(), "question")
		assert.ErrorIs(t, err, ErrNoRepo)
	})

	t.Run("empty text", func(t *testing.T) {
		s, _, trig := newTestSession(t, 0)

		err := s.Submit(context.Background(), "   ")
		assert.ErrorIs(t, err, ErrEmpty)
		assert.Empty(t, s.Messages())
		assert.Zero(t, trig.callCount())
	})
}

func TestSubmitWhileBusy(t *testing.T) {
	s, ft, trig := newTestSession(t, 0)

	require.NoError(t, s.Submit(context.Background(), "first"))

	err := s.Submit(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, 1, trig.callCount())
	assert.Len(t, ft.emissions(), 1)
}

func TestSubmitDuplicateInsideWindow(t *testing.T) {
	s, ft, trig := newTestSession(t, 10*time.Second)

	require.NoError(t, s.Submit(context.Background(), "same question"))
	ft.d.Dispatch(socket.EventQueryComplete, mustJSON(t, socket.CompletePayload{Text: "answer"}))

	err := s.Submit(context.Background(), "same question")
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Len(t, s.Messages(), 2)
	assert.Equal(t, 1, trig.callCount())
	assert.Len(t, ft.emissions(), 1)
}

func TestSubmitDuplicateAfterWindow(t *testing.T) {
	s, ft, trig := newTestSession(t, 50*time.Millisecond)

	require.NoError(t, s.Submit(context.Background(), "same question"))
	ft.d.Dispatch(socket.EventQueryComplete, mustJSON(t, socket.CompletePayload{Text: "answer"}))

	time.Sleep(100 * time.Millisecond)

	require.NoError(t, s.Submit(context.Background(), "same question"))
	assert.Len(t, s.Messages(), 3)
	assert.Equal(t, 2, trig.callCount())
}

func TestQueryErrorProducesFallback(t *testing.T) {
	s, ft, _ := newTestSession(t, 0)

	require.NoError(t, s.Submit(context.Background(), "question"))
	ft.d.Dispatch(socket.EventQueryChunk, mustJSON(t, socket.ChunkPayload{Text: "partial ans"}))
	ft.d.Dispatch(socket.EventQueryError, mustJSON(t, socket.QueryErrorPayload{
		Error:  "model overloaded",
		RepoID: "a1b2c3d4e5f6a7b8c9d0",
	}))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, FallbackErrorText, msgs[1].Content)
	assert.True(t, msgs[1].Final)
	assert.Equal(t, PhaseIdle, s.Phase())

	require.NoError(t, s.Submit(context.Background(), "next question"))
}

func TestTriggerFailureProducesFallback(t *testing.T) {
	s, _, trig := newTestSession(t, 0)
	trig.err = errors.New("boom")

	err := s.Submit(context.Background(), "question")
	require.Error(t, err)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, FallbackErrorText, msgs[1].Content)
	assert.Equal(t, PhaseIdle, s.Phase())

	trig.err = nil
	require.NoError(t, s.Submit(context.Background(), "retry question"))
}

func TestEmitFailureStillTriggers(t *testing.T) {
	s, ft, trig := newTestSession(t, 0)
	ft.emitErr = errors.New("write: broken pipe")

	require.NoError(t, s.Submit(context.Background(), "question"))
	assert.Equal(t, 1, trig.callCount())
	assert.Equal(t, PhaseSubmitting, s.Phase())
}

func TestStrayEventsIgnored(t *testing.T) {
	s, ft, _ := newTestSession(t, 0)

	ft.d.Dispatch(socket.EventQueryChunk, mustJSON(t, socket.ChunkPayload{Text: "stray"}))
	ft.d.Dispatch(socket.EventQueryComplete, mustJSON(t, socket.CompletePayload{Text: "stray"}))
	ft.d.Dispatch(socket.EventQueryError, mustJSON(t, socket.QueryErrorPayload{Error: "stray"}))

	assert.Empty(t, s.Messages())
	assert.Equal(t, PhaseIdle, s.Phase())
}

func TestStartNewChatResets(t *testing.T) {
	s, ft, _ := newTestSession(t, 10*time.Second)

	require.NoError(t, s.Submit(context.Background(), "question"))
	ft.d.Dispatch(socket.EventQueryComplete, mustJSON(t, socket.CompletePayload{Text: "answer"}))
	require.Len(t, s.Messages(), 2)

	s.StartNewChat()

	assert.Empty(t, s.Messages())
	assert.Equal(t, PhaseIdle, s.Phase())

	// Suppression window does not survive a fresh chat.
	require.NoError(t, s.Submit(context.Background(), "question"))
}

func TestStartNewChatDropsInFlightRequest(t *testing.T) {
	s, ft, _ := newTestSession(t, 0)

	require.NoError(t, s.Submit(context.Background(), "question"))
	ft.d.Dispatch(socket.EventQueryChunk, mustJSON(t, socket.ChunkPayload{Text: "partial"}))

	s.StartNewChat()
	assert.Empty(t, s.Messages())

	// Late events for the abandoned request fall on the floor.
	ft.d.Dispatch(socket.EventQueryComplete, mustJSON(t, socket.CompletePayload{Text: "answer"}))
	assert.Empty(t, s.Messages())
	assert.Equal(t, PhaseIdle, s.Phase())
}

func TestDisconnectKeepsPendingRequest(t *testing.T) {
	s, ft, _ := newTestSession(t, 0)

	require.NoError(t, s.Submit(context.Background(), "question"))
	ft.d.Dispatch(socket.EventQueryChunk, mustJSON(t, socket.ChunkPayload{Text: "partial "}))

	ft.setConnected(false, "")
	assert.False(t, s.Connected())
	assert.True(t, s.Loading())
	require.Len(t, s.Messages(), 2)

	// The stream resumes after reconnect and still finalizes.
	ft.setConnected(true, "sid-test-2")
	ft.d.Dispatch(socket.EventQueryComplete, mustJSON(t, socket.CompletePayload{Text: "partial answer"}))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial answer", msgs[1].Content)
	assert.Equal(t, PhaseIdle, s.Phase())
}

func TestSetMode(t *testing.T) {
	s, _, trig := newTestSession(t, 0)

	require.NoError(t, s.SetMode(models.ModeFast))
	assert.Equal(t, models.ModeFast, s.Mode())
	assert.Error(t, s.SetMode(models.Mode("turbo")))
	assert.Equal(t, models.ModeFast, s.Mode())

	require.NoError(t, s.Submit(context.Background(), "question"))
	require.Len(t, trig.calls, 1)
	assert.Equal(t, models.ModeFast, trig.calls[0].Mode)
}

func TestSubscriptionSignals(t *testing.T) {
	s, ft, _ := newTestSession(t, 0)

	sub := s.Subscribe(8)
	defer sub.Close()

	require.NoError(t, s.Submit(context.Background(), "question"))
	ft.d.Dispatch(socket.EventQueryComplete, mustJSON(t, socket.CompletePayload{Text: "answer"}))

	select {
	case _, ok := <-sub.Updates():
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("no update signal received")
	}
}

func TestSubscriptionCloseIdempotent(t *testing.T) {
	s, _, _ := newTestSession(t, 0)

	sub := s.Subscribe(1)
	sub.Close()
	sub.Close()

	if _, ok := <-sub.Updates(); ok {
		t.Fatal("updates channel still open after Close")
	}
}

func TestSessionCloseClosesSubscriptions(t *testing.T) {
	ft := newFakeTransport(true)
	s := NewSession(ft, &stubTrigger{}, "a1b2c3d4e5f6a7b8c9d0", Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	sub := s.Subscribe(1)

	s.Close()
	s.Close()

	if _, ok := <-sub.Updates(); ok {
		t.Fatal("updates channel still open after session Close")
	}
	sub.Close()
}
