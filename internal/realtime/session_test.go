package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yusufsallam64/diagnosure/internal/capture"
	"github.com/yusufsallam64/diagnosure/internal/observability"
	"github.com/yusufsallam64/diagnosure/internal/report"
	"github.com/yusufsallam64/diagnosure/internal/resilience"
	"github.com/yusufsallam64/diagnosure/internal/transcription"
)

type fakeTransport struct {
	mu        sync.Mutex
	sent      []any
	sentAudio [][]byte

	events   chan []byte
	audioOut chan []byte
	done     chan struct{}

	closeCount atomic.Int32
	doneOnce   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events:   make(chan []byte, 16),
		audioOut: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
}

func (f *fakeTransport) Send(payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeTransport) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentAudio = append(f.sentAudio, pcm)
	return nil
}

func (f *fakeTransport) Events() <-chan []byte   { return f.events }
func (f *fakeTransport) AudioOut() <-chan []byte { return f.audioOut }
func (f *fakeTransport) Done() <-chan struct{}   { return f.done }

func (f *fakeTransport) Close() error {
	f.closeCount.Add(1)
	f.doneOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeTransport) sentPayloads() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

func (f *fakeTransport) payloadTypes() []string {
	var types []string
	for _, p := range f.sentPayloads() {
		if m, ok := p.(map[string]any); ok {
			if t, ok := m["type"].(string); ok {
				types = append(types, t)
			}
		}
	}
	return types
}

type fakeDialer struct {
	transport Transport
	err       error
}

func (d *fakeDialer) Dial(context.Context) (Transport, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.transport, nil
}

type sessionHarness struct {
	session   *Session
	transport *fakeTransport
	audioCtx  *capture.FakeContext
	reports   *atomic.Int32
	server    *httptest.Server
}

func newSessionHarness(t *testing.T) *sessionHarness {
	t.Helper()

	var reports atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reports.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	retry := &resilience.RetryConfig{
		MaxAttempts:       1,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Millisecond,
		BackoffMultiplier: 1.0,
	}

	logger := observability.GetLogger()
	audioCtx := capture.NewFakeContext()
	transport := newFakeTransport()

	session := NewSession(SessionConfig{
		UserID:             "patient-1",
		Voice:              "alloy",
		SampleRate:         8000,
		PlaybackBufferSize: 4096,
		GraceDelay:         30 * time.Millisecond,
	}, SessionDeps{
		AudioCtx: audioCtx,
		Transcriber: transcription.NewClient("http://127.0.0.1:0", "en",
			resilience.NewCircuitBreaker("test", 5, time.Minute), retry, nil, logger),
		Reporter: report.NewClient(server.URL, retry, nil, logger),
		Metrics:  nil,
		Logger:   logger,
	})
	session.termination = NewTerminationProtocol(session.Store(), 10*time.Millisecond, 300*time.Millisecond, nil, logger)

	return &sessionHarness{
		session:   session,
		transport: transport,
		audioCtx:  audioCtx,
		reports:   &reports,
		server:    server,
	}
}

func (h *sessionHarness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.session.Start(context.Background(), &fakeDialer{transport: h.transport}))
	require.Equal(t, StateActive, h.session.State())
}

func (h *sessionHarness) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-h.session.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish teardown")
	}
}

func toolInvocationEvent() []byte {
	return []byte(`{
		"type": "response.function_call_arguments.done",
		"call_id": "call-1",
		"name": "end_conversation",
		"arguments": "{\"message\": \"Anything else?\"}"
	}`)
}

func TestSessionStartConfiguresModel(t *testing.T) {
	h := newSessionHarness(t)
	h.start(t)
	defer h.session.Stop()

	types := h.transport.payloadTypes()
	require.NotEmpty(t, types)
	assert.Equal(t, "session.update", types[0])

	// Audio graph attached and running
	require.Len(t, h.audioCtx.Captures(), 1)
	require.Len(t, h.audioCtx.Players(), 1)
	assert.True(t, h.audioCtx.Captures()[0].Started())
	assert.True(t, h.audioCtx.Players()[0].Started())
}

func TestSessionNegotiationFailureLeavesNothingAttached(t *testing.T) {
	h := newSessionHarness(t)

	dialErr := &NegotiationError{Stage: "sdp", Err: assert.AnError}
	err := h.session.Start(context.Background(), &fakeDialer{err: dialErr})

	var nerr *NegotiationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "sdp", nerr.Stage)

	assert.Equal(t, StateClosed, h.session.State())
	assert.Empty(t, h.audioCtx.Captures(), "no media resources may remain after a failed negotiation")
	assert.Empty(t, h.audioCtx.Players())
	assert.Equal(t, int32(0), h.reports.Load(), "a session that never became active submits no report")
	h.waitDone(t)
}

func TestSessionMicAudioFlowsToTransport(t *testing.T) {
	h := newSessionHarness(t)
	h.start(t)
	defer h.session.Stop()

	pcm := make([]byte, 320) // 20ms at 8kHz
	h.audioCtx.Captures()[0].Feed(pcm)

	h.transport.mu.Lock()
	frames := len(h.transport.sentAudio)
	h.transport.mu.Unlock()
	assert.Equal(t, 1, frames)
}

func TestSessionAgentAudioReachesPlayback(t *testing.T) {
	h := newSessionHarness(t)
	h.start(t)
	defer h.session.Stop()

	h.transport.audioOut <- []byte{1, 2, 3, 4}

	require.Eventually(t, func() bool {
		return h.session.playback.Available() == 4
	}, time.Second, 5*time.Millisecond)

	out := h.audioCtx.Players()[0].Pull(4)
	assert.Equal(t, []byte{1, 2, 3, 4}, out)
}

func TestSessionConfirmedFlow(t *testing.T) {
	h := newSessionHarness(t)
	h.start(t)

	h.transport.events <- toolInvocationEvent()

	// The confirmation message lands in the response store
	require.Eventually(t, func() bool {
		for _, resp := range h.session.Store().Responses() {
			if resp.Text == "Anything else?" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// Patient declines shortly after
	time.Sleep(20 * time.Millisecond)
	h.session.Store().AppendLocal("no thank you")

	h.waitDone(t)

	assert.Equal(t, StateClosed, h.session.State())
	assert.NoError(t, h.session.Err())

	// Closing acknowledgment was appended
	responses := h.session.Store().Responses()
	require.NotEmpty(t, responses)
	assert.Contains(t, responses[len(responses)-1].Text, "Thank you")

	// Tool was acknowledged on the side channel
	assert.Contains(t, h.transport.payloadTypes(), "response.submit_tool_outputs")

	// Exactly one teardown, exactly one report
	assert.Equal(t, int32(1), h.transport.closeCount.Load())
	require.Eventually(t, func() bool { return h.reports.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, h.audioCtx.Captures()[0].Closed())
	assert.True(t, h.audioCtx.Players()[0].Closed())
}

func TestSessionResumedFlow(t *testing.T) {
	h := newSessionHarness(t)
	h.start(t)
	defer h.session.Stop()

	h.transport.events <- toolInvocationEvent()

	require.Eventually(t, func() bool {
		h.session.mu.Lock()
		defer h.session.mu.Unlock()
		return h.session.pending != nil
	}, time.Second, 5*time.Millisecond)

	h.session.Store().AppendLocal("yes, my back still hurts")

	// Pending invocation cleared, conversation continues
	require.Eventually(t, func() bool {
		h.session.mu.Lock()
		defer h.session.mu.Unlock()
		return h.session.pending == nil
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, StateActive, h.session.State())
	assert.Contains(t, h.transport.payloadTypes(), "response.create")

	var texts []string
	for _, resp := range h.session.Store().Responses() {
		texts = append(texts, resp.Text)
	}
	assert.Contains(t, texts, "Of course, please continue.")
	assert.Equal(t, int32(0), h.reports.Load(), "no report while the session continues")
}

func TestSessionTimeoutConfirms(t *testing.T) {
	h := newSessionHarness(t)
	h.start(t)

	h.transport.events <- toolInvocationEvent()

	// No reply at all: silence confirms within the timeout window
	h.waitDone(t)

	assert.Equal(t, StateClosed, h.session.State())
	require.Eventually(t, func() bool { return h.reports.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSessionStopIdempotent(t *testing.T) {
	h := newSessionHarness(t)
	h.start(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.session.Stop()
		}()
	}
	wg.Wait()
	h.waitDone(t)

	assert.Equal(t, StateClosed, h.session.State())
	assert.Equal(t, int32(1), h.transport.closeCount.Load(), "exactly one teardown sequence")

	// Report is deduplicated even across racing triggers
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, h.reports.Load(), int32(1))
}

func TestSessionUnexpectedDisconnect(t *testing.T) {
	h := newSessionHarness(t)
	h.start(t)

	// Transport drops without a user-initiated stop
	h.transport.doneOnce.Do(func() { close(h.transport.done) })

	h.waitDone(t)

	assert.Equal(t, StateClosed, h.session.State())
	assert.ErrorIs(t, h.session.Err(), ErrUnexpectedDisconnect)
}

func TestSessionEventsDiscardedDuringTeardown(t *testing.T) {
	h := newSessionHarness(t)
	h.start(t)

	h.session.Stop()
	h.waitDone(t)

	// Late event after teardown must be ignored without panic
	select {
	case h.transport.events <- []byte(`{"type": "response.output_text.delta", "delta": "late"}`):
	default:
	}
	time.Sleep(20 * time.Millisecond)

	for _, entry := range h.session.Store().Entries() {
		assert.NotEqual(t, "late", entry.Text)
	}
}
