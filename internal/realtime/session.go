package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yusufsallam64/diagnosure/internal/audio"
	"github.com/yusufsallam64/diagnosure/internal/capture"
	"github.com/yusufsallam64/diagnosure/internal/observability"
	"github.com/yusufsallam64/diagnosure/internal/report"
	"github.com/yusufsallam64/diagnosure/internal/transcription"
)

// SessionState is the forward-only lifecycle of a session. Transitions never
// move backward, which keeps teardown reasoning simple.
type SessionState int

const (
	StateNegotiating SessionState = iota
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// defaultInstructions steer the model through the prescreen interview
const defaultInstructions = "You are a medical intake assistant conducting a prescreen interview. " +
	"Ask the patient about their symptoms, how long they have had them, their severity, " +
	"current medications, and relevant medical history. Ask one question at a time and keep " +
	"responses short and spoken-friendly. When the patient indicates they have nothing more " +
	"to add, call the end_conversation tool with a short confirmation question."

// SessionConfig carries the per-session knobs
type SessionConfig struct {
	UserID             string
	Instructions       string
	Voice              string
	SampleRate         int
	PlaybackBufferSize int
	GraceDelay         time.Duration
}

// Session is one realtime voice exchange, run as a single-goroutine actor:
// side-channel events, termination resolutions, and disconnects are all
// serviced by the run loop, one at a time. Teardown is exactly-once no
// matter which trigger fires first.
type Session struct {
	id      string
	cfg     SessionConfig
	logger  zerolog.Logger
	metrics *observability.Metrics

	store       *Store
	transport   Transport
	capturer    *Capturer
	interpreter *Interpreter
	termination *TerminationProtocol
	transcriber *transcription.Client
	reporter    *report.Client

	audioCtx capture.Context
	micDev   capture.Device
	playDev  capture.Device
	playback *audio.RingBuffer

	toolCh chan PendingToolInvocation

	mu        sync.Mutex
	state     SessionState
	pending   *PendingToolInvocation
	cause     error
	startedAt time.Time

	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// SessionDeps are the collaborators a session needs; tests inject fakes
type SessionDeps struct {
	Dialer      Dialer
	AudioCtx    capture.Context
	Transcriber *transcription.Client
	Reporter    *report.Client
	Termination *TerminationProtocol
	Metrics     *observability.Metrics
	Logger      zerolog.Logger
}

// NewSession creates a session in the negotiating state. Nothing is
// connected until Start.
func NewSession(cfg SessionConfig, deps SessionDeps) *Session {
	if cfg.Instructions == "" {
		cfg.Instructions = defaultInstructions
	}

	id := observability.NewSessionID()
	logger := deps.Logger.With().Str("session_id", id).Logger()

	s := &Session{
		id:          id,
		cfg:         cfg,
		logger:      logger,
		metrics:     deps.Metrics,
		store:       NewStore(),
		transcriber: deps.Transcriber,
		reporter:    deps.Reporter,
		termination: deps.Termination,
		audioCtx:    deps.AudioCtx,
		playback:    audio.NewRingBuffer(cfg.PlaybackBufferSize),
		toolCh:      make(chan PendingToolInvocation, 1),
		state:       StateNegotiating,
		done:        make(chan struct{}),
	}

	s.capturer = NewCapturer(cfg.SampleRate, s.onUtterance, deps.Metrics, logger)

	return s
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the session-level error, if any (negotiation failure or
// unexpected disconnect).
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Store exposes the transcript/response store for read access
func (s *Session) Store() *Store { return s.store }

// Done closes once teardown has fully completed
func (s *Session) Done() <-chan struct{} { return s.done }

// advance moves the lifecycle forward; backward transitions are ignored
func (s *Session) advance(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state > s.state {
		s.state = state
	}
}

// Start negotiates the transport, attaches the audio graph, configures the
// model, and launches the run loop. On failure no resources remain attached.
func (s *Session) Start(ctx context.Context, dialer Dialer) error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	transport, err := dialer.Dial(ctx)
	if err != nil {
		s.setCause(err)
		s.teardown(nil)
		return err
	}
	s.transport = transport

	s.interpreter = NewInterpreter(s.store, s.capturer, transport.Send, s.metrics, s.logger)
	s.interpreter.OnToolInvoked(s.handleToolInvoked)

	if err := s.attachAudioGraph(); err != nil {
		s.setCause(err)
		s.teardown(nil)
		return err
	}

	if err := transport.Send(SessionUpdatePayload(s.cfg.Instructions, s.cfg.Voice)); err != nil {
		err = &NegotiationError{Stage: "media", Err: err}
		s.setCause(err)
		s.teardown(nil)
		return err
	}

	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.advance(StateActive)
	if s.metrics != nil {
		s.metrics.RecordSessionStart()
	}
	s.logger.Info().Str("user_id", s.cfg.UserID).Msg("session active")

	go s.run(runCtx)
	return nil
}

// attachAudioGraph acquires the mic and playback devices
func (s *Session) attachAudioGraph() error {
	devCfg := capture.Config{
		SampleRate: uint32(s.cfg.SampleRate),
		Channels:   1,
	}

	mic, err := s.audioCtx.NewCapture(devCfg, s.onMicFrame)
	if err != nil {
		return &NegotiationError{Stage: "media", Err: err}
	}

	player, err := s.audioCtx.NewPlayback(devCfg, s.fillPlayback)
	if err != nil {
		mic.Close()
		return &NegotiationError{Stage: "media", Err: err}
	}

	if err := mic.Start(); err != nil {
		mic.Close()
		player.Close()
		return &NegotiationError{Stage: "media", Err: err}
	}
	if err := player.Start(); err != nil {
		mic.Stop()
		mic.Close()
		player.Close()
		return &NegotiationError{Stage: "media", Err: err}
	}

	s.micDev = mic
	s.playDev = player
	return nil
}

// onMicFrame runs on the audio callback thread: it forwards the frame to the
// transport and taps it for the fallback capture path.
func (s *Session) onMicFrame(data []byte, _ uint32) {
	if s.State() != StateActive {
		return
	}

	if s.metrics != nil {
		s.metrics.RecordAudioBytes("in", int64(len(data)))
	}

	if err := s.transport.SendAudio(data); err != nil {
		s.logger.Debug().Err(err).Msg("dropped outbound audio frame")
	}

	samples, err := audio.PCM16BytesToSamples(data)
	if err != nil {
		return
	}
	s.capturer.HandleFrame(audio.PCM16ToFloat32(samples))
}

// fillPlayback drains the playback ring buffer into the output device;
// whatever it cannot fill stays silent.
func (s *Session) fillPlayback(out []byte, _ uint32) {
	s.playback.Read(out)
}

// onUtterance transcribes one flushed utterance in the background. Failures
// are logged and swallowed; the utterance is simply absent from the local
// transcript.
func (s *Session) onUtterance(wav []byte) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		text, err := s.transcriber.Transcribe(ctx, wav)
		if err != nil {
			s.logger.Warn().Err(err).Msg("utterance transcription failed")
			return
		}
		if text == "" {
			return
		}
		if s.State() != StateActive {
			return
		}
		s.store.AppendLocal(text)
	}()
}

// handleToolInvoked registers the pending invocation and wakes the run loop.
// At most one invocation is pending at a time.
func (s *Session) handleToolInvoked(inv PendingToolInvocation) {
	s.mu.Lock()
	if s.pending != nil || s.state != StateActive {
		s.mu.Unlock()
		s.logger.Warn().Str("call_id", inv.CallID).Msg("ignoring conclude tool call, one already pending")
		return
	}
	s.pending = &inv
	s.mu.Unlock()

	select {
	case s.toolCh <- inv:
	default:
	}
}

// run is the session's event loop: one goroutine services side-channel
// events, agent audio, termination resolutions, and disconnects in arrival
// order.
func (s *Session) run(ctx context.Context) {
	var resolution <-chan Resolution
	var cancelAwait context.CancelFunc

	defer func() {
		if cancelAwait != nil {
			cancelAwait()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case raw, ok := <-s.transport.Events():
			if !ok {
				// Side channel closed underneath us
				s.teardown(ErrUnexpectedDisconnect)
				return
			}
			if s.State() != StateActive {
				continue // discard events arriving during teardown
			}
			s.interpreter.OnMessage(raw)

		case pcm := <-s.transport.AudioOut():
			s.playback.Write(pcm)

		case <-s.transport.Done():
			if s.State() == StateActive {
				s.teardown(ErrUnexpectedDisconnect)
			}
			return

		case inv := <-s.toolCh:
			s.store.AppendResponse(inv.ConfirmationMessage, true)
			awaitCtx, cancel := context.WithCancel(ctx)
			cancelAwait = cancel
			resolution = s.termination.Await(awaitCtx, inv)

		case res, ok := <-resolution:
			resolution = nil
			if cancelAwait != nil {
				cancelAwait()
				cancelAwait = nil
			}
			if !ok {
				continue // await cancelled by teardown
			}
			if s.handleResolution(res) {
				return
			}
		}
	}
}

// handleResolution applies a termination outcome; returns true when the run
// loop should exit because the session is ending.
func (s *Session) handleResolution(res Resolution) bool {
	switch res.State {
	case TerminationConfirmed:
		if res.TimedOut {
			// Silence confirmed the close; nothing left to play back
			s.teardown(nil)
			return true
		}

		s.store.AppendResponse("Thank you. Your prescreen is complete and will be shared with your care team. Take care!", true)

		// Grace delay lets the closing acknowledgment finish playing; the
		// run loop keeps servicing audio until teardown cancels it.
		time.AfterFunc(s.cfg.GraceDelay, func() {
			s.teardown(nil)
		})
		return false

	case TerminationResumed:
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()

		s.store.AppendResponse("Of course, please continue.", true)
		if err := s.transport.Send(ResponseCreatePayload()); err != nil {
			s.logger.Warn().Err(err).Msg("failed to request new model turn")
		}
		return false
	}
	return false
}

// Stop tears the session down. Safe to call multiple times and from
// multiple triggers concurrently; exactly one teardown sequence runs.
func (s *Session) Stop() {
	s.teardown(nil)
}

// teardown is the single shutdown authority. Order: close the side channel,
// stop local media, release the audio graph, detach the playback sink,
// submit the report, and mark the session closed last.
func (s *Session) teardown(cause error) {
	s.stopOnce.Do(func() {
		s.advance(StateClosing)
		if cause != nil {
			s.setCause(cause)
			s.logger.Error().Err(cause).Msg("session ending abnormally")
		} else {
			s.logger.Info().Msg("session ending")
		}

		if s.transport != nil {
			s.transport.Close()
		}

		if s.micDev != nil {
			s.micDev.Stop()
		}
		s.capturer.Stop()

		s.releaseAudioGraph()

		s.playback.Clear()

		if s.cancel != nil {
			s.cancel()
		}

		s.submitReport()

		if s.metrics != nil {
			s.metrics.RecordSessionEnd()
		}

		s.advance(StateClosed)
		close(s.done)
	})
}

func (s *Session) releaseAudioGraph() {
	if s.micDev != nil {
		s.micDev.Close()
		s.micDev = nil
	}
	if s.playDev != nil {
		s.playDev.Stop()
		s.playDev.Close()
		s.playDev = nil
	}
}

func (s *Session) setCause(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cause == nil {
		s.cause = err
	}
}

// submitReport hands the accumulated transcript to the report service.
// Fire-and-forget; the session does not wait for the response.
func (s *Session) submitReport() {
	if s.reporter == nil {
		return
	}

	s.mu.Lock()
	startedAt := s.startedAt
	s.mu.Unlock()

	if startedAt.IsZero() {
		return // session never became active, nothing to report
	}

	var entries []report.Entry
	for _, local := range s.store.Local() {
		entries = append(entries, report.Entry{
			Role:      "user",
			Text:      local.Text,
			Timestamp: local.CapturedAt,
		})
	}
	for _, resp := range s.store.Responses() {
		entries = append(entries, report.Entry{
			Role:      "assistant",
			Text:      resp.Text,
			Timestamp: resp.CapturedAt,
		})
	}

	s.reporter.Submit(context.Background(), &report.Prescreen{
		UserID:     s.cfg.UserID,
		SessionID:  s.id,
		StartedAt:  startedAt,
		EndedAt:    time.Now(),
		Transcript: entries,
	})
}
