package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yusufsallam64/diagnosure/internal/audio"
	"github.com/yusufsallam64/diagnosure/internal/capture"
	"github.com/yusufsallam64/diagnosure/internal/config"
	"github.com/yusufsallam64/diagnosure/internal/observability"
	"github.com/yusufsallam64/diagnosure/internal/report"
	"github.com/yusufsallam64/diagnosure/internal/resilience"
	"github.com/yusufsallam64/diagnosure/internal/transcription"
)

// Manager owns at most one live session at a time and wires up its
// collaborators from configuration.
type Manager struct {
	cfg         *config.Config
	audioCtx    capture.Context
	transcriber *transcription.Client
	reporter    *report.Client
	logger      zerolog.Logger

	mu      sync.Mutex
	current *Session
}

// NewManager creates the session manager and its shared service clients
func NewManager(cfg *config.Config, audioCtx capture.Context, logger zerolog.Logger) *Manager {
	retry := &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}

	breaker := resilience.NewCircuitBreaker(
		"transcription",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)

	return &Manager{
		cfg:         cfg,
		audioCtx:    audioCtx,
		transcriber: transcription.NewClient(cfg.TranscriptionURL, cfg.TranscriptionLanguage, breaker, retry, nil, logger),
		reporter:    report.NewClient(cfg.ReportURL, retry, nil, logger),
		logger:      logger,
	}
}

// Transcriber exposes the transcription client for readiness checks
func (m *Manager) Transcriber() *transcription.Client {
	return m.transcriber
}

// Start opens a new session for the given user. Returns ErrSessionActive
// while another session is live.
func (m *Manager) Start(ctx context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	if m.current != nil && m.current.State() != StateClosed {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}

	metrics := observability.NewSessionMetrics(observability.NewSessionID())

	session := NewSession(SessionConfig{
		UserID:             userID,
		Voice:              m.cfg.RealtimeVoice,
		SampleRate:         m.cfg.SampleRate,
		PlaybackBufferSize: m.cfg.AudioBufferSize,
		GraceDelay:         m.cfg.GraceDelay,
	}, SessionDeps{
		AudioCtx:    m.audioCtx,
		Transcriber: m.transcriber,
		Reporter:    m.reporter,
		Termination: nil, // set below, it needs the session's store
		Metrics:     metrics,
		Logger:      m.logger,
	})
	session.termination = NewTerminationProtocol(
		session.Store(),
		m.cfg.ConfirmPollInterval,
		m.cfg.ConfirmTimeout,
		metrics,
		m.logger,
	)

	m.current = session
	m.mu.Unlock()

	dialer, err := m.dialer(metrics)
	if err != nil {
		m.clear(session)
		return nil, err
	}

	if err := session.Start(ctx, dialer); err != nil {
		m.clear(session)
		return nil, err
	}

	return session, nil
}

// dialer picks the transport implementation from configuration
func (m *Manager) dialer(metrics *observability.Metrics) (Dialer, error) {
	switch m.cfg.RealtimeTransport {
	case "webrtc":
		return NewWebRTCDialer(
			m.cfg.OpenAIAPIKey,
			m.cfg.RealtimeModel,
			m.cfg.RealtimeVoice,
			m.cfg.RealtimeBaseURL,
			m.cfg.CredentialURL,
			m.cfg.SampleRate,
			metrics,
			m.logger,
		), nil
	case "websocket":
		return NewWebSocketDialer(
			m.cfg.OpenAIAPIKey,
			m.cfg.RealtimeModel,
			m.cfg.RealtimeBaseURL,
			&audio.VADConfig{
				EnergyThreshold: m.cfg.VADEnergyThreshold,
				SilenceFrames:   m.cfg.VADSilenceFrames,
				FrameSize:       m.cfg.SampleRate / 50, // 20ms frames
			},
			m.logger,
		), nil
	}
	return nil, fmt.Errorf("unknown transport %q", m.cfg.RealtimeTransport)
}

// Stop ends the current session, if any
func (m *Manager) Stop() bool {
	m.mu.Lock()
	session := m.current
	m.mu.Unlock()

	if session == nil || session.State() == StateClosed {
		return false
	}
	session.Stop()
	return true
}

// Current returns the live session, or nil
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.State() != StateClosed {
		return m.current
	}
	return nil
}

func (m *Manager) clear(session *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == session {
		m.current = nil
	}
}
