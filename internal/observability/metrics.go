package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "diagnosure_active_sessions",
		Help: "Number of active voice sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "diagnosure_sessions_total",
		Help: "Total number of voice sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "diagnosure_session_duration_seconds",
		Help:    "Duration of voice sessions in seconds",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
	})

	// Transport negotiation metrics
	negotiationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diagnosure_negotiation_failures_total",
		Help: "Total number of failed transport negotiations",
	}, []string{"stage"}) // stage: "credential", "sdp", "media"

	// Event stream metrics
	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diagnosure_events_received_total",
		Help: "Total number of side-channel events received",
	}, []string{"type"})

	eventsUndecodable = promauto.NewCounter(prometheus.CounterOpts{
		Name: "diagnosure_events_undecodable_total",
		Help: "Total number of side-channel payloads that could not be decoded",
	})

	// Utterance and transcription metrics
	utterancesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "diagnosure_utterances_total",
		Help: "Total number of speech utterances captured",
	})

	transcriptionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diagnosure_transcription_requests_total",
		Help: "Total number of transcription service requests",
	}, []string{"status"})

	transcriptionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "diagnosure_transcription_latency_seconds",
		Help:    "Transcription service latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Termination protocol metrics
	terminationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diagnosure_termination_outcomes_total",
		Help: "Total number of termination confirmation outcomes",
	}, []string{"outcome"}) // outcome: "confirmed", "resumed", "timeout"

	// Report submission metrics
	reportSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diagnosure_report_submissions_total",
		Help: "Total number of prescreen report submissions",
	}, []string{"status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diagnosure_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "diagnosure_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diagnosure_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diagnosure_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Metrics tracks metrics for a single voice session
type Metrics struct {
	sessionID              string
	startTime              time.Time
	transcriptionStartTime time.Time
	mu                     sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	duration := time.Since(m.startTime).Seconds()
	sessionDuration.Observe(duration)
}

// RecordNegotiationFailure records a failed transport negotiation
func (m *Metrics) RecordNegotiationFailure(stage string) {
	negotiationFailures.WithLabelValues(stage).Inc()
}

// RecordEvent records a decoded side-channel event
func (m *Metrics) RecordEvent(eventType string) {
	eventsReceived.WithLabelValues(eventType).Inc()
}

// RecordUndecodableEvent records a side-channel payload that failed to decode
func (m *Metrics) RecordUndecodableEvent() {
	eventsUndecodable.Inc()
}

// RecordUtterance records a captured speech utterance
func (m *Metrics) RecordUtterance() {
	utterancesCaptured.Inc()
}

// RecordTranscriptionStart records the start of a transcription request
func (m *Metrics) RecordTranscriptionStart() {
	m.mu.Lock()
	m.transcriptionStartTime = time.Now()
	m.mu.Unlock()
}

// RecordTranscriptionEnd records the end of a transcription request
func (m *Metrics) RecordTranscriptionEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.transcriptionStartTime.IsZero() {
		latency := time.Since(m.transcriptionStartTime).Seconds()
		transcriptionLatency.Observe(latency)
	}

	status := "success"
	if !success {
		status = "error"
	}
	transcriptionRequests.WithLabelValues(status).Inc()
}

// RecordTerminationOutcome records the result of a confirmation window
func (m *Metrics) RecordTerminationOutcome(outcome string) {
	terminationOutcomes.WithLabelValues(outcome).Inc()
}

// RecordReportSubmission records a report submission outcome
func (m *Metrics) RecordReportSubmission(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	reportSubmissions.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
