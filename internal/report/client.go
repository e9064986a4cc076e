// Package report submits the completed prescreen conversation to the
// prognosis validation service. Submission happens once per session, in the
// background, and never blocks session teardown.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yusufsallam64/diagnosure/internal/observability"
	"github.com/yusufsallam64/diagnosure/internal/resilience"
)

// Entry is one finalized line of the conversation transcript
type Entry struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Prescreen is the payload delivered to the validation service
type Prescreen struct {
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	Transcript []Entry   `json:"transcript"`
}

// Client submits prescreen reports over HTTP
type Client struct {
	url        string
	httpClient *http.Client
	retry      *resilience.RetryConfig
	metrics    *observability.Metrics
	logger     zerolog.Logger

	mu        sync.Mutex
	submitted map[string]bool
}

// NewClient creates a report client
func NewClient(url string, retry *resilience.RetryConfig, metrics *observability.Metrics, logger zerolog.Logger) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		retry:      retry,
		metrics:    metrics,
		logger:     logger.With().Str("component", "report").Logger(),
		submitted:  make(map[string]bool),
	}
}

// Submit sends the prescreen report in the background. Repeated calls for
// the same session are ignored so that racing teardown paths cannot submit
// twice. The returned channel closes when the attempt finishes.
func (c *Client) Submit(ctx context.Context, prescreen *Prescreen) <-chan struct{} {
	done := make(chan struct{})

	c.mu.Lock()
	if c.submitted[prescreen.SessionID] {
		c.mu.Unlock()
		c.logger.Debug().Str("session_id", prescreen.SessionID).Msg("report already submitted")
		close(done)
		return done
	}
	c.submitted[prescreen.SessionID] = true
	c.mu.Unlock()

	go func() {
		defer close(done)

		err := resilience.Retry(ctx, func() error {
			return c.post(ctx, prescreen)
		}, c.retry, resilience.IsRetryable)

		if c.metrics != nil {
			c.metrics.RecordReportSubmission(err == nil)
		}

		if err != nil {
			// Fire-and-forget: log and move on, the session is already over
			c.logger.Error().Err(err).Str("session_id", prescreen.SessionID).Msg("report submission failed")
			return
		}
		c.logger.Info().
			Str("session_id", prescreen.SessionID).
			Int("transcript_entries", len(prescreen.Transcript)).
			Msg("prescreen report submitted")
	}()

	return done
}

func (c *Client) post(ctx context.Context, prescreen *Prescreen) error {
	payload, err := json.Marshal(prescreen)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return resilience.NewRetryableError(fmt.Errorf("report request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("report rejected (status %d): %s", resp.StatusCode, msg)
		if resp.StatusCode >= 500 {
			return resilience.NewRetryableError(err)
		}
		return err
	}

	return nil
}
