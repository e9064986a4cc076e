// Package transcription talks to the local transcription service: it posts a
// WAV-encoded utterance and receives the recognized text back. It is the
// fallback transcript path used when the realtime service's own transcription
// events are unavailable or incomplete.
package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/yusufsallam64/diagnosure/internal/observability"
	"github.com/yusufsallam64/diagnosure/internal/resilience"
)

// Error reports a failed transcription request
type Error struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transcription failed (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transcription failed: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// Client is an HTTP client for the transcription service
type Client struct {
	url        string
	language   string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      *resilience.RetryConfig
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// NewClient creates a transcription client
func NewClient(url, language string, breaker *resilience.CircuitBreaker, retry *resilience.RetryConfig, metrics *observability.Metrics, logger zerolog.Logger) *Client {
	return &Client{
		url:        url,
		language:   language,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    breaker,
		retry:      retry,
		metrics:    metrics,
		logger:     logger.With().Str("component", "transcription").Logger(),
	}
}

// Transcribe sends WAV audio to the transcription service and returns the
// recognized text. Transient failures are retried; repeated failures trip
// the circuit breaker.
func (c *Client) Transcribe(ctx context.Context, wavData []byte) (string, error) {
	if len(wavData) == 0 {
		return "", &Error{Message: "empty audio payload"}
	}

	if c.metrics != nil {
		c.metrics.RecordTranscriptionStart()
	}

	var text string
	err := resilience.Retry(ctx, func() error {
		return c.breaker.Call(func() error {
			result, err := c.doRequest(ctx, wavData)
			if err != nil {
				return err
			}
			text = result
			return nil
		})
	}, c.retry, func(err error) bool {
		// Don't burn attempts while the breaker is open or on client errors
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return false
		}
		var terr *Error
		if errors.As(err, &terr) && terr.StatusCode >= 400 && terr.StatusCode < 500 {
			return false
		}
		return true
	})

	if c.metrics != nil {
		c.metrics.RecordTranscriptionEnd(err == nil)
	}

	if err != nil {
		c.logger.Error().Err(err).Msg("transcription request failed")
		return "", err
	}

	c.logger.Debug().Int("audio_bytes", len(wavData)).Str("text", text).Msg("utterance transcribed")
	return text, nil
}

func (c *Client) doRequest(ctx context.Context, wavData []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", &Error{Message: "building request", Err: err}
	}
	if _, err := part.Write(wavData); err != nil {
		return "", &Error{Message: "building request", Err: err}
	}
	if c.language != "" {
		if err := writer.WriteField("language", c.language); err != nil {
			return "", &Error{Message: "building request", Err: err}
		}
	}
	if err := writer.Close(); err != nil {
		return "", &Error{Message: "building request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return "", &Error{Message: "building request", Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &Error{StatusCode: resp.StatusCode, Message: string(msg)}
	}

	var result transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &Error{Message: "decoding response", Err: err}
	}

	return result.Text, nil
}

// HealthCheck probes the transcription service for readiness
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	// Any response means the service is reachable; method support varies
	return resp.StatusCode < http.StatusInternalServerError, nil
}
