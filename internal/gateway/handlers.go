package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/yusufsallam64/diagnosure/internal/realtime"
)

// StartRequest is the body of a session start call
type StartRequest struct {
	UserID string `json:"user_id"`
}

// StartResponse is returned when a session opens successfully
type StartResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

// StopResponse reports whether a live session was stopped
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// TranscriptResponse carries both transcript tracks of the live session
type TranscriptResponse struct {
	SessionID string                        `json:"session_id"`
	State     string                        `json:"state"`
	User      []realtime.LocalTranscriptEntry `json:"user"`
	Assistant []realtime.ModelResponse        `json:"assistant"`
	Interim   []realtime.TranscriptEntry      `json:"interim"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// HandleSessionStart opens a new realtime session for a patient
func HandleSessionStart(manager *realtime.Manager, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
			return
		}

		var req StartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		if req.UserID == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id is required"})
			return
		}

		session, err := manager.Start(r.Context(), req.UserID)
		if err != nil {
			if errors.Is(err, realtime.ErrSessionActive) {
				writeJSON(w, http.StatusConflict, errorResponse{Error: "a session is already active"})
				return
			}
			var nerr *realtime.NegotiationError
			if errors.As(err, &nerr) {
				logger.Error().Err(err).Str("stage", nerr.Stage).Msg("session negotiation failed")
				writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
				return
			}
			logger.Error().Err(err).Msg("failed to start session")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}

		logger.Info().Str("session_id", session.ID()).Str("user_id", req.UserID).Msg("session started")
		writeJSON(w, http.StatusCreated, StartResponse{
			SessionID: session.ID(),
			State:     session.State().String(),
		})
	}
}

// HandleSessionStop ends the live session, if any. Stopping when no session
// is live is not an error.
func HandleSessionStop(manager *realtime.Manager, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
			return
		}

		stopped := manager.Stop()
		if stopped {
			logger.Info().Msg("session stopped by client")
		}
		writeJSON(w, http.StatusOK, StopResponse{Stopped: stopped})
	}
}

// HandleTranscript returns the current transcript of the live session
func HandleTranscript(manager *realtime.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
			return
		}

		session := manager.Current()
		if session == nil {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active session"})
			return
		}

		store := session.Store()
		writeJSON(w, http.StatusOK, TranscriptResponse{
			SessionID: session.ID(),
			State:     session.State().String(),
			User:      store.Local(),
			Assistant: store.Responses(),
			Interim:   store.Entries(),
		})
	}
}
