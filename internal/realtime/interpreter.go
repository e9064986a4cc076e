package realtime

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/yusufsallam64/diagnosure/internal/observability"
)

// PendingToolInvocation exists between the model issuing the conclude tool
// call and the termination protocol resolving it. At most one per session.
type PendingToolInvocation struct {
	CallID              string
	Name                string
	ConfirmationMessage string
	IssuedAt            time.Time
}

// interimPlaceholder is shown while the user is speaking and no text has
// arrived yet.
const interimPlaceholder = "listening"

// Interpreter decodes inbound side-channel payloads and folds them into the
// transcript store. It also signals the capturer on speech boundaries and
// hands conclude tool calls to its onToolInvoked callback.
type Interpreter struct {
	store    *Store
	capturer *Capturer
	send     func(payload any) error
	metrics  *observability.Metrics
	logger   zerolog.Logger

	// onToolInvoked receives the conclude tool call exactly once per
	// invocation; nil-safe.
	onToolInvoked func(inv PendingToolInvocation)

	// onSessionError surfaces non-fatal remote errors; nil-safe
	onSessionError func(err error)
}

// NewInterpreter creates an interpreter over the given store
func NewInterpreter(store *Store, capturer *Capturer, send func(payload any) error, metrics *observability.Metrics, logger zerolog.Logger) *Interpreter {
	return &Interpreter{
		store:    store,
		capturer: capturer,
		send:     send,
		metrics:  metrics,
		logger:   logger.With().Str("component", "interpreter").Logger(),
	}
}

// OnToolInvoked registers the conclude tool callback
func (in *Interpreter) OnToolInvoked(fn func(inv PendingToolInvocation)) {
	in.onToolInvoked = fn
}

// OnSessionError registers the non-fatal error callback
func (in *Interpreter) OnSessionError(fn func(err error)) {
	in.onSessionError = fn
}

// OnMessage decodes one raw payload and applies it to session state.
// Malformed payloads are logged and dropped; OnMessage never panics the
// session loop.
func (in *Interpreter) OnMessage(raw []byte) {
	event, err := DecodeServerEvent(raw)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			in.logger.Warn().Str("event_type", perr.EventType).Err(perr.Err).Msg("dropped undecodable event")
		} else {
			in.logger.Warn().Err(err).Msg("dropped undecodable event")
		}
		if in.metrics != nil {
			in.metrics.RecordUndecodableEvent()
		}
		return
	}
	if event == nil {
		return // unknown type, skipped
	}

	if in.metrics != nil {
		in.metrics.RecordEvent(event.EventType())
	}

	switch e := event.(type) {
	case *TextDeltaEvent:
		// The payload carries the full accumulated text; replace, never append
		in.store.UpsertInterim(e.Delta)

	case *TextDoneEvent:
		in.store.FinalizeInterim()

	case *SpeechStartedEvent:
		// When the user barges in mid-response an interim entry is already
		// open; don't clobber it with the placeholder.
		if !in.store.HasInterim() {
			in.store.UpsertInterim(interimPlaceholder)
		}
		in.capturer.OnSpeechStarted()

	case *SpeechStoppedEvent:
		in.store.FinalizeInterim()
		in.capturer.OnSpeechStopped()

	case *ResponseDoneEvent:
		if text := e.Text(); text != "" {
			in.store.AppendResponse(text, true)
		}

	case *ToolInvokedEvent:
		in.handleToolInvocation(e)

	case *ErrorEvent:
		in.logger.Error().
			Str("code", e.Error.Code).
			Str("message", e.Error.Message).
			Msg("remote session error")
		if in.metrics != nil {
			in.metrics.RecordError("remote", "interpreter")
		}
		if in.onSessionError != nil {
			in.onSessionError(&ProtocolError{EventType: "error", Err: errors.New(e.Error.Message)})
		}

	case *AudioDeltaEvent:
		// Audio is consumed by the transport layer; nothing to fold in here
	}
}

func (in *Interpreter) handleToolInvocation(e *ToolInvokedEvent) {
	if e.Name != EndConversationTool {
		in.logger.Warn().Str("tool", e.Name).Msg("ignoring unknown tool invocation")
		return
	}

	inv := PendingToolInvocation{
		CallID:              e.CallID,
		Name:                e.Name,
		ConfirmationMessage: e.ConfirmationMessage(),
		IssuedAt:            time.Now(),
	}

	// Acknowledge immediately so the model does not re-issue the call
	if in.send != nil {
		if err := in.send(ToolOutputPayload(e.CallID, "awaiting user confirmation")); err != nil {
			in.logger.Warn().Err(err).Msg("failed to acknowledge tool call")
		}
	}

	in.logger.Info().Str("call_id", e.CallID).Str("message", inv.ConfirmationMessage).Msg("conclude tool invoked")

	if in.onToolInvoked != nil {
		in.onToolInvoked(inv)
	}
}
