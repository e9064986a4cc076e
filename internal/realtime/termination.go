package realtime

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/yusufsallam64/diagnosure/internal/observability"
)

// TerminationState is the confirmation dialogue state machine
type TerminationState int

const (
	TerminationIdle TerminationState = iota
	TerminationAwaitingConfirmation
	TerminationConfirmed
	TerminationResumed
)

func (s TerminationState) String() string {
	switch s {
	case TerminationIdle:
		return "idle"
	case TerminationAwaitingConfirmation:
		return "awaiting_confirmation"
	case TerminationConfirmed:
		return "confirmed"
	case TerminationResumed:
		return "resumed"
	}
	return "unknown"
}

// Resolution is the exactly-once outcome of a confirmation window
type Resolution struct {
	State    TerminationState // TerminationConfirmed or TerminationResumed
	Reply    string           // the qualifying user reply, empty on timeout
	TimedOut bool             // true when silence confirmed the close
}

// negativeTerms end the conversation when found in the user's reply
var negativeTerms = []string{"no", "nothing else"}

// TerminationProtocol runs the bounded confirmation dialogue after the model
// proposes ending the conversation. It watches the fallback transcript for a
// reply arriving strictly after the tool invocation and races it against an
// absolute timeout; the first condition to hold wins and the other is
// cancelled.
type TerminationProtocol struct {
	store        *Store
	pollInterval time.Duration
	timeout      time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

// NewTerminationProtocol creates the protocol over the given store
func NewTerminationProtocol(store *Store, pollInterval, timeout time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *TerminationProtocol {
	return &TerminationProtocol{
		store:        store,
		pollInterval: pollInterval,
		timeout:      timeout,
		metrics:      metrics,
		logger:       logger.With().Str("component", "termination").Logger(),
	}
}

// Await runs one confirmation window and delivers exactly one Resolution on
// the returned channel, unless ctx is cancelled first (session teardown), in
// which case the channel closes without a value.
func (p *TerminationProtocol) Await(ctx context.Context, inv PendingToolInvocation) <-chan Resolution {
	out := make(chan Resolution, 1)

	go func() {
		defer close(out)

		p.logger.Info().
			Time("issued_at", inv.IssuedAt).
			Msg("awaiting user confirmation")

		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()
		deadline := time.NewTimer(p.timeout)
		defer deadline.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case <-deadline.C:
				// Silence is consent: treat the absent reply as confirmation
				p.logger.Info().Msg("confirmation window timed out, ending session")
				p.recordOutcome("timeout")
				out <- Resolution{State: TerminationConfirmed, TimedOut: true}
				return

			case <-ticker.C:
				// Only entries captured strictly after the invocation qualify
				entries := p.store.LocalAfter(inv.IssuedAt)
				if len(entries) == 0 {
					continue
				}

				reply := entries[0].Text
				if isNegativeReply(reply) {
					p.logger.Info().Str("reply", reply).Msg("user confirmed ending the session")
					p.recordOutcome("confirmed")
					out <- Resolution{State: TerminationConfirmed, Reply: reply}
				} else {
					p.logger.Info().Str("reply", reply).Msg("user wants to continue")
					p.recordOutcome("resumed")
					out <- Resolution{State: TerminationResumed, Reply: reply}
				}
				return
			}
		}
	}()

	return out
}

func (p *TerminationProtocol) recordOutcome(outcome string) {
	if p.metrics != nil {
		p.metrics.RecordTerminationOutcome(outcome)
	}
}

// isNegativeReply reports whether the reply confirms ending the conversation
func isNegativeReply(reply string) bool {
	lower := strings.ToLower(reply)
	for _, term := range negativeTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
