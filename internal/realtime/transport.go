package realtime

import (
	"context"
)

// Transport is a live connection to the realtime speech service: an audio
// media path in both directions plus an ordered, reliable side channel for
// structured events.
type Transport interface {
	// Send marshals a payload as JSON onto the side channel
	Send(payload any) error

	// Events yields raw inbound side-channel payloads in delivery order.
	// The channel closes when the side channel closes.
	Events() <-chan []byte

	// SendAudio pushes little-endian 16-bit PCM mic audio outbound
	SendAudio(pcm []byte) error

	// AudioOut yields inbound agent audio as little-endian 16-bit PCM
	AudioOut() <-chan []byte

	// Done closes when the transport disconnects for any reason
	Done() <-chan struct{}

	// Close tears the transport down; idempotent
	Close() error
}

// Dialer negotiates a Transport. Implementations must release every
// partially acquired resource when negotiation fails.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}
