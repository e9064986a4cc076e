package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/yusufsallam64/diagnosure/internal/audio"
)

// WebSocketDialer negotiates the fallback transport: the same event taxonomy
// over a single websocket, with mic audio sent as base64 append events and
// agent audio received as audio delta events. Used where a peer-to-peer media
// path cannot be established.
type WebSocketDialer struct {
	apiKey  string
	model   string
	baseURL string
	vad     *audio.VADConfig
	logger  zerolog.Logger
}

// NewWebSocketDialer creates a dialer for the websocket transport. The VAD
// config drives client-side turn commits since there is no media-path turn
// detection on this transport.
func NewWebSocketDialer(apiKey, model, baseURL string, vad *audio.VADConfig, logger zerolog.Logger) *WebSocketDialer {
	return &WebSocketDialer{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		vad:     vad,
		logger:  logger.With().Str("component", "ws-transport").Logger(),
	}
}

// Dial opens the websocket and starts the read loop
func (d *WebSocketDialer) Dial(ctx context.Context) (Transport, error) {
	url := wsURL(d.baseURL) + "?model=" + d.model

	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		stage := "sdp"
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			stage = "credential"
		}
		return nil, &NegotiationError{Stage: stage, Err: err}
	}

	t := &wsTransport{
		conn:     conn,
		vad:      audio.NewVADDetector(d.vad),
		logger:   d.logger,
		events:   make(chan []byte, 64),
		audioOut: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
	go t.readLoop()

	d.logger.Info().Str("model", d.model).Msg("realtime websocket connected")
	return t, nil
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

type wsTransport struct {
	conn    *websocket.Conn
	vad     *audio.VADDetector
	logger  zerolog.Logger
	writeMu sync.Mutex

	events   chan []byte
	audioOut chan []byte
	done     chan struct{}

	closeOnce sync.Once
	doneOnce  sync.Once
}

// readLoop splits inbound messages between the audio path and the event
// channel; audio delta events never reach the interpreter.
func (t *wsTransport) readLoop() {
	defer func() {
		close(t.events)
		t.signalDone()
	}()

	for {
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			// Leave malformed payloads to the interpreter to log and drop
			select {
			case t.events <- raw:
			default:
			}
			continue
		}

		switch envelope.Type {
		case "response.output_audio.delta", "response.audio.delta":
			var event AudioDeltaEvent
			if err := json.Unmarshal(raw, &event); err != nil {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(event.Delta)
			if err != nil {
				t.logger.Warn().Err(err).Msg("undecodable audio delta")
				continue
			}
			select {
			case t.audioOut <- pcm:
			case <-t.done:
				return
			default:
			}

		default:
			select {
			case t.events <- raw:
			default:
				t.logger.Warn().Str("type", envelope.Type).Msg("event dropped, consumer too slow")
			}
		}
	}
}

func (t *wsTransport) signalDone() {
	t.doneOnce.Do(func() { close(t.done) })
}

func (t *wsTransport) Send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// SendAudio appends mic audio to the remote input buffer and commits the
// buffer when local voice activity detection reports the utterance ended.
func (t *wsTransport) SendAudio(pcm []byte) error {
	samples, err := audio.PCM16BytesToSamples(pcm)
	if err != nil {
		return err
	}

	if err := t.Send(InputAudioAppendPayload(base64.StdEncoding.EncodeToString(pcm))); err != nil {
		return err
	}

	_, _, speechEnded := t.vad.ProcessFrame(samples)
	if speechEnded {
		return t.Send(InputAudioCommitPayload())
	}
	return nil
}

func (t *wsTransport) Events() <-chan []byte {
	return t.events
}

func (t *wsTransport) AudioOut() <-chan []byte {
	return t.audioOut
}

func (t *wsTransport) Done() <-chan struct{} {
	return t.done
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
		err = t.conn.Close()
		t.signalDone()
	})
	return err
}
