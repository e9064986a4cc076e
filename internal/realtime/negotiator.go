package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"

	"github.com/yusufsallam64/diagnosure/internal/audio"
	"github.com/yusufsallam64/diagnosure/internal/observability"
)

const (
	sideChannelLabel = "oai-events"
	pcmuSampleRate   = 8000
	frameDuration    = 20 * time.Millisecond
	openWaitTimeout  = 10 * time.Second
)

// WebRTCDialer negotiates a peer connection with the realtime service: it
// exchanges an ephemeral credential, offers a local session description with
// a PCMU audio track and the side channel, and awaits remote acceptance.
// Negotiation is strictly sequential and never retried here.
type WebRTCDialer struct {
	apiKey        string
	model         string
	voice         string
	baseURL       string
	credentialURL string
	sampleRate    int
	httpClient    *http.Client
	metrics       *observability.Metrics
	logger        zerolog.Logger

	newPeerConnection func(api *webrtc.API) (*webrtc.PeerConnection, error)
}

// NewWebRTCDialer creates a dialer for the peer-to-peer transport. sampleRate
// is the local device rate; the wire always carries 8 kHz PCMU.
func NewWebRTCDialer(apiKey, model, voice, baseURL, credentialURL string, sampleRate int, metrics *observability.Metrics, logger zerolog.Logger) *WebRTCDialer {
	return &WebRTCDialer{
		apiKey:        apiKey,
		model:         model,
		voice:         voice,
		baseURL:       baseURL,
		credentialURL: credentialURL,
		sampleRate:    sampleRate,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		metrics:       metrics,
		logger:        logger.With().Str("component", "negotiator").Logger(),
		newPeerConnection: func(api *webrtc.API) (*webrtc.PeerConnection, error) {
			return api.NewPeerConnection(webrtc.Configuration{})
		},
	}
}

type credentialResponse struct {
	ClientSecret struct {
		Value string `json:"value"`
	} `json:"client_secret"`
}

// fetchCredential exchanges the API key for a short-lived session token.
// Called exactly once per negotiation attempt.
func (d *WebRTCDialer) fetchCredential(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"model": d.model,
		"voice": d.voice,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.credentialURL, strings.NewReader(string(payload)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("credential exchange returned status %d: %s", resp.StatusCode, msg)
	}

	var cred credentialResponse
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return "", err
	}
	if cred.ClientSecret.Value == "" {
		return "", fmt.Errorf("credential response missing client secret")
	}

	return cred.ClientSecret.Value, nil
}

// Dial runs the full negotiation sequence. On any failure every partially
// acquired resource is released before the error is returned.
func (d *WebRTCDialer) Dial(ctx context.Context) (Transport, error) {
	token, err := d.fetchCredential(ctx)
	if err != nil {
		if d.metrics != nil {
			d.metrics.RecordNegotiationFailure("credential")
		}
		return nil, &NegotiationError{Stage: "credential", Err: err}
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypePCMU,
			ClockRate: pcmuSampleRate,
			Channels:  1,
		},
		PayloadType: 0,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, &NegotiationError{Stage: "media", Err: err}
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))

	pc, err := d.newPeerConnection(api)
	if err != nil {
		if d.metrics != nil {
			d.metrics.RecordNegotiationFailure("media")
		}
		return nil, &NegotiationError{Stage: "media", Err: err}
	}

	fail := func(stage string, err error) (Transport, error) {
		pc.Close()
		if d.metrics != nil {
			d.metrics.RecordNegotiationFailure(stage)
		}
		return nil, &NegotiationError{Stage: stage, Err: err}
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypePCMU,
		ClockRate: pcmuSampleRate,
		Channels:  1,
	}, "audio", "microphone")
	if err != nil {
		return fail("media", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		return fail("media", err)
	}

	// Side channel: ordered and reliable by default
	dc, err := pc.CreateDataChannel(sideChannelLabel, nil)
	if err != nil {
		return fail("media", err)
	}

	transport := newWebRTCTransport(pc, dc, track, d.sampleRate, d.logger)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail("sdp", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail("sdp", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return fail("sdp", ctx.Err())
	}

	answer, err := d.exchangeSDP(ctx, token, pc.LocalDescription().SDP)
	if err != nil {
		return fail("sdp", err)
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fail("sdp", err)
	}

	// The answer alone does not make the side channel usable; wait for the
	// channel to actually open before handing the transport out.
	if err := transport.awaitOpen(ctx); err != nil {
		return fail("media", err)
	}

	d.logger.Info().Str("model", d.model).Msg("realtime transport negotiated")
	return transport, nil
}

// exchangeSDP posts the local offer and returns the remote answer
func (d *WebRTCDialer) exchangeSDP(ctx context.Context, token, offerSDP string) (string, error) {
	url := fmt.Sprintf("%s?model=%s", d.baseURL, d.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(offerSDP))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("description exchange returned status %d: %s", resp.StatusCode, msg)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// webRTCTransport wraps an established peer connection
type webRTCTransport struct {
	pc         *webrtc.PeerConnection
	dc         *webrtc.DataChannel
	track      *webrtc.TrackLocalStaticSample
	sampleRate int
	logger     zerolog.Logger

	events   chan []byte
	audioOut chan []byte
	opened   chan struct{}
	done     chan struct{}

	closeOnce sync.Once
	eventOnce sync.Once
	openOnce  sync.Once
	doneOnce  sync.Once
}

func newWebRTCTransport(pc *webrtc.PeerConnection, dc *webrtc.DataChannel, track *webrtc.TrackLocalStaticSample, sampleRate int, logger zerolog.Logger) *webRTCTransport {
	t := &webRTCTransport{
		pc:         pc,
		dc:         dc,
		track:      track,
		sampleRate: sampleRate,
		logger:     logger,
		events:     make(chan []byte, 64),
		audioOut:   make(chan []byte, 64),
		opened:     make(chan struct{}),
		done:       make(chan struct{}),
	}

	dc.OnOpen(func() {
		t.openOnce.Do(func() { close(t.opened) })
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.deliverEvent(msg.Data)
	})

	dc.OnClose(func() {
		t.eventOnce.Do(func() { close(t.events) })
		t.signalDone()
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Debug().Str("state", state.String()).Msg("connection state changed")
		switch state {
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			t.signalDone()
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		go t.readRemoteAudio(remote)
	})

	return t
}

// awaitOpen blocks until the side channel opens. The side channel is only
// usable after the open handshake; returning the transport earlier would let
// the first Send fail against a connecting channel.
func (t *webRTCTransport) awaitOpen(ctx context.Context) error {
	timer := time.NewTimer(openWaitTimeout)
	defer timer.Stop()

	select {
	case <-t.opened:
		return nil
	case <-t.done:
		return fmt.Errorf("transport closed before the side channel opened")
	case <-timer.C:
		return fmt.Errorf("timed out waiting for the side channel to open")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliverEvent hands one side-channel message to the consumer. The channel is
// ordered and reliable; delivery blocks rather than dropping, bounded by
// transport shutdown.
func (t *webRTCTransport) deliverEvent(data []byte) {
	select {
	case t.events <- data:
	case <-t.done:
	}
}

// readRemoteAudio decodes inbound PCMU packets to linear PCM for playback
func (t *webRTCTransport) readRemoteAudio(remote *webrtc.TrackRemote) {
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		pcm, err := t.decodeInbound(pkt.Payload)
		if err != nil {
			continue
		}

		select {
		case t.audioOut <- pcm:
		case <-t.done:
			return
		default:
			// Playback buffer behind; drop the frame rather than stall
		}
	}
}

// decodeInbound converts a PCMU payload to linear PCM at the device rate
func (t *webRTCTransport) decodeInbound(payload []byte) ([]byte, error) {
	pcm, err := audio.ConvertPCMUToPCM(payload)
	if err != nil {
		return nil, err
	}
	if t.sampleRate == pcmuSampleRate {
		return pcm, nil
	}

	samples, err := audio.PCM16BytesToSamples(pcm)
	if err != nil {
		return nil, err
	}
	return audio.SamplesToPCM16Bytes(audio.Resample(samples, pcmuSampleRate, t.sampleRate)), nil
}

func (t *webRTCTransport) signalDone() {
	t.doneOnce.Do(func() { close(t.done) })
}

func (t *webRTCTransport) Send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return t.dc.SendText(string(data))
}

func (t *webRTCTransport) Events() <-chan []byte {
	return t.events
}

// encodeOutbound resamples a device-rate PCM frame to the 8 kHz wire rate
// and encodes it as PCMU
func (t *webRTCTransport) encodeOutbound(pcm []byte) ([]byte, error) {
	return audio.ConvertPCMToPCMU(pcm, t.sampleRate, pcmuSampleRate)
}

// SendAudio writes one encoded microphone frame to the media track
func (t *webRTCTransport) SendAudio(pcm []byte) error {
	pcmu, err := t.encodeOutbound(pcm)
	if err != nil {
		return err
	}
	return t.track.WriteSample(media.Sample{
		Data:     pcmu,
		Duration: frameDuration,
	})
}

func (t *webRTCTransport) AudioOut() <-chan []byte {
	return t.audioOut
}

func (t *webRTCTransport) Done() <-chan struct{} {
	return t.done
}

func (t *webRTCTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.dc.Close()
		err = t.pc.Close()
		t.signalDone()
	})
	return err
}
