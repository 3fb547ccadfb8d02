// Package deepgram implements the provider contract for the Deepgram Voice
// Agent API.
//
// The connection is a bidirectional WebSocket: caller audio is sent as binary
// frames, agent audio arrives as binary frames, and JSON text messages carry
// control events. A V1 Settings message declaring the negotiated input and
// output formats is sent immediately after the socket opens; Deepgram answers
// with a SettingsApplied confirmation that the core folds back into the
// transport profile before the first audio frame flows.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider"
)

// Compile-time assertions.
var (
	_ provider.Adapter = (*Adapter)(nil)
	_ provider.Dialer  = (*Adapter)(nil)
	_ provider.Conn    = (*conn)(nil)
)

const defaultBaseURL = "wss://agent.deepgram.com/v1/agent/converse"

// Adapter implements provider.Adapter and provider.Dialer for Deepgram.
type Adapter struct {
	apiKey  string
	baseURL string
}

// Option is a functional option for configuring an Adapter.
type Option func(*Adapter)

// WithBaseURL overrides the WebSocket endpoint. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(a *Adapter) { a.baseURL = url }
}

// New creates a Deepgram adapter with the given API key and options.
func New(apiKey string, opts ...Option) *Adapter {
	a := &Adapter{apiKey: apiKey, baseURL: defaultBaseURL}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return "deepgram" }

// Capabilities implements provider.Adapter. Deepgram accepts linear PCM at
// the common telephony and wideband rates plus G.711 at 8kHz, and can
// synthesise in either companded format or linear PCM.
func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Input: provider.FormatSet{
			{Encoding: audio.EncodingSLIN16, Rate: 8000},
			{Encoding: audio.EncodingSLIN16, Rate: 16000},
			{Encoding: audio.EncodingSLIN16, Rate: 24000},
			{Encoding: audio.EncodingSLIN16, Rate: 48000},
			{Encoding: audio.EncodingULaw, Rate: 8000},
			{Encoding: audio.EncodingALaw, Rate: 8000},
		},
		Output: provider.FormatSet{
			{Encoding: audio.EncodingULaw, Rate: 8000},
			{Encoding: audio.EncodingALaw, Rate: 8000},
			{Encoding: audio.EncodingSLIN16, Rate: 8000},
			{Encoding: audio.EncodingSLIN16, Rate: 16000},
			{Encoding: audio.EncodingSLIN16, Rate: 24000},
		},
		InputFallback: provider.FormatSet{
			{Encoding: audio.EncodingSLIN16, Rate: 16000},
			{Encoding: audio.EncodingSLIN16, Rate: 8000},
			{Encoding: audio.EncodingULaw, Rate: 8000},
		},
		OutputFallback: provider.FormatSet{
			{Encoding: audio.EncodingULaw, Rate: 8000},
			{Encoding: audio.EncodingSLIN16, Rate: 8000},
			{Encoding: audio.EncodingSLIN16, Rate: 16000},
		},
		CanNegotiate: true,
	}
}

// settingsMessage is the V1 Settings message sent after connecting.
type settingsMessage struct {
	Type  string        `json:"type"`
	Audio audioSettings `json:"audio"`
	Agent agentSettings `json:"agent,omitempty"`
}

type audioSettings struct {
	Input  formatSettings `json:"input"`
	Output formatSettings `json:"output"`
}

type formatSettings struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Container  string `json:"container,omitempty"`
}

type agentSettings struct {
	Prompt   string `json:"prompt,omitempty"`
	Greeting string `json:"greeting,omitempty"`
}

// controlMessage is the subset of Deepgram's JSON events the core cares about.
type controlMessage struct {
	Type  string         `json:"type"`
	Audio *audioSettings `json:"audio,omitempty"`
}

// wireEncoding maps a canonical encoding to Deepgram's wire spelling.
func wireEncoding(e audio.Encoding) string {
	switch e {
	case audio.EncodingULaw:
		return "mulaw"
	case audio.EncodingALaw:
		return "alaw"
	default:
		return "linear16"
	}
}

// ParseAck implements provider.Adapter. It recognises the SettingsApplied
// event, which echoes the applied audio settings, and normalises it into a
// provider.Ack. Any other event type returns false.
func (a *Adapter) ParseAck(raw []byte) (provider.Ack, bool) {
	var msg controlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return provider.Ack{}, false
	}
	if msg.Type != "SettingsApplied" || msg.Audio == nil {
		return provider.Ack{}, false
	}

	in, err := audio.ParseEncoding(msg.Audio.Input.Encoding)
	if err != nil {
		return provider.Ack{}, false
	}
	out, err := audio.ParseEncoding(msg.Audio.Output.Encoding)
	if err != nil {
		return provider.Ack{}, false
	}
	if msg.Audio.Input.SampleRate <= 0 || msg.Audio.Output.SampleRate <= 0 {
		return provider.Ack{}, false
	}

	return provider.Ack{
		Input:  audio.Format{Encoding: in, Rate: msg.Audio.Input.SampleRate},
		Output: audio.Format{Encoding: out, Rate: msg.Audio.Output.SampleRate},
	}, true
}

// Dial implements provider.Dialer. It opens the WebSocket, sends the Settings
// message built from the negotiated formats, and starts the receive loop.
func (a *Adapter) Dial(ctx context.Context, settings provider.Settings) (provider.Conn, error) {
	ws, _, err := websocket.Dial(ctx, a.baseURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Token " + a.apiKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	c := newConn(ws)

	msg := settingsMessage{
		Type: "Settings",
		Audio: audioSettings{
			Input: formatSettings{
				Encoding:   wireEncoding(settings.Input.Encoding),
				SampleRate: settings.Input.Rate,
			},
			Output: formatSettings{
				Encoding:   wireEncoding(settings.Output.Encoding),
				SampleRate: settings.Output.Rate,
				Container:  "none",
			},
		},
		Agent: agentSettings{
			Prompt:   settings.Prompt,
			Greeting: settings.Greeting,
		},
	}
	if err := c.writeJSON(ctx, msg); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("deepgram: send settings: %w", err)
	}

	go c.receiveLoop()
	return c, nil
}

// conn is the live Deepgram connection.
type conn struct {
	ws *websocket.Conn

	audioCh chan []byte
	eventCh chan provider.Event

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool
}

func newConn(ws *websocket.Conn) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		ws:      ws,
		audioCh: make(chan []byte, 64),
		eventCh: make(chan provider.Event, 16),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (c *conn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads WebSocket messages until the connection dies. Binary
// frames are agent audio; text frames are control events.
func (c *conn) receiveLoop() {
	defer close(c.audioCh)
	defer close(c.eventCh)

	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			c.setErr(err)
			return
		}

		if typ == websocket.MessageBinary {
			select {
			case c.audioCh <- data:
			case <-c.ctx.Done():
				return
			}
			continue
		}

		ev := c.classify(data)
		select {
		case c.eventCh <- ev:
		case <-c.ctx.Done():
			return
		}
	}
}

// classify maps a Deepgram JSON event onto the provider event kinds.
func (c *conn) classify(data []byte) provider.Event {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return provider.Event{Kind: provider.EventAck, Raw: data}
	}
	switch msg.Type {
	case "AgentAudioDone":
		return provider.Event{Kind: provider.EventUtteranceEnd, Raw: data}
	case "UserStartedSpeaking":
		return provider.Event{Kind: provider.EventInterrupted, Raw: data}
	default:
		// SettingsApplied and everything else: surface raw for ParseAck.
		return provider.Event{Kind: provider.EventAck, Raw: data}
	}
}

// SendAudio implements provider.Conn.
func (c *conn) SendAudio(chunk []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("deepgram: connection closed")
	}
	return c.ws.Write(c.ctx, websocket.MessageBinary, chunk)
}

// Audio implements provider.Conn.
func (c *conn) Audio() <-chan []byte { return c.audioCh }

// Events implements provider.Conn.
func (c *conn) Events() <-chan provider.Event { return c.eventCh }

// Err implements provider.Conn.
func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.err
}

func (c *conn) setErr(err error) {
	c.mu.Lock()
	if c.err == nil && !c.closed {
		c.err = err
	}
	c.mu.Unlock()
}

// Close implements provider.Conn.
func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	return c.ws.Close(websocket.StatusNormalClosure, "call ended")
}
