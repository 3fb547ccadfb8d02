// Package openairt implements the provider contract for the OpenAI Realtime
// API.
//
// The connection is a WebSocket exchanging JSON events. Caller audio is sent
// as base64-encoded input_audio_buffer.append events; agent audio arrives as
// response.audio.delta events. The session.update message declares the
// negotiated formats; OpenAI confirms them in the session.updated event,
// which the core parses as the runtime acknowledgment.
//
// OpenAI names formats rather than (encoding, rate) pairs: "pcm16" is always
// 24kHz linear PCM, "g711_ulaw" and "g711_alaw" are always 8kHz.
package openairt

import (
	"context"
	"encoding/base64"
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

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
)

// Adapter implements provider.Adapter and provider.Dialer for the OpenAI
// Realtime API.
type Adapter struct {
	apiKey  string
	model   string
	baseURL string
}

// Option is a functional option for configuring an Adapter.
type Option func(*Adapter)

// WithModel sets the model used for sessions.
func WithModel(model string) Option {
	return func(a *Adapter) { a.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(a *Adapter) { a.baseURL = url }
}

// New creates an OpenAI Realtime adapter with the given API key and options.
func New(apiKey string, opts ...Option) *Adapter {
	a := &Adapter{apiKey: apiKey, model: defaultModel, baseURL: defaultBaseURL}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return "openairt" }

// Capabilities implements provider.Adapter. The Realtime API supports exactly
// three named formats, symmetrically for input and output.
func (a *Adapter) Capabilities() provider.Capabilities {
	formats := provider.FormatSet{
		{Encoding: audio.EncodingSLIN16, Rate: 24000},
		{Encoding: audio.EncodingULaw, Rate: 8000},
		{Encoding: audio.EncodingALaw, Rate: 8000},
	}
	fallback := provider.FormatSet{
		{Encoding: audio.EncodingULaw, Rate: 8000},
		{Encoding: audio.EncodingALaw, Rate: 8000},
		{Encoding: audio.EncodingSLIN16, Rate: 24000},
	}
	return provider.Capabilities{
		Input:          formats,
		Output:         formats,
		InputFallback:  fallback,
		OutputFallback: fallback,
		CanNegotiate:   true,
	}
}

// formatName maps a canonical format to OpenAI's named format, or "" when the
// format has no Realtime equivalent.
func formatName(f audio.Format) string {
	switch {
	case f.Encoding == audio.EncodingSLIN16 && f.Rate == 24000:
		return "pcm16"
	case f.Encoding == audio.EncodingULaw && f.Rate == 8000:
		return "g711_ulaw"
	case f.Encoding == audio.EncodingALaw && f.Rate == 8000:
		return "g711_alaw"
	}
	return ""
}

// namedFormat is the inverse of formatName.
func namedFormat(name string) (audio.Format, bool) {
	switch name {
	case "pcm16":
		return audio.Format{Encoding: audio.EncodingSLIN16, Rate: 24000}, true
	case "g711_ulaw":
		return audio.Format{Encoding: audio.EncodingULaw, Rate: 8000}, true
	case "g711_alaw":
		return audio.Format{Encoding: audio.EncodingALaw, Rate: 8000}, true
	}
	return audio.Format{}, false
}

// event is the subset of Realtime event fields the core reads and writes.
type event struct {
	Type    string         `json:"type"`
	Audio   string         `json:"audio,omitempty"`
	Delta   string         `json:"delta,omitempty"`
	Session *sessionParams `json:"session,omitempty"`
}

type sessionParams struct {
	Instructions      string `json:"instructions,omitempty"`
	InputAudioFormat  string `json:"input_audio_format,omitempty"`
	OutputAudioFormat string `json:"output_audio_format,omitempty"`
}

// ParseAck implements provider.Adapter. It recognises the session.updated
// event and maps the named formats back to canonical (encoding, rate) pairs.
func (a *Adapter) ParseAck(raw []byte) (provider.Ack, bool) {
	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return provider.Ack{}, false
	}
	if ev.Type != "session.updated" || ev.Session == nil {
		return provider.Ack{}, false
	}

	in, ok := namedFormat(ev.Session.InputAudioFormat)
	if !ok {
		return provider.Ack{}, false
	}
	out, ok := namedFormat(ev.Session.OutputAudioFormat)
	if !ok {
		return provider.Ack{}, false
	}
	return provider.Ack{Input: in, Output: out}, true
}

// Dial implements provider.Dialer.
func (a *Adapter) Dial(ctx context.Context, settings provider.Settings) (provider.Conn, error) {
	inName := formatName(settings.Input)
	outName := formatName(settings.Output)
	if inName == "" || outName == "" {
		return nil, fmt.Errorf("openairt: no named format for %s/%s", settings.Input, settings.Output)
	}

	wsURL := fmt.Sprintf("%s?model=%s", a.baseURL, a.model)
	ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + a.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openairt: dial: %w", err)
	}

	c := newConn(ws)

	update := event{
		Type: "session.update",
		Session: &sessionParams{
			Instructions:      settings.Prompt,
			InputAudioFormat:  inName,
			OutputAudioFormat: outName,
		},
	}
	if err := c.writeJSON(ctx, update); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("openairt: session update: %w", err)
	}

	go c.receiveLoop()
	return c, nil
}

// conn is the live Realtime connection.
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

// receiveLoop reads Realtime events until the connection dies.
func (c *conn) receiveLoop() {
	defer close(c.audioCh)
	defer close(c.eventCh)

	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			c.setErr(err)
			return
		}

		var ev event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "response.audio.delta":
			chunk, err := base64.StdEncoding.DecodeString(ev.Delta)
			if err != nil || len(chunk) == 0 {
				continue
			}
			select {
			case c.audioCh <- chunk:
			case <-c.ctx.Done():
				return
			}

		case "response.audio.done", "response.done":
			c.emit(provider.Event{Kind: provider.EventUtteranceEnd, Raw: data})

		case "response.cancelled":
			c.emit(provider.Event{Kind: provider.EventInterrupted, Raw: data})

		default:
			// session.updated and other control events: raw for ParseAck.
			c.emit(provider.Event{Kind: provider.EventAck, Raw: data})
		}
	}
}

func (c *conn) emit(ev provider.Event) {
	select {
	case c.eventCh <- ev:
	case <-c.ctx.Done():
	}
}

// SendAudio implements provider.Conn. The chunk is base64-encoded into an
// input_audio_buffer.append event.
func (c *conn) SendAudio(chunk []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("openairt: connection closed")
	}
	return c.writeJSON(c.ctx, event{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	})
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
