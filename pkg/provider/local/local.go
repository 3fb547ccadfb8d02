// Package local implements the provider contract for a self-hosted speech
// pipeline reachable over a plain WebSocket (e.g. a whisper + TTS stack on
// the same host).
//
// The local pipeline speaks raw binary PCM in both directions with a single
// JSON control message ({"type":"flush"}) marking utterance boundaries. It
// cannot confirm formats at runtime, so its static capability declaration is
// the sole source of truth during negotiation.
package local

import (
	"context"
	"encoding/json"
	"fmt"
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

// Adapter implements provider.Adapter and provider.Dialer for a self-hosted
// pipeline.
type Adapter struct {
	url string
}

// New creates a local adapter connecting to the pipeline at url
// (e.g. "ws://127.0.0.1:8765/pipeline").
func New(url string) *Adapter {
	return &Adapter{url: url}
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return "local" }

// Capabilities implements provider.Adapter. The local pipeline processes
// 16kHz linear PCM only and never confirms formats at runtime.
func (a *Adapter) Capabilities() provider.Capabilities {
	only := provider.FormatSet{{Encoding: audio.EncodingSLIN16, Rate: 16000}}
	return provider.Capabilities{
		Input:          only,
		Output:         only,
		InputFallback:  only,
		OutputFallback: only,
		CanNegotiate:   false,
	}
}

// ParseAck implements provider.Adapter. The local pipeline sends no runtime
// confirmation, so every message is rejected.
func (a *Adapter) ParseAck([]byte) (provider.Ack, bool) {
	return provider.Ack{}, false
}

// Dial implements provider.Dialer.
func (a *Adapter) Dial(ctx context.Context, settings provider.Settings) (provider.Conn, error) {
	want := audio.Format{Encoding: audio.EncodingSLIN16, Rate: 16000}
	if settings.Input != want || settings.Output != want {
		return nil, fmt.Errorf("local: unsupported formats %s/%s", settings.Input, settings.Output)
	}

	ws, _, err := websocket.Dial(ctx, a.url, nil)
	if err != nil {
		return nil, fmt.Errorf("local: dial %s: %w", a.url, err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &conn{
		ws:      ws,
		audioCh: make(chan []byte, 64),
		eventCh: make(chan provider.Event, 16),
		ctx:     connCtx,
		cancel:  cancel,
	}

	if settings.Prompt != "" || settings.Greeting != "" {
		hello, _ := json.Marshal(map[string]string{
			"type":     "configure",
			"prompt":   settings.Prompt,
			"greeting": settings.Greeting,
		})
		if err := ws.Write(ctx, websocket.MessageText, hello); err != nil {
			cancel()
			_ = ws.Close(websocket.StatusInternalError, "configure failed")
			return nil, fmt.Errorf("local: configure: %w", err)
		}
	}

	go c.receiveLoop()
	return c, nil
}

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

func (c *conn) receiveLoop() {
	defer close(c.audioCh)
	defer close(c.eventCh)

	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			c.mu.Lock()
			if c.err == nil && !c.closed {
				c.err = err
			}
			c.mu.Unlock()
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

		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Type == "flush" {
			select {
			case c.eventCh <- provider.Event{Kind: provider.EventUtteranceEnd, Raw: data}:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *conn) SendAudio(chunk []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("local: connection closed")
	}
	return c.ws.Write(c.ctx, websocket.MessageBinary, chunk)
}

func (c *conn) Audio() <-chan []byte          { return c.audioCh }
func (c *conn) Events() <-chan provider.Event { return c.eventCh }

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.err
}

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
