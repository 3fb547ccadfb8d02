// Package mock provides in-memory implementations of the provider contract
// for tests. No network connections are made.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider"
)

// Compile-time assertions.
var (
	_ provider.Adapter = (*Adapter)(nil)
	_ provider.Dialer  = (*Adapter)(nil)
	_ provider.Conn    = (*Conn)(nil)
)

// Adapter is a configurable provider.Adapter and provider.Dialer test double.
// The zero value declares support for slin16@8000 in both directions and
// cannot negotiate.
type Adapter struct {
	// AdapterName overrides the reported name. Default "mock".
	AdapterName string

	// Caps is returned by Capabilities. When zero, a slin16@8000-only
	// declaration is used.
	Caps provider.Capabilities

	// DialErr, when non-nil, is returned by every Dial call.
	DialErr error

	mu    sync.Mutex
	conns []*Conn
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string {
	if a.AdapterName != "" {
		return a.AdapterName
	}
	return "mock"
}

// Capabilities implements provider.Adapter.
func (a *Adapter) Capabilities() provider.Capabilities {
	if len(a.Caps.Input) > 0 || len(a.Caps.Output) > 0 {
		return a.Caps
	}
	only := provider.FormatSet{{Encoding: audio.EncodingSLIN16, Rate: 8000}}
	return provider.Capabilities{
		Input:          only,
		Output:         only,
		InputFallback:  only,
		OutputFallback: only,
	}
}

// ackMessage is the mock's runtime confirmation wire shape.
type ackMessage struct {
	Type   string `json:"type"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Ack builds a raw confirmation payload that ParseAck will accept. Use it to
// script runtime confirmations in tests.
func Ack(input, output audio.Format) []byte {
	raw, _ := json.Marshal(ackMessage{Type: "ack", Input: input.String(), Output: output.String()})
	return raw
}

// ParseAck implements provider.Adapter.
func (a *Adapter) ParseAck(raw []byte) (provider.Ack, bool) {
	var msg ackMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "ack" {
		return provider.Ack{}, false
	}
	in, err := audio.ParseFormat(msg.Input)
	if err != nil {
		return provider.Ack{}, false
	}
	out, err := audio.ParseFormat(msg.Output)
	if err != nil {
		return provider.Ack{}, false
	}
	return provider.Ack{Input: in, Output: out}, true
}

// Dial implements provider.Dialer. Each call returns a fresh [Conn]; the
// adapter records it for retrieval via [Adapter.LastConn].
func (a *Adapter) Dial(_ context.Context, settings provider.Settings) (provider.Conn, error) {
	if a.DialErr != nil {
		return nil, a.DialErr
	}
	c := NewConn(settings)
	a.mu.Lock()
	a.conns = append(a.conns, c)
	a.mu.Unlock()
	return c, nil
}

// LastConn returns the most recently dialed Conn, or nil if Dial was never
// called.
func (a *Adapter) LastConn() *Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.conns) == 0 {
		return nil
	}
	return a.conns[len(a.conns)-1]
}

// Conn is a scriptable provider.Conn. Tests push agent audio with
// [Conn.PushAudio] and control events with [Conn.PushEvent], and inspect
// caller audio via [Conn.Sent].
type Conn struct {
	Settings provider.Settings

	audioCh chan []byte
	eventCh chan provider.Event

	mu     sync.Mutex
	sent   [][]byte
	err    error
	closed bool
}

// NewConn returns an open mock connection.
func NewConn(settings provider.Settings) *Conn {
	return &Conn{
		Settings: settings,
		audioCh:  make(chan []byte, 64),
		eventCh:  make(chan provider.Event, 16),
	}
}

// PushAudio delivers one agent audio chunk to the core.
func (c *Conn) PushAudio(chunk []byte) {
	c.audioCh <- chunk
}

// PushEvent delivers one control event to the core.
func (c *Conn) PushEvent(ev provider.Event) {
	c.eventCh <- ev
}

// Finish closes the audio and event channels, simulating a provider-side
// end of stream. The connection error, if any, must be set first via
// [Conn.Fail].
func (c *Conn) Finish() {
	close(c.audioCh)
	close(c.eventCh)
}

// Fail records err as the connection's terminal error.
func (c *Conn) Fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// Sent returns a copy of all caller audio chunks sent so far.
func (c *Conn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// SendAudio implements provider.Conn.
func (c *Conn) SendAudio(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("mock: connection closed")
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	c.sent = append(c.sent, cp)
	return nil
}

// Audio implements provider.Conn.
func (c *Conn) Audio() <-chan []byte { return c.audioCh }

// Events implements provider.Conn.
func (c *Conn) Events() <-chan provider.Event { return c.eventCh }

// Err implements provider.Conn.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close implements provider.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
