package wire_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxgate/internal/wire"
)

func TestMessageRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  wire.Message
	}{
		{"hangup without payload", wire.Message{Kind: wire.KindHangup}},
		{"dtmf digit", wire.Message{Kind: wire.KindDTMF, Payload: []byte{'5'}}},
		{"20ms audio chunk", wire.Message{Kind: wire.KindAudio, Payload: make([]byte, 320)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			if err := wire.WriteMessage(&buf, tc.msg); err != nil {
				t.Fatalf("WriteMessage: %v", err)
			}
			got, err := wire.ReadMessage(&buf)
			if err != nil {
				t.Fatalf("ReadMessage: %v", err)
			}
			if got.Kind != tc.msg.Kind {
				t.Errorf("kind = %s, want %s", got.Kind, tc.msg.Kind)
			}
			if !bytes.Equal(got.Payload, tc.msg.Payload) {
				t.Errorf("payload mismatch: %d bytes vs %d", len(got.Payload), len(tc.msg.Payload))
			}
		})
	}
}

func TestReadMessageShortPayload(t *testing.T) {
	t.Parallel()

	// Header claims 320 bytes but the stream ends after 10.
	raw := append([]byte{byte(wire.KindAudio), 0x01, 0x40}, make([]byte, 10)...)
	_, err := wire.ReadMessage(bytes.NewReader(raw))
	if !errors.Is(err, wire.ErrProtocol) {
		t.Fatalf("err = %v, want ErrProtocol", err)
	}
}

func TestReadMessageEOF(t *testing.T) {
	t.Parallel()

	if _, err := wire.ReadMessage(bytes.NewReader(nil)); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestParseID(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	m := wire.Message{Kind: wire.KindID, Payload: id[:]}
	got, err := wire.ParseID(m)
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if got != id {
		t.Errorf("id = %s, want %s", got, id)
	}

	if _, err := wire.ParseID(wire.Message{Kind: wire.KindAudio}); !errors.Is(err, wire.ErrProtocol) {
		t.Errorf("audio frame accepted as id: err = %v", err)
	}
	if _, err := wire.ParseID(wire.Message{Kind: wire.KindID, Payload: []byte{1, 2}}); !errors.Is(err, wire.ErrProtocol) {
		t.Errorf("truncated uuid accepted: err = %v", err)
	}
}

// recordingHandler captures the calls the server dispatches.
type recordingHandler struct {
	calls chan *wire.Conn
}

func (h *recordingHandler) HandleCall(_ context.Context, conn *wire.Conn) {
	h.calls <- conn
	// Echo one audio frame back, then wait for hangup.
	for {
		m, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch m.Kind {
		case wire.KindAudio:
			if err := conn.WriteAudio(m.Payload); err != nil {
				return
			}
		case wire.KindHangup:
			return
		}
	}
}

func TestServerDispatchesCallWithID(t *testing.T) {
	t.Parallel()

	handler := &recordingHandler{calls: make(chan *wire.Conn, 1)}
	srv := wire.NewServer(handler, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, "127.0.0.1:0") }()

	var addr string
	for range 100 {
		if addr = srv.Addr(); addr != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("server never bound")
	}

	client, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	id := uuid.New()
	if err := wire.WriteMessage(client, wire.Message{Kind: wire.KindID, Payload: id[:]}); err != nil {
		t.Fatalf("write preamble: %v", err)
	}

	select {
	case conn := <-handler.calls:
		if conn.ID() != id {
			t.Errorf("call id = %s, want %s", conn.ID(), id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received the call")
	}

	// Round-trip one audio frame through the echo handler.
	audio := bytes.Repeat([]byte{0x7f}, 320)
	if err := wire.WriteMessage(client, wire.Message{Kind: wire.KindAudio, Payload: audio}); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	echo, err := wire.ReadMessage(client)
	if err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if echo.Kind != wire.KindAudio || !bytes.Equal(echo.Payload, audio) {
		t.Errorf("echo = %s/%d bytes", echo.Kind, len(echo.Payload))
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Serve: %v", err)
	}
}

func TestServerDropsConnWithoutPreamble(t *testing.T) {
	t.Parallel()

	handler := &recordingHandler{calls: make(chan *wire.Conn, 1)}
	srv := wire.NewServer(handler, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, "127.0.0.1:0")

	var addr string
	for range 100 {
		if addr = srv.Addr(); addr != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	client, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	// Audio before the id preamble is a protocol violation.
	if err := wire.WriteMessage(client, wire.Message{Kind: wire.KindAudio, Payload: make([]byte, 320)}); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The server should close the connection without dispatching.
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := wire.ReadMessage(client); err == nil {
		t.Error("expected connection close, got a frame")
	}
	select {
	case <-handler.calls:
		t.Error("handler received a call without preamble")
	default:
	}
	client.Close()
}
