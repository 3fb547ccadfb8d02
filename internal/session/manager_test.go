package session_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/voxgate/internal/calllog"
	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/session"
	"github.com/MrWong99/voxgate/internal/transport"
	"github.com/MrWong99/voxgate/internal/wire"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider"
	"github.com/MrWong99/voxgate/pkg/provider/mock"
)

var (
	slin8 = audio.Format{Encoding: audio.EncodingSLIN16, Rate: 8000}
	ulaw8 = audio.Format{Encoding: audio.EncodingULaw, Rate: 8000}
)

// harness wires a media server, a session manager with a mock provider, and
// a fake Asterisk client together.
type harness struct {
	adapter *mock.Adapter
	store   *calllog.MemoryStore
	client  net.Conn
	callID  uuid.UUID

	mu     sync.Mutex
	frames []wire.Message
}

func newHarness(t *testing.T, adapter *mock.Adapter) *harness {
	t.Helper()
	return newHarnessAck(t, adapter, time.Second)
}

// newHarnessAck is newHarness with an explicit provider ack window, for tests
// that need the window to expire quickly.
func newHarnessAck(t *testing.T, adapter *mock.Adapter, ackTimeout time.Duration) *harness {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	cfg := &config.Config{
		DefaultProvider: "mock",
		Audio: config.AudioConfig{
			DefaultProfile: "test",
			Profiles: map[string]config.Profile{
				"test": {
					InternalRate:   8000,
					Wire:           slin8,
					ProviderInput:  slin8,
					ProviderOutput: slin8,
					ChunkMs:        20,
					IdleCutoffMs:   80,
				},
			},
		},
	}
	reg, err := transport.NewRegistry(cfg, map[string]transport.Binding{
		"mock": {Adapter: adapter, Dialer: adapter, AckTimeout: ackTimeout},
	}, log)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	store := calllog.NewMemoryStore()
	mgr := session.NewManager(session.Config{
		Orchestrator: transport.NewOrchestrator(reg, metrics, log),
		Gate:         config.GateConfig{SilenceThresholdMs: 30},
		Store:        store,
		Metrics:      metrics,
		Log:          log,
	})

	srv := wire.NewServer(mgr, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx, "127.0.0.1:0")

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr = srv.Addr(); addr != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("media server never bound")
	}

	client, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	h := &harness{adapter: adapter, store: store, client: client, callID: uuid.New()}
	if err := wire.WriteMessage(client, wire.Message{Kind: wire.KindID, Payload: h.callID[:]}); err != nil {
		t.Fatalf("write preamble: %v", err)
	}
	go h.collectFrames()
	return h
}

func (h *harness) collectFrames() {
	for {
		m, err := wire.ReadMessage(h.client)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.frames = append(h.frames, m)
		h.mu.Unlock()
	}
}

func (h *harness) framesOf(kind wire.Kind) []wire.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []wire.Message
	for _, m := range h.frames {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// providerConn polls until the manager has dialed the mock provider.
func (h *harness) providerConn(t *testing.T) *mock.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c := h.adapter.LastConn(); c != nil {
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("provider was never dialed")
	return nil
}

// waitRecord polls until one call record lands in the store.
func (h *harness) waitRecord(t *testing.T) calllog.Record {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		recs, err := h.store.Recent(context.Background(), 1)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(recs) > 0 {
			return recs[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no call record written")
	return calllog.Record{}
}

func TestCallerAudioReachesProvider(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &mock.Adapter{AdapterName: "mock"})
	pconn := h.providerConn(t)

	chunk := make([]byte, 320)
	for range 3 {
		if err := wire.WriteMessage(h.client, wire.Message{Kind: wire.KindAudio, Payload: chunk}); err != nil {
			t.Fatalf("write audio: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(pconn.Sent()) >= 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(pconn.Sent()); got < 3 {
		t.Fatalf("provider received %d chunks, want 3", got)
	}

	// Provider closes the stream; the call must end with a record.
	pconn.Finish()
	rec := h.waitRecord(t)
	if rec.EndReason != "provider_closed" {
		t.Errorf("end reason = %q, want provider_closed", rec.EndReason)
	}
	if rec.Provider != "mock" || rec.Profile != "test" {
		t.Errorf("record = %q/%q", rec.Provider, rec.Profile)
	}
	if rec.CallID != h.callID.String() {
		t.Errorf("call id = %q, want %q", rec.CallID, h.callID)
	}
}

func TestAgentAudioReachesCaller(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &mock.Adapter{AdapterName: "mock"})
	pconn := h.providerConn(t)

	// 4 chunks of agent audio at the wire format.
	pconn.PushAudio(make([]byte, 4*320))
	pconn.PushEvent(provider.Event{Kind: provider.EventUtteranceEnd})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(h.framesOf(wire.KindAudio)) >= 4 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := h.framesOf(wire.KindAudio)
	if len(got) < 4 {
		t.Fatalf("caller received %d audio frames, want 4", len(got))
	}
	for i, m := range got {
		if len(m.Payload) != 320 {
			t.Errorf("frame %d: %d bytes, want 320", i, len(m.Payload))
		}
	}

	pconn.Finish()
	h.waitRecord(t)
}

func TestProviderDisconnectDrainsBufferedAudio(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &mock.Adapter{AdapterName: "mock"})
	pconn := h.providerConn(t)

	// The provider delivers a whole utterance in one burst and disconnects
	// before any of it has been paced onto the wire. The buffered audio must
	// still reach the caller before the call tears down.
	pconn.PushAudio(make([]byte, 6*320))
	pconn.Finish()

	rec := h.waitRecord(t)
	if rec.EndReason != "provider_closed" {
		t.Errorf("end reason = %q, want provider_closed", rec.EndReason)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(h.framesOf(wire.KindAudio)) >= 6 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := h.framesOf(wire.KindAudio); len(got) < 6 {
		t.Errorf("caller received %d audio frames, want 6 (buffered audio discarded)", len(got))
	}
}

func TestCallerHangupEndsCall(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &mock.Adapter{AdapterName: "mock"})
	pconn := h.providerConn(t)

	if err := wire.WriteMessage(h.client, wire.Message{Kind: wire.KindHangup}); err != nil {
		t.Fatalf("write hangup: %v", err)
	}

	rec := h.waitRecord(t)
	if rec.EndReason != "hangup" {
		t.Errorf("end reason = %q, want hangup", rec.EndReason)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pconn.Closed() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("provider connection was not closed after hangup")
}

func TestRuntimeConfirmationUpdatesProfile(t *testing.T) {
	t.Parallel()

	caps := provider.Capabilities{
		Input:        provider.FormatSet{slin8, ulaw8},
		Output:       provider.FormatSet{slin8, ulaw8},
		CanNegotiate: true,
	}
	h := newHarness(t, &mock.Adapter{AdapterName: "mock", Caps: caps})
	pconn := h.providerConn(t)

	// The provider confirms a different output format inside the ack window.
	pconn.PushEvent(provider.Event{Kind: provider.EventAck, Raw: mock.Ack(slin8, ulaw8)})

	// Give the session time to lock, then finish the call and inspect the
	// record.
	time.Sleep(100 * time.Millisecond)
	pconn.Finish()

	rec := h.waitRecord(t)
	if rec.ProviderOutput != ulaw8.String() {
		t.Errorf("provider output = %q, want %q (confirmation not applied)", rec.ProviderOutput, ulaw8)
	}
	if rec.ProviderInput != slin8.String() {
		t.Errorf("provider input = %q, want %q", rec.ProviderInput, slin8)
	}
}

func TestLateConfirmationDoesNotReopenProfile(t *testing.T) {
	t.Parallel()

	caps := provider.Capabilities{
		Input:        provider.FormatSet{slin8, ulaw8},
		Output:       provider.FormatSet{slin8, ulaw8},
		CanNegotiate: true,
	}
	h := newHarnessAck(t, &mock.Adapter{AdapterName: "mock", Caps: caps}, 50*time.Millisecond)
	pconn := h.providerConn(t)

	// Let the ack window expire so the profile locks on the negotiated
	// formats, then deliver a confirmation that disagrees with them. The
	// locked profile must win.
	time.Sleep(300 * time.Millisecond)
	pconn.PushEvent(provider.Event{Kind: provider.EventAck, Raw: mock.Ack(slin8, ulaw8)})
	time.Sleep(50 * time.Millisecond)
	pconn.Finish()

	rec := h.waitRecord(t)
	if rec.ProviderOutput != slin8.String() {
		t.Errorf("provider output = %q, want %q (late confirmation applied after lock)", rec.ProviderOutput, slin8)
	}
	if rec.ProviderInput != slin8.String() {
		t.Errorf("provider input = %q, want %q", rec.ProviderInput, slin8)
	}
}
