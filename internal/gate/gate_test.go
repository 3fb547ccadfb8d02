package gate_test

import (
	"encoding/binary"
	"io"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/voxgate/internal/gate"
	"github.com/MrWong99/voxgate/internal/observe"
)

// loudChunk is 20ms of slin16 at a square-wave amplitude well above any
// sensible barge-in threshold.
func loudChunk() []byte {
	out := make([]byte, 320)
	for i := 0; i < len(out); i += 2 {
		binary.LittleEndian.PutUint16(out[i:], uint16(int16(8000)))
	}
	return out
}

func quietChunk() []byte {
	return make([]byte, 320)
}

func testGate(t *testing.T, cfg gate.Config) *gate.Gate {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	cfg.Metrics = m
	cfg.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	return gate.New(cfg)
}

func TestOpenByDefault(t *testing.T) {
	t.Parallel()

	g := testGate(t, gate.Config{})
	if !g.Open() {
		t.Fatal("new gate should be open")
	}
	if !g.Allow(quietChunk()) {
		t.Error("open gate should forward frames")
	}
}

func TestClosesOnPlayedFrame(t *testing.T) {
	t.Parallel()

	g := testGate(t, gate.Config{SilenceThreshold: time.Second})
	g.NotePlayed()
	if g.Open() {
		t.Fatal("gate should close when agent audio plays")
	}
	if g.Allow(quietChunk()) {
		t.Error("closed gate should drop quiet frames")
	}
	if got := g.Closures(); got != 1 {
		t.Errorf("closures = %d, want 1", got)
	}
}

func TestRepeatedPlaybackCountsOneClosure(t *testing.T) {
	t.Parallel()

	g := testGate(t, gate.Config{SilenceThreshold: time.Second})
	for range 10 {
		g.NotePlayed()
	}
	if got := g.Closures(); got != 1 {
		t.Errorf("closures = %d, want 1 (only open-to-closed transitions count)", got)
	}
}

func TestReopensAfterSilenceWindow(t *testing.T) {
	t.Parallel()

	g := testGate(t, gate.Config{SilenceThreshold: 30 * time.Millisecond})
	g.NotePlayed()
	if g.Allow(quietChunk()) {
		t.Fatal("gate should still be closed inside the silence window")
	}
	time.Sleep(50 * time.Millisecond)
	if !g.Allow(quietChunk()) {
		t.Error("gate should reopen after the silence window")
	}
	if !g.Open() {
		t.Error("gate should report open after reopening")
	}
}

func TestPlaybackRestartsSilenceWindow(t *testing.T) {
	t.Parallel()

	g := testGate(t, gate.Config{SilenceThreshold: 60 * time.Millisecond})
	g.NotePlayed()
	time.Sleep(40 * time.Millisecond)
	g.NotePlayed()
	time.Sleep(40 * time.Millisecond)
	// 80ms since the first frame but only 40ms since the last: still closed.
	if g.Allow(quietChunk()) {
		t.Error("window should anchor to the last played frame, not the first")
	}
}

func TestBargeInForcesOpen(t *testing.T) {
	t.Parallel()

	bargedIn := false
	g := testGate(t, gate.Config{
		SilenceThreshold: time.Second,
		BargeIn:          true,
		EnergyThreshold:  2000,
		OnBargeIn:        func() { bargedIn = true },
	})
	g.NotePlayed()

	if g.Allow(quietChunk()) {
		t.Fatal("quiet frame should not barge in")
	}
	if !g.Allow(loudChunk()) {
		t.Fatal("loud frame should force the gate open")
	}
	if !bargedIn {
		t.Error("OnBargeIn was not called")
	}
}

func TestBargeInDisabledIgnoresLoudFrames(t *testing.T) {
	t.Parallel()

	g := testGate(t, gate.Config{SilenceThreshold: time.Second})
	g.NotePlayed()
	if g.Allow(loudChunk()) {
		t.Error("loud frame should be dropped when barge-in is disabled")
	}
}
