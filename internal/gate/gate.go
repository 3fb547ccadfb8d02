// Package gate decides whether inbound caller audio reaches the speech
// provider. While the agent's own audio is playing, the caller leg mostly
// carries echo of that audio; forwarding it would make the agent interrupt
// itself. The gate closes on every played frame and reopens a configurable
// silence window after the last one. Optionally, caller speech loud enough to
// clear an energy threshold forces the gate open mid-playback (barge-in).
package gate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/pkg/audio"
)

const (
	// DefaultSilenceThreshold is the reopen window applied when the
	// configuration leaves silence_threshold_ms unset.
	DefaultSilenceThreshold = 300 * time.Millisecond

	// DefaultEnergyThreshold is the RMS amplitude of inbound linear PCM above
	// which caller speech counts as barge-in.
	DefaultEnergyThreshold = 2000

	// flapWarnThreshold is the per-call closure count above which the gate
	// logs a warning; rapid open/close cycling usually means the silence
	// threshold is too short for the line's echo characteristics.
	flapWarnThreshold = 3
)

// Config configures a Gate for one call.
type Config struct {
	CallID string

	// SilenceThreshold is how long after the last played agent frame the
	// gate stays closed. 0 means [DefaultSilenceThreshold].
	SilenceThreshold time.Duration

	// BargeIn enables force-opening the gate on loud caller speech.
	BargeIn bool

	// EnergyThreshold is the barge-in RMS threshold. 0 means
	// [DefaultEnergyThreshold].
	EnergyThreshold float64

	// OnBargeIn, when non-nil, is called once per barge-in, outside the
	// gate's lock. The session uses it to interrupt provider playback.
	OnBargeIn func()

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Log defaults to slog.Default.
	Log *slog.Logger
}

// Gate tracks the open/closed state for one call. Safe for concurrent use:
// playback calls [Gate.NotePlayed] while the inbound pump calls [Gate.Allow].
type Gate struct {
	cfg Config

	mu         sync.Mutex
	lastPlayed time.Time
	open       bool
	closures   int64
	flapWarned bool
}

// New creates an open Gate.
func New(cfg Config) *Gate {
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = DefaultSilenceThreshold
	}
	if cfg.EnergyThreshold <= 0 {
		cfg.EnergyThreshold = DefaultEnergyThreshold
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	cfg.Log = cfg.Log.With("call_id", cfg.CallID)
	return &Gate{cfg: cfg, open: true}
}

// NotePlayed records that one agent audio frame was just played. The gate
// closes if it was open and the reopen window restarts.
func (g *Gate) NotePlayed() {
	g.mu.Lock()
	g.lastPlayed = time.Now()
	if !g.open {
		g.mu.Unlock()
		return
	}
	g.open = false
	g.closures++
	closures := g.closures
	warn := closures > flapWarnThreshold && !g.flapWarned
	if warn {
		g.flapWarned = true
	}
	g.mu.Unlock()

	g.cfg.Metrics.GateClosures.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("call_id", g.cfg.CallID)))
	if warn {
		g.cfg.Log.Warn("gate is flapping, silence threshold may be too short",
			"closures", closures,
			"silence_threshold_ms", g.cfg.SilenceThreshold.Milliseconds(),
		)
	}
}

// Allow reports whether one inbound caller frame (wire-format linear PCM)
// should be forwarded to the provider. A closed gate reopens when the silence
// window since the last played frame has elapsed, or immediately when
// barge-in is enabled and the frame's energy clears the threshold. Dropped
// frames return false.
func (g *Gate) Allow(chunk []byte) bool {
	g.mu.Lock()
	if g.open {
		g.mu.Unlock()
		return true
	}
	if time.Since(g.lastPlayed) >= g.cfg.SilenceThreshold {
		g.open = true
		g.mu.Unlock()
		g.cfg.Log.Debug("gate reopened after silence window")
		return true
	}
	if g.cfg.BargeIn && audio.RMS(chunk) >= g.cfg.EnergyThreshold {
		g.open = true
		g.mu.Unlock()
		g.cfg.Log.Info("barge-in detected, gate force-opened")
		if g.cfg.OnBargeIn != nil {
			g.cfg.OnBargeIn()
		}
		return true
	}
	g.mu.Unlock()
	return false
}

// Open reports the current gate state.
func (g *Gate) Open() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Closures returns how many times the gate has closed during the call.
func (g *Gate) Closures() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closures
}
