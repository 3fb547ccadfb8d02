// Package playback paces synthesised agent audio onto the telephony wire.
//
// Providers push audio in bursts; the wire wants a steady cadence of
// fixed-size chunks. The [Manager] sits between them: it transcodes provider
// frames to the wire format, buffers them, and emits one chunk per tick. A
// resettable idle timer detects the end of a stream when the gap between
// provider frames exceeds the profile's idle cutoff, so a short provider
// stall never truncates an utterance.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/pkg/audio"
)

// State is the playback lifecycle for one call leg.
type State int32

const (
	// StateIdle means no utterance is in flight.
	StateIdle State = iota

	// StateStreaming means provider audio is arriving and being played.
	StateStreaming

	// StateDraining means the provider signalled the end of the utterance;
	// buffered audio is still being played out.
	StateDraining

	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// maxConsecutiveFailures is how many provider frames may fail transcoding in
// a row before the stream is considered corrupt and the call aborted.
const maxConsecutiveFailures = 5

// ErrTooManyFrameFailures reports a run of consecutive transcoding failures
// long enough to abort the call.
var ErrTooManyFrameFailures = errors.New("playback: too many consecutive frame failures")

// ErrClosed reports an operation on a Manager whose Run loop has exited.
var ErrClosed = errors.New("playback: manager closed")

// Sink receives paced wire-format audio chunks. Implemented by the
// AudioSocket connection.
type Sink interface {
	WriteAudio(chunk []byte) error
}

// Config configures a Manager for one call leg.
type Config struct {
	// CallID tags log records and metrics.
	CallID string

	// ProviderOutput is the format of audio pushed via [Manager.Enqueue].
	ProviderOutput audio.Format

	// Wire is the format delivered to the sink. Must be linear PCM.
	Wire audio.Format

	// Chunk is the delivery cadence; each tick emits Wire.BytesFor(Chunk)
	// bytes.
	Chunk time.Duration

	// IdleCutoff is the maximum gap between provider frames before the
	// current utterance is considered finished.
	IdleCutoff time.Duration

	// Sink receives the paced chunks.
	Sink Sink

	// OnPlayed, when non-nil, is called after every chunk written to the
	// sink. The gate uses it to anchor its reopen window to the last played
	// frame.
	OnPlayed func()

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Log defaults to slog.Default.
	Log *slog.Logger
}

// Manager owns the playback queue for one call leg. Enqueue and
// FinishUtterance may be called from other goroutines while Run is live; all
// pacing state is confined to the Run goroutine.
type Manager struct {
	cfg        Config
	trans      *audio.Transcoder
	chunkBytes int

	in       chan []byte
	finish   chan struct{}
	drainReq chan chan struct{}
	done     chan struct{}

	state      atomic.Int32
	failStreak atomic.Int32

	mu    sync.Mutex
	stats Stats
}

// Stats summarises one call leg's playback, for the end-of-call record.
type Stats struct {
	// Played is the total audio time delivered to the sink.
	Played time.Duration

	// Underflows counts ticks where the buffer was starved mid-stream.
	Underflows int64

	// DriftPercent is the relative difference between wall-clock time spent
	// inside utterances and delivered audio time, measured at close. Idle
	// gaps between utterances do not count.
	DriftPercent float64
}

// New creates a Manager. The returned Manager does nothing until [Manager.Run]
// is started.
func New(cfg Config) (*Manager, error) {
	if cfg.Sink == nil {
		return nil, errors.New("playback: nil sink")
	}
	if cfg.Chunk <= 0 {
		return nil, fmt.Errorf("playback: invalid chunk duration %v", cfg.Chunk)
	}
	if cfg.IdleCutoff <= 0 {
		return nil, fmt.Errorf("playback: invalid idle cutoff %v", cfg.IdleCutoff)
	}
	if cfg.Wire.Encoding != audio.EncodingSLIN16 {
		return nil, fmt.Errorf("playback: wire format must be slin16, got %s", cfg.Wire)
	}
	trans, err := audio.NewTranscoder(cfg.ProviderOutput, cfg.Wire)
	if err != nil {
		return nil, err
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	cfg.Log = cfg.Log.With("call_id", cfg.CallID)

	return &Manager{
		cfg:        cfg,
		trans:      trans,
		chunkBytes: cfg.Wire.BytesFor(cfg.Chunk),
		in:         make(chan []byte, 256),
		finish:     make(chan struct{}, 1),
		drainReq:   make(chan chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// State returns the current playback state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Stats returns the playback summary. Fully populated once Run has returned.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Enqueue transcodes one provider audio frame to the wire format and buffers
// it for paced delivery. A frame that fails transcoding is dropped and
// counted; [ErrTooManyFrameFailures] is returned once the consecutive failure
// run reaches the abort threshold, at which point the caller must end the
// call.
func (m *Manager) Enqueue(chunk []byte) error {
	wire, err := m.trans.Transcode(chunk)
	if err != nil {
		streak := m.failStreak.Add(1)
		m.cfg.Metrics.FrameFailures.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("call_id", m.cfg.CallID)))
		m.cfg.Log.Warn("dropping provider frame after transcode failure",
			"error", err, "consecutive", streak)
		if streak >= maxConsecutiveFailures {
			return ErrTooManyFrameFailures
		}
		return nil
	}
	m.failStreak.Store(0)

	// Transcode may alias its input on the fast path; copy so the caller can
	// reuse its buffer.
	cp := make([]byte, len(wire))
	copy(cp, wire)

	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	select {
	case m.in <- cp:
		return nil
	case <-m.done:
		return ErrClosed
	}
}

// FinishUtterance marks the end of the current utterance: buffered audio is
// played out and the manager returns to idle once the stream drains. Safe to
// call at any time; redundant calls are ignored.
func (m *Manager) FinishUtterance() {
	select {
	case m.finish <- struct{}{}:
	default:
	}
}

// Drain blocks until everything enqueued so far has been played out and the
// manager is back at idle. Callers use it to play buffered agent audio to the
// wire before tearing a call down. When the end of the stream was never
// signalled via [Manager.FinishUtterance], the wait is bounded by the idle
// cutoff. Returns immediately once Run has exited. Must only be called while
// Run is live.
func (m *Manager) Drain(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case m.drainReq <- ack:
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run paces buffered audio onto the sink until ctx is cancelled or the sink
// fails. It must be called exactly once.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	defer m.state.Store(int32(StateClosed))

	ticker := time.NewTicker(m.cfg.Chunk)
	defer ticker.Stop()

	// The idle timer starts disarmed; it is armed on the first frame of each
	// utterance and reset on every subsequent frame. Drain the channel before
	// each Reset to avoid a spurious immediate expiry (per the time.Timer
	// documentation).
	idle := time.NewTimer(m.cfg.IdleCutoff)
	if !idle.Stop() {
		<-idle.C
	}
	defer idle.Stop()
	resetIdle := func() {
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(m.cfg.IdleCutoff)
	}

	var (
		buf        []byte
		played     time.Duration
		underflows int64

		// activeWall accumulates wall-clock time spent inside utterances,
		// segmented per utterance so inter-utterance silence (caller turns,
		// gate reopen gaps) does not count against drift.
		activeWall time.Duration
		segStart   time.Time
		lastWrite  time.Time

		drainAcks []chan struct{}
	)

	write := func(chunk []byte) error {
		if err := m.cfg.Sink.WriteAudio(chunk); err != nil {
			return fmt.Errorf("playback: sink write: %w", err)
		}
		if segStart.IsZero() {
			segStart = time.Now()
		}
		lastWrite = time.Now()
		played += m.cfg.Chunk
		if m.cfg.OnPlayed != nil {
			m.cfg.OnPlayed()
		}
		return nil
	}

	// endSegment closes the current utterance's wall-clock window at the last
	// written chunk, so the idle gap before the cutoff fires is excluded.
	endSegment := func() {
		if !segStart.IsZero() {
			activeWall += lastWrite.Sub(segStart) + m.cfg.Chunk
			segStart = time.Time{}
		}
	}

	goIdle := func() {
		endSegment()
		m.state.Store(int32(StateIdle))
		for _, ack := range drainAcks {
			close(ack)
		}
		drainAcks = nil
		m.cfg.Log.Debug("utterance drained", "played_ms", played.Milliseconds())
	}

	finishRun := func(err error) error {
		endSegment()
		drift := 0.0
		if played > 0 {
			drift = float64(activeWall-played) / float64(played) * 100
		}
		m.cfg.Metrics.DriftPercent.Record(context.Background(), drift,
			metric.WithAttributes(attribute.String("call_id", m.cfg.CallID)))
		m.mu.Lock()
		m.stats = Stats{Played: played, Underflows: underflows, DriftPercent: drift}
		m.mu.Unlock()
		m.cfg.Log.Info("playback finished",
			"played_ms", played.Milliseconds(),
			"underflows", underflows,
			"drift_percent", fmt.Sprintf("%.2f", drift),
		)
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return finishRun(ctx.Err())

		case chunk := <-m.in:
			buf = append(buf, chunk...)
			if m.State() == StateIdle {
				m.state.Store(int32(StateStreaming))
			}
			resetIdle()

		case <-m.finish:
			if m.State() == StateStreaming {
				m.state.Store(int32(StateDraining))
				resetIdle()
			}

		case ack := <-m.drainReq:
			if m.State() == StateIdle && len(buf) == 0 && len(m.in) == 0 {
				close(ack)
				continue
			}
			if m.State() == StateStreaming {
				m.state.Store(int32(StateDraining))
				resetIdle()
			}
			drainAcks = append(drainAcks, ack)

		case <-ticker.C:
			state := m.State()
			if state == StateIdle {
				continue
			}
			switch {
			case len(buf) >= m.chunkBytes:
				if err := write(buf[:m.chunkBytes]); err != nil {
					return finishRun(err)
				}
				buf = buf[m.chunkBytes:]
				if m.State() == StateDraining && len(buf) == 0 && len(m.in) == 0 {
					goIdle()
				}
			case state == StateStreaming:
				// Starved mid-stream: the provider fell behind the wire
				// cadence. The idle timer decides whether this is a stall or
				// the end of the stream.
				underflows++
				m.cfg.Metrics.Underflows.Add(context.Background(), 1,
					metric.WithAttributes(attribute.String("call_id", m.cfg.CallID)))
			case len(buf) > 0:
				// Draining with a final partial chunk: pad with silence to
				// keep the wire cadence intact.
				final := make([]byte, m.chunkBytes)
				copy(final, buf)
				buf = buf[:0]
				if err := write(final); err != nil {
					return finishRun(err)
				}
				if len(m.in) == 0 {
					goIdle()
				}
			}

		case <-idle.C:
			if len(buf) >= m.chunkBytes || len(m.in) > 0 {
				// Audio still queued: keep playing and re-arm.
				resetIdle()
				continue
			}
			// No provider frame within the cutoff: the utterance is over.
			// Flush a trailing partial chunk padded with silence.
			if len(buf) > 0 {
				final := make([]byte, m.chunkBytes)
				copy(final, buf)
				buf = buf[:0]
				if err := write(final); err != nil {
					return finishRun(err)
				}
			}
			if s := m.State(); s == StateStreaming || s == StateDraining {
				goIdle()
			}
		}
	}
}
