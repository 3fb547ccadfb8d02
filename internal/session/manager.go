package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxgate/internal/calllog"
	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/internal/gate"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/transport"
	"github.com/MrWong99/voxgate/internal/wire"
)

// recordTimeout bounds the call-record insert after a call ends, so a slow
// database never holds a finished call's goroutine hostage.
const recordTimeout = 5 * time.Second

// Config configures the session Manager.
type Config struct {
	// Orchestrator resolves the per-call transport profile.
	Orchestrator *transport.Orchestrator

	// Gate tunes the self-interruption gate for every call.
	Gate config.GateConfig

	// Store receives one record per finished call. Required; use
	// [calllog.NewMemoryStore] when persistence is not configured.
	Store calllog.Store

	// Overrides, when non-nil, supplies the per-call transport selections
	// for a call UUID (from dialplan conventions, a CRM lookup, or static
	// deployment rules). Nil means no overrides for any call.
	Overrides func(callID uuid.UUID) transport.Overrides

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Log defaults to slog.Default.
	Log *slog.Logger
}

// Manager creates and tracks sessions. It implements [wire.Handler], so it
// plugs directly into the media server.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	wg       sync.WaitGroup
}

var _ wire.Handler = (*Manager)(nil)

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Store == nil {
		cfg.Store = calllog.NewMemoryStore()
	}
	return &Manager{cfg: cfg, sessions: make(map[uuid.UUID]*Session)}
}

// ActiveCalls returns the number of live sessions.
func (m *Manager) ActiveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Wait blocks until every in-flight call has finished. Call after the media
// server has stopped accepting.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// HandleCall implements [wire.Handler]. It resolves the transport profile,
// runs the call to completion, and writes the summary record.
func (m *Manager) HandleCall(ctx context.Context, conn *wire.Conn) {
	m.wg.Add(1)
	defer m.wg.Done()

	id := conn.ID()
	log := m.cfg.Log.With("call_id", id.String())
	log.Info("call started")

	var ov transport.Overrides
	if m.cfg.Overrides != nil {
		ov = m.cfg.Overrides(id)
	}

	tp, binding, err := m.cfg.Orchestrator.Resolve(ctx, ov)
	if err != nil {
		log.Error("transport resolution failed, rejecting call", "error", err)
		conn.Hangup()
		return
	}

	s := &Session{
		id:      id,
		tp:      tp,
		binding: binding,
		wire:    conn,
		gate: gate.New(gate.Config{
			CallID:           id.String(),
			SilenceThreshold: time.Duration(m.cfg.Gate.SilenceThresholdMs) * time.Millisecond,
			BargeIn:          m.cfg.Gate.BargeIn.Enabled,
			EnergyThreshold:  m.cfg.Gate.BargeIn.EnergyThreshold,
			Metrics:          m.cfg.Metrics,
			Log:              log,
		}),
		startedAt: time.Now(),
		metrics:   m.cfg.Metrics,
		log:       log,
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	m.cfg.Metrics.ActiveCalls.Add(ctx, 1)
	m.cfg.Metrics.RecordCallStarted(ctx, tp.Provider, tp.Name)
	defer func() {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		m.cfg.Metrics.ActiveCalls.Add(context.Background(), -1)
	}()

	reason, runErr := s.run(ctx)
	if runErr != nil {
		m.cfg.Metrics.RecordCallFailed(context.Background(), reason)
		log.Error("call ended with error", "reason", reason, "error", runErr)
	} else {
		log.Info("call ended", "reason", reason)
	}
	conn.Hangup()

	m.record(s, reason)
}

// record writes the end-of-call summary.
func (m *Manager) record(s *Session, reason string) {
	var stats struct {
		playedMs     int64
		underflows   int64
		driftPercent float64
	}
	if s.play != nil {
		ps := s.play.Stats()
		stats.playedMs = ps.Played.Milliseconds()
		stats.underflows = ps.Underflows
		stats.driftPercent = ps.DriftPercent
	}

	rec := calllog.Record{
		CallID:         s.id.String(),
		Context:        s.tp.Context,
		Provider:       s.tp.Provider,
		Profile:        s.tp.Name,
		ProfileSource:  string(s.tp.Source),
		Wire:           s.tp.Wire.String(),
		ProviderInput:  s.tp.ProviderInput.String(),
		ProviderOutput: s.tp.ProviderOutput.String(),
		Remediation:    s.tp.Remediation,
		StartedAt:      s.startedAt,
		EndedAt:        time.Now(),
		PlayedMs:       stats.playedMs,
		Underflows:     stats.underflows,
		GateClosures:   s.gate.Closures(),
		DriftPercent:   stats.driftPercent,
		EndReason:      reason,
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := m.cfg.Store.Insert(ctx, rec); err != nil {
		s.log.Warn("failed to persist call record", "error", err)
	}
}
