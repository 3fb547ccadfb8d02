// Package session owns the lifecycle of one telephony call: transport
// resolution, the provider connection, the audio pumps in both directions,
// and the end-of-call summary record.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxgate/internal/gate"
	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/playback"
	"github.com/MrWong99/voxgate/internal/transport"
	"github.com/MrWong99/voxgate/internal/wire"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider"
)

// defaultAckTimeout bounds the wait for a provider's runtime format
// confirmation when the binding does not set one.
const defaultAckTimeout = 2 * time.Second

// Terminal pump results, mapped to the record's end reason.
var (
	errCallerHangup = errors.New("session: caller hung up")
	errProviderDone = errors.New("session: provider closed the stream")
)

// Session is one live call. It is created by the [Manager] per accepted
// AudioSocket connection and runs until either side ends the call.
type Session struct {
	id      uuid.UUID
	tp      transport.TransportProfile
	binding transport.Binding

	wire  *wire.Conn
	pconn provider.Conn
	play  *playback.Manager
	gate  *gate.Gate

	// inTrans converts caller audio from the wire format to the locked
	// provider input format.
	inTrans *audio.Transcoder

	// locked flips once the profile is frozen; provider confirmations
	// arriving afterwards are logged and discarded.
	locked atomic.Bool

	startedAt time.Time
	metrics   *observe.Metrics
	log       *slog.Logger
}

// Profile returns the call's transport profile. After the session locks, the
// value is final.
func (s *Session) Profile() transport.TransportProfile {
	return s.tp
}

// run drives the call to completion and returns the end reason.
func (s *Session) run(ctx context.Context) (reason string, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pconn, err := s.binding.Dialer.Dial(dialCtx, provider.Settings{
		Input:    s.tp.ProviderInput,
		Output:   s.tp.ProviderOutput,
		Prompt:   s.tp.Prompt,
		Greeting: s.tp.Greeting,
	})
	cancel()
	if err != nil {
		return "provider_dial_failed", fmt.Errorf("session: dial provider %s: %w", s.tp.Provider, err)
	}
	s.pconn = pconn
	defer pconn.Close()

	// Providers that confirm formats at runtime get one ack window before
	// the profile locks. Events that are not the confirmation are kept and
	// replayed to the outbound pump.
	pending := s.awaitAck(ctx)
	s.locked.Store(true)

	inTrans, err := audio.NewTranscoder(s.tp.Wire, s.tp.ProviderInput)
	if err != nil {
		return "transport_error", err
	}
	s.inTrans = inTrans

	play, err := playback.New(playback.Config{
		CallID:         s.id.String(),
		ProviderOutput: s.tp.ProviderOutput,
		Wire:           s.tp.Wire,
		Chunk:          s.tp.ChunkDuration,
		IdleCutoff:     s.tp.IdleCutoff,
		Sink:           s.wire,
		OnPlayed:       s.gate.NotePlayed,
		Metrics:        s.metrics,
		Log:            s.log,
	})
	if err != nil {
		return "transport_error", err
	}
	s.play = play

	g, gctx := errgroup.WithContext(ctx)

	// The inbound pump blocks in a socket read; closing both connections on
	// group failure is what unblocks it.
	stop := context.AfterFunc(gctx, func() {
		s.wire.Close()
		pconn.Close()
	})
	defer stop()

	g.Go(func() error { return s.play.Run(gctx) })
	g.Go(func() error { return s.pumpInbound(gctx) })
	g.Go(func() error { return s.pumpOutbound(gctx, pending) })

	err = g.Wait()
	switch {
	case err == nil, errors.Is(err, errCallerHangup):
		return "hangup", nil
	case errors.Is(err, errProviderDone):
		return "provider_closed", nil
	case errors.Is(err, playback.ErrTooManyFrameFailures):
		return "frame_failures", err
	case errors.Is(err, context.Canceled):
		return "shutdown", nil
	default:
		return "error", err
	}
}

// awaitAck waits for the provider's runtime format confirmation, bounded by
// the binding's ack timeout. Non-confirmation events received while waiting
// are returned for the outbound pump to replay. Providers that cannot
// negotiate skip the wait entirely.
func (s *Session) awaitAck(ctx context.Context) []provider.Event {
	if !s.binding.Adapter.Capabilities().CanNegotiate {
		return nil
	}
	timeout := s.binding.AckTimeout
	if timeout <= 0 {
		timeout = defaultAckTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var pending []provider.Event
	for {
		select {
		case <-ctx.Done():
			return pending
		case <-timer.C:
			s.log.Debug("no format confirmation within timeout, keeping static declaration",
				"timeout_ms", timeout.Milliseconds())
			return pending
		case ev, ok := <-s.pconn.Events():
			if !ok {
				return pending
			}
			if ev.Kind != provider.EventAck {
				pending = append(pending, ev)
				continue
			}
			ack, ok := s.binding.Adapter.ParseAck(ev.Raw)
			if !ok {
				pending = append(pending, ev)
				continue
			}
			updated, changed := s.tp.WithAck(ack)
			if changed {
				s.log.Info("provider confirmed different formats",
					"negotiated_input", s.tp.ProviderInput.String(),
					"negotiated_output", s.tp.ProviderOutput.String(),
					"confirmed_input", updated.ProviderInput.String(),
					"confirmed_output", updated.ProviderOutput.String(),
				)
				s.tp = updated
			}
			return pending
		}
	}
}

// pumpInbound reads caller frames off the wire, applies the gate, transcodes
// to the provider input format, and forwards them.
func (s *Session) pumpInbound(ctx context.Context) error {
	for {
		m, err := s.wire.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return errCallerHangup
			}
			return fmt.Errorf("session: wire read: %w", err)
		}
		switch m.Kind {
		case wire.KindHangup:
			return errCallerHangup
		case wire.KindAudio:
			if !s.gate.Allow(m.Payload) {
				continue
			}
			chunk, err := s.inTrans.Transcode(m.Payload)
			if err != nil {
				s.log.Warn("dropping caller frame after transcode failure", "error", err)
				continue
			}
			if err := s.pconn.SendAudio(chunk); err != nil {
				return fmt.Errorf("session: send caller audio: %w", err)
			}
		case wire.KindDTMF:
			s.log.Debug("dtmf received", "digit", string(m.Payload))
		case wire.KindError:
			s.log.Warn("asterisk reported an error frame", "payload", fmt.Sprintf("%x", m.Payload))
		}
	}
}

// pumpOutbound forwards provider audio into the playback queue and reacts to
// control events. It ends when both provider channels close, after draining
// any buffered audio to the wire.
func (s *Session) pumpOutbound(ctx context.Context, pending []provider.Event) error {
	for _, ev := range pending {
		s.handleEvent(ev)
	}

	audioCh, eventCh := s.pconn.Audio(), s.pconn.Events()
	for audioCh != nil || eventCh != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-audioCh:
			if !ok {
				audioCh = nil
				continue
			}
			if err := s.play.Enqueue(chunk); err != nil {
				if errors.Is(err, playback.ErrClosed) {
					return errProviderDone
				}
				return err
			}
		case ev, ok := <-eventCh:
			if !ok {
				eventCh = nil
				continue
			}
			s.handleEvent(ev)
		}
	}
	if err := s.pconn.Err(); err != nil {
		return fmt.Errorf("session: provider stream: %w", err)
	}
	// The provider ended the stream cleanly; play out whatever it already
	// delivered before the teardown closes the wire.
	s.play.FinishUtterance()
	if err := s.play.Drain(ctx); err != nil {
		return err
	}
	return errProviderDone
}

// handleEvent reacts to one provider control message.
func (s *Session) handleEvent(ev provider.Event) {
	switch ev.Kind {
	case provider.EventUtteranceEnd:
		s.play.FinishUtterance()
	case provider.EventInterrupted:
		s.log.Debug("provider interrupted synthesis")
		s.play.FinishUtterance()
	case provider.EventAck:
		if s.locked.Load() {
			if _, ok := s.binding.Adapter.ParseAck(ev.Raw); ok {
				s.log.Warn("late format confirmation ignored, profile already locked")
			}
		}
	}
}
