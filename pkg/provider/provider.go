// Package provider defines the contract between the Voxgate core and speech
// provider integrations.
//
// The two primary abstractions are:
//
//   - [Adapter] — static knowledge about a provider: its declared format
//     capabilities and how to parse its runtime format confirmation.
//   - [Dialer] / [Conn] — an open media connection to the provider, carrying
//     caller audio up and synthesised agent audio down as channel streams.
//
// Adapters form a closed set of provider variants (deepgram, openairt,
// local); each lives in its own subpackage. The provider's own wire protocol
// and codec internals are the integration's concern — the core only consumes
// this interface. A mock subpackage supplies test doubles.
//
// All implementations must be safe for concurrent use.
package provider

import (
	"context"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// FormatSet is an ordered list of supported audio formats. Order is
// significant for fallback lists: negotiation substitutes the first supported
// entry when a preferred format is not available.
type FormatSet []audio.Format

// Contains reports whether f is a member of the set.
func (s FormatSet) Contains(f audio.Format) bool {
	for _, m := range s {
		if m == f {
			return true
		}
	}
	return false
}

// Capabilities declares what audio formats a provider supports and whether it
// confirms the negotiated format at connect time. Values are static for the
// lifetime of the Adapter.
type Capabilities struct {
	// Input lists the formats the provider accepts for caller audio.
	Input FormatSet

	// Output lists the formats the provider can synthesise agent audio in.
	Output FormatSet

	// InputFallback is the preference-ordered substitution list used when a
	// profile's preferred input format is not in Input. Every entry must be a
	// member of Input.
	InputFallback FormatSet

	// OutputFallback is the preference-ordered substitution list for the
	// output direction. Every entry must be a member of Output.
	OutputFallback FormatSet

	// CanNegotiate indicates the provider sends a runtime confirmation of the
	// applied format shortly after the connection opens. When false, the
	// static declarations above are the sole source of truth.
	CanNegotiate bool
}

// Ack is a provider's runtime format confirmation, normalised from the
// provider-specific wire shape.
type Ack struct {
	Input  audio.Format
	Output audio.Format
}

// Adapter is the static half of a provider integration. Implementations must
// be stateless or immutable after construction.
type Adapter interface {
	// Name returns the provider's registry name (e.g. "deepgram").
	Name() string

	// Capabilities returns the provider's static format declarations.
	Capabilities() Capabilities

	// ParseAck parses a raw runtime confirmation message into a normalised
	// Ack. The second return is false when raw is not a recognisable
	// confirmation (other event types on the same stream are expected and
	// must not be treated as errors).
	ParseAck(raw []byte) (Ack, bool)
}

// Settings carries the negotiated per-call parameters a Dialer needs to open
// a connection. Prompt and Greeting are conversational metadata passed
// through from the call context unexamined by the core.
type Settings struct {
	// Input is the negotiated format for caller audio sent to the provider.
	Input audio.Format

	// Output is the negotiated format for agent audio received from the provider.
	Output audio.Format

	// Prompt is the system-level instruction for the agent, if any.
	Prompt string

	// Greeting is an opening line the agent speaks when the call connects, if any.
	Greeting string
}

// Conn is an open media connection to a speech provider.
//
// Audio output is channel-based so a slow consumer never blocks the
// provider's receive loop directly; the channel is bounded and the core's
// playback queue applies its own backpressure policy. The channel closes when
// the provider ends the stream or the connection dies; callers should then
// check [Conn.Err].
type Conn interface {
	// SendAudio delivers one chunk of caller audio in the negotiated input
	// format. Returns an error if the connection is closed.
	SendAudio(chunk []byte) error

	// Audio returns the stream of synthesised agent audio in the negotiated
	// output format. An utterance boundary is signalled out of band via
	// [Conn.Events]; the channel itself stays open across utterances.
	Audio() <-chan []byte

	// Events returns provider control messages (runtime confirmations,
	// end-of-utterance markers) as raw payloads for the adapter to interpret.
	// The channel is closed when the connection terminates.
	Events() <-chan Event

	// Err returns the error that terminated the connection, or nil if it was
	// closed cleanly. Valid after the Audio channel closes.
	Err() error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// EventKind classifies provider control messages surfaced on [Conn.Events].
type EventKind int

const (
	// EventAck is a runtime format confirmation; Raw holds the provider's
	// message for [Adapter.ParseAck].
	EventAck EventKind = iota

	// EventUtteranceEnd marks the end of one synthesised agent utterance.
	// The playback manager uses this as its end-of-stream signal.
	EventUtteranceEnd

	// EventInterrupted reports that the provider aborted synthesis, e.g.
	// because the core requested an interrupt for barge-in.
	EventInterrupted
)

// Event is a control message from the provider connection.
type Event struct {
	Kind EventKind
	Raw  []byte
}

// Dialer is the dynamic half of a provider integration: it opens media
// connections using the formats negotiation settled on.
type Dialer interface {
	// Dial opens a provider connection with the given settings. The supplied
	// ctx bounds the connection attempt only; the returned Conn lives until
	// Close. The caller owns the Conn.
	Dial(ctx context.Context, settings Settings) (Conn, error)
}
