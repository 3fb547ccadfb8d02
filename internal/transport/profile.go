// Package transport resolves, negotiates, and locks the per-call Transport
// Profile: which audio encoding and sample rate each side of a call uses.
//
// The flow per call is:
//
//  1. The resolver picks one audio profile and one provider from the per-call
//     overrides, the call's context mapping, the configured defaults, and the
//     built-in fallback — in that strict order.
//  2. The negotiator reconciles the profile's preferred provider formats
//     against the provider's declared capabilities, substituting a supported
//     format and recording a remediation note when needed.
//  3. The [Orchestrator] composes both into one immutable [TransportProfile]
//     and emits a structured summary record.
//
// All registries are populated once at startup and never mutated, so
// concurrent calls resolve without coordination.
package transport

import (
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// Source discriminates the two historical transport profile shapes: profiles
// resolved through the declarative registry and negotiation, and the single
// profile synthesized from legacy top-level scalars in compatibility mode.
type Source string

const (
	// SourceNegotiated marks a profile resolved from the configured profile
	// registry and negotiated against provider capabilities.
	SourceNegotiated Source = "negotiated"

	// SourceLegacy marks the compatibility-mode profile synthesized from
	// top-level scalar configuration.
	SourceLegacy Source = "legacy"
)

// TransportProfile is the fully resolved audio contract for one call. It is
// immutable once the owning session locks it (first audio frame enqueued or
// an explicit lock); late provider confirmations are logged, never applied.
type TransportProfile struct {
	// Name is the resolved audio profile name.
	Name string

	// Source tags how the profile was produced.
	Source Source

	// Wire is the telephony media format. Always linear PCM.
	Wire audio.Format

	// Provider is the resolved provider name.
	Provider string

	// ProviderInput is the negotiated format for caller audio sent to the
	// provider.
	ProviderInput audio.Format

	// ProviderOutput is the negotiated format for agent audio received from
	// the provider.
	ProviderOutput audio.Format

	// InternalRate is the sample rate used for internal processing in Hz.
	InternalRate int

	// ChunkDuration is the wire delivery cadence.
	ChunkDuration time.Duration

	// IdleCutoff is the maximum gap between buffered provider frames before
	// a draining stream is considered finished.
	IdleCutoff time.Duration

	// Context is the originating dialplan context, if any.
	Context string

	// Prompt and Greeting are conversational metadata from the context
	// mapping, passed through unexamined.
	Prompt   string
	Greeting string

	// Remediation is non-empty only if negotiation substituted a format. It
	// names the requested and substituted formats per direction.
	Remediation string
}
