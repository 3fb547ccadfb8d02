package transport

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider"
)

// ErrNoSupportedFormat reports that a provider declares no usable format for
// one direction, so no substitution can make the call work.
var ErrNoSupportedFormat = errors.New("transport: provider supports no usable format")

// negotiate reconciles the profile's preferred provider formats against the
// provider's declared capabilities. When a preferred format is supported it
// passes through unchanged; otherwise the first supported fallback is
// substituted and the substitution is described in the returned remediation
// string. Negotiation is deterministic: the same inputs always produce the
// same result.
func negotiate(caps provider.Capabilities, prefIn, prefOut audio.Format) (in, out audio.Format, remediation string, err error) {
	var notes []string

	in, note, err := pickFormat("input", prefIn, caps.Input, caps.InputFallback)
	if err != nil {
		return audio.Format{}, audio.Format{}, "", err
	}
	if note != "" {
		notes = append(notes, note)
	}

	out, note, err = pickFormat("output", prefOut, caps.Output, caps.OutputFallback)
	if err != nil {
		return audio.Format{}, audio.Format{}, "", err
	}
	if note != "" {
		notes = append(notes, note)
	}

	return in, out, strings.Join(notes, "; "), nil
}

// pickFormat settles one direction. Preference order: the requested format if
// supported, then the provider's fallback list, then the first supported
// format at all.
func pickFormat(direction string, pref audio.Format, supported, fallback provider.FormatSet) (audio.Format, string, error) {
	if supported.Contains(pref) {
		return pref, "", nil
	}
	for _, f := range fallback {
		if supported.Contains(f) {
			return f, substitutionNote(direction, pref, f), nil
		}
	}
	if len(supported) > 0 {
		return supported[0], substitutionNote(direction, pref, supported[0]), nil
	}
	return audio.Format{}, "", fmt.Errorf("%w: %s direction, requested %s", ErrNoSupportedFormat, direction, pref)
}

func substitutionNote(direction string, requested, substituted audio.Format) string {
	return fmt.Sprintf("%s: requested %s, substituted %s", direction, requested, substituted)
}

// WithAck returns a copy of tp with the provider's runtime format
// confirmation applied. The second return reports whether the confirmation
// changed anything. Callers must only apply acks before the profile is
// locked; a late ack is logged and discarded at the session layer.
func (tp TransportProfile) WithAck(ack provider.Ack) (TransportProfile, bool) {
	changed := false
	if !ack.Input.IsZero() && ack.Input != tp.ProviderInput {
		tp.ProviderInput = ack.Input
		changed = true
	}
	if !ack.Output.IsZero() && ack.Output != tp.ProviderOutput {
		tp.ProviderOutput = ack.Output
		changed = true
	}
	return tp, changed
}
