package transport

import (
	"errors"
	"fmt"

	"github.com/MrWong99/voxgate/internal/config"
)

// Resolution errors. All are hard failures: an explicitly named profile or
// provider that does not exist must fail the call rather than silently fall
// back to a working-but-wrong configuration.
var (
	// ErrProfileNotFound reports an explicitly named audio profile with no
	// registry entry.
	ErrProfileNotFound = errors.New("transport: audio profile not found")

	// ErrProviderNotFound reports an explicitly named provider with no
	// configured binding.
	ErrProviderNotFound = errors.New("transport: provider not found")
)

// Overrides are the optional per-call selections carried in the call setup.
// Empty fields fall through to the next precedence level.
type Overrides struct {
	// Profile names an audio profile, bypassing context and default lookup.
	Profile string

	// Provider names a provider, bypassing context and default lookup.
	Provider string

	// Context is the originating dialplan context. A context with no
	// configured mapping is not an error; resolution falls through to the
	// defaults.
	Context string
}

// contextFor returns the mapping for the call's context, or nil when the call
// carries no context or the context has no mapping.
func (r *Registry) contextFor(ov Overrides) *config.ContextConfig {
	if ov.Context == "" {
		return nil
	}
	cc, ok := r.contexts[ov.Context]
	if !ok {
		return nil
	}
	return &cc
}

// resolveProfile walks the precedence chain for the audio profile: explicit
// override, context mapping, configured default, built-in fallback. A name
// from any level that has no registry entry is a hard error.
func (r *Registry) resolveProfile(ov Overrides, cc *config.ContextConfig) (profileSpec, error) {
	name := ""
	switch {
	case ov.Profile != "":
		name = ov.Profile
	case cc != nil && cc.Profile != "":
		name = cc.Profile
	case r.defaultProfile != "":
		name = r.defaultProfile
	default:
		return builtinProfile, nil
	}

	spec, ok := r.profiles[name]
	if !ok {
		return profileSpec{}, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	return spec, nil
}

// resolveProvider walks the same precedence chain for the provider.
func (r *Registry) resolveProvider(ov Overrides, cc *config.ContextConfig) (string, Binding, error) {
	name := ""
	switch {
	case ov.Provider != "":
		name = ov.Provider
	case cc != nil && cc.Provider != "":
		name = cc.Provider
	case r.defaultProvider != "":
		name = r.defaultProvider
	default:
		name = builtinProvider
	}

	b, ok := r.providers[name]
	if !ok {
		return "", Binding{}, fmt.Errorf("%w: %q", ErrProviderNotFound, name)
	}
	return name, b, nil
}
