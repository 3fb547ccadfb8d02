package transport

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider"
)

const (
	// defaultChunk is the wire delivery cadence used when a profile declares
	// chunk_ms as "auto" (or omits it).
	defaultChunk = 20 * time.Millisecond

	// defaultIdleCutoff applies when a profile omits idle_cutoff_ms.
	defaultIdleCutoff = 1200 * time.Millisecond

	// legacyRate is the sample rate assumed in compatibility mode when the
	// legacy scalar block omits sample_rate.
	legacyRate = 8000

	// legacyProfileName names the single profile synthesized from the legacy
	// top-level audio scalars.
	legacyProfileName = "legacy"

	// Built-in fallbacks, used only when neither an override, the call's
	// context, nor the configuration names a profile or provider.
	builtinProfileName = "builtin"
	builtinProvider    = "deepgram"
)

// builtinProfile is the last-resort audio profile: linear PCM telephony
// defaults end to end.
var builtinProfile = profileSpec{
	Name:           builtinProfileName,
	Source:         SourceNegotiated,
	Wire:           audio.Format{Encoding: audio.EncodingSLIN16, Rate: 8000},
	ProviderInput:  audio.Format{Encoding: audio.EncodingSLIN16, Rate: 8000},
	ProviderOutput: audio.Format{Encoding: audio.EncodingSLIN16, Rate: 8000},
	InternalRate:   8000,
	Chunk:          defaultChunk,
	IdleCutoff:     defaultIdleCutoff,
}

// profileSpec is a profile with all timing knobs resolved to concrete values.
// It is the registry's internal shape; negotiation turns it into a
// [TransportProfile].
type profileSpec struct {
	Name           string
	Source         Source
	Wire           audio.Format
	ProviderInput  audio.Format
	ProviderOutput audio.Format
	InternalRate   int
	Chunk          time.Duration
	IdleCutoff     time.Duration
}

// Binding pairs a provider's static adapter with its dialer and the
// per-provider runtime settings the session layer needs.
type Binding struct {
	Adapter provider.Adapter
	Dialer  provider.Dialer

	// AckTimeout bounds how long a call waits for the provider's runtime
	// format confirmation before falling back to the static declaration.
	AckTimeout time.Duration
}

// Registry holds the resolved audio profiles, context mappings, and provider
// bindings for the deployment. It is built once at startup and read-only
// afterwards, so all methods are safe for concurrent use.
type Registry struct {
	profiles       map[string]profileSpec
	defaultProfile string
	legacy         bool

	contexts map[string]config.ContextConfig

	providers       map[string]Binding
	defaultProvider string
}

// NewRegistry builds the profile and provider registries from configuration.
//
// When cfg.Audio declares no profiles, the registry runs in compatibility
// mode: a single profile named "legacy" is synthesized from the top-level
// audio scalars and becomes the default. The synthesis is noted in the log at
// info level; it is expected for older deployments, not a misconfiguration.
func NewRegistry(cfg *config.Config, providers map[string]Binding, log *slog.Logger) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		profiles:        make(map[string]profileSpec, len(cfg.Audio.Profiles)),
		defaultProfile:  cfg.Audio.DefaultProfile,
		contexts:        cfg.Contexts,
		providers:       providers,
		defaultProvider: cfg.DefaultProvider,
	}

	if len(cfg.Audio.Profiles) == 0 {
		spec, err := synthesizeLegacyProfile(cfg.Audio)
		if err != nil {
			return nil, err
		}
		r.profiles[spec.Name] = spec
		r.defaultProfile = spec.Name
		r.legacy = true
		log.Info("no audio profiles configured, synthesized legacy profile from top-level scalars",
			"wire", spec.Wire.String(),
			"provider_format", spec.ProviderInput.String(),
			"chunk_ms", spec.Chunk.Milliseconds(),
			"idle_cutoff_ms", spec.IdleCutoff.Milliseconds(),
		)
		return r, nil
	}

	for name, p := range cfg.Audio.Profiles {
		r.profiles[name] = resolveProfileSpec(name, p)
	}
	return r, nil
}

// resolveProfileSpec turns a validated config profile into a profileSpec with
// defaults applied.
func resolveProfileSpec(name string, p config.Profile) profileSpec {
	spec := profileSpec{
		Name:           name,
		Source:         SourceNegotiated,
		Wire:           p.Wire,
		ProviderInput:  p.ProviderInput,
		ProviderOutput: p.ProviderOutput,
		InternalRate:   p.InternalRate,
		Chunk:          time.Duration(p.ChunkMs) * time.Millisecond,
		IdleCutoff:     time.Duration(p.IdleCutoffMs) * time.Millisecond,
	}
	if p.ChunkMs == config.ChunkAuto {
		spec.Chunk = defaultChunk
	}
	if spec.IdleCutoff == 0 {
		spec.IdleCutoff = defaultIdleCutoff
	}
	if spec.InternalRate == 0 {
		spec.InternalRate = spec.Wire.Rate
	}
	return spec
}

// synthesizeLegacyProfile builds the compatibility-mode profile from the
// legacy scalar fields. The wire stays linear PCM; the scalar encoding only
// applies to the provider leg.
func synthesizeLegacyProfile(a config.AudioConfig) (profileSpec, error) {
	rate := a.SampleRate
	if rate == 0 {
		rate = legacyRate
	}
	enc := audio.EncodingSLIN16
	if a.Format != "" {
		var err error
		if enc, err = audio.ParseEncoding(a.Format); err != nil {
			return profileSpec{}, fmt.Errorf("transport: legacy audio format: %w", err)
		}
	}
	spec := profileSpec{
		Name:           legacyProfileName,
		Source:         SourceLegacy,
		Wire:           audio.Format{Encoding: audio.EncodingSLIN16, Rate: rate},
		ProviderInput:  audio.Format{Encoding: enc, Rate: rate},
		ProviderOutput: audio.Format{Encoding: enc, Rate: rate},
		InternalRate:   rate,
		Chunk:          time.Duration(a.ChunkMs) * time.Millisecond,
		IdleCutoff:     time.Duration(a.IdleCutoffMs) * time.Millisecond,
	}
	if a.ChunkMs == config.ChunkAuto {
		spec.Chunk = defaultChunk
	}
	if spec.IdleCutoff == 0 {
		spec.IdleCutoff = defaultIdleCutoff
	}
	if err := spec.Wire.Validate(); err != nil {
		return profileSpec{}, fmt.Errorf("transport: legacy audio: %w", err)
	}
	return spec, nil
}

// Legacy reports whether the registry runs in compatibility mode.
func (r *Registry) Legacy() bool {
	return r.legacy
}

// Provider returns the binding for name.
func (r *Registry) Provider(name string) (Binding, bool) {
	b, ok := r.providers[name]
	return b, ok
}

// ProviderNames returns the configured provider names, for diagnostics.
func (r *Registry) ProviderNames() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
