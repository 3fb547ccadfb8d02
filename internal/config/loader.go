package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// ValidProviderNames lists the provider names Voxgate ships adapters for.
// Used by [Validate] to warn about unrecognised names; unknown names are not
// an error here because resolution reports them per call.
var ValidProviderNames = []string{"deepgram", "openairt", "local"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Unknown provider names warn rather than fail; resolution reports them
	// per call with full context.
	for name := range cfg.Providers {
		if !slices.Contains(ValidProviderNames, name) {
			slog.Warn("unrecognised provider name in config", "provider", name, "known", ValidProviderNames)
		}
	}
	if cfg.DefaultProvider != "" {
		if _, ok := cfg.Providers[cfg.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("default_provider %q has no providers entry", cfg.DefaultProvider))
		}
	}

	// Audio profiles.
	for name, p := range cfg.Audio.Profiles {
		for _, err := range validateProfile(name, p) {
			errs = append(errs, err)
		}
	}
	if cfg.Audio.DefaultProfile != "" && len(cfg.Audio.Profiles) > 0 {
		if _, ok := cfg.Audio.Profiles[cfg.Audio.DefaultProfile]; !ok {
			errs = append(errs, fmt.Errorf("audio.default_profile %q is not declared in audio.profiles", cfg.Audio.DefaultProfile))
		}
	}
	if len(cfg.Audio.Profiles) == 0 && cfg.Audio.Format != "" {
		if _, err := audio.ParseEncoding(cfg.Audio.Format); err != nil {
			errs = append(errs, fmt.Errorf("audio.format: %w", err))
		}
	}

	// Contexts: a context naming a nonexistent profile would fail every call
	// routed through it, so reject the config outright.
	for name, c := range cfg.Contexts {
		if c.Profile != "" && len(cfg.Audio.Profiles) > 0 {
			if _, ok := cfg.Audio.Profiles[c.Profile]; !ok {
				errs = append(errs, fmt.Errorf("contexts.%s.profile %q is not declared in audio.profiles", name, c.Profile))
			}
		}
		if c.Provider != "" {
			if _, ok := cfg.Providers[c.Provider]; !ok {
				errs = append(errs, fmt.Errorf("contexts.%s.provider %q has no providers entry", name, c.Provider))
			}
		}
	}

	// Gate.
	if cfg.Gate.SilenceThresholdMs < 0 {
		errs = append(errs, fmt.Errorf("gate.silence_threshold_ms must not be negative, got %d", cfg.Gate.SilenceThresholdMs))
	}
	if cfg.Gate.BargeIn.EnergyThreshold < 0 {
		errs = append(errs, fmt.Errorf("gate.barge_in.energy_threshold must not be negative, got %v", cfg.Gate.BargeIn.EnergyThreshold))
	}

	return errors.Join(errs...)
}

// validateProfile checks one named profile declaration.
func validateProfile(name string, p Profile) []error {
	var errs []error

	if err := p.Wire.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio.profiles.%s.wire: %w", name, err))
	} else if p.Wire.Encoding != audio.EncodingSLIN16 {
		errs = append(errs, fmt.Errorf("audio.profiles.%s.wire: encoding must be slin16 (the wire always carries linear PCM), got %q", name, p.Wire.Encoding))
	}
	if err := p.ProviderInput.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio.profiles.%s.provider_input: %w", name, err))
	}
	if err := p.ProviderOutput.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio.profiles.%s.provider_output: %w", name, err))
	}
	if p.InternalRate != 0 {
		f := audio.Format{Encoding: audio.EncodingSLIN16, Rate: p.InternalRate}
		if err := f.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("audio.profiles.%s.internal_rate: %w", name, err))
		}
	}
	if p.ChunkMs != ChunkAuto && (p.ChunkMs < 10 || p.ChunkMs > 100) {
		errs = append(errs, fmt.Errorf("audio.profiles.%s.chunk_ms: %d is outside the 10–100ms range", name, p.ChunkMs))
	}
	if p.IdleCutoffMs < 0 {
		errs = append(errs, fmt.Errorf("audio.profiles.%s.idle_cutoff_ms must not be negative, got %d", name, p.IdleCutoffMs))
	}

	return errs
}
