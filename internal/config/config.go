// Package config provides the configuration schema and loader for the
// Voxgate gateway.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxgate/pkg/audio"
)

// LogLevel controls log verbosity for the Voxgate server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Voxgate.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server Server `yaml:"server"`

	// Providers maps a provider name ("deepgram", "openairt", "local") to its
	// connection settings.
	Providers map[string]ProviderEntry `yaml:"providers"`

	// DefaultProvider is used when neither the per-call override nor the
	// call's context names a provider.
	DefaultProvider string `yaml:"default_provider"`

	Audio AudioConfig `yaml:"audio"`

	// Contexts maps a dialplan context name to its audio profile, provider,
	// and conversational metadata. The prompt and greeting are passed through
	// to the provider unexamined.
	Contexts map[string]ContextConfig `yaml:"contexts"`

	Gate GateConfig `yaml:"gate"`

	CallLog CallLogConfig `yaml:"calllog"`
}

// Server holds network and logging settings.
type Server struct {
	// ListenAddr is the TCP address the AudioSocket media server listens on
	// (e.g. ":8090"). Asterisk dials this address per call.
	ListenAddr string `yaml:"listen_addr"`

	// HTTPAddr is the admin HTTP address serving /healthz, /readyz and
	// /metrics. Empty disables the admin listener.
	HTTPAddr string `yaml:"http_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProviderEntry is the common configuration block shared by all providers.
type ProviderEntry struct {
	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. For the local
	// provider this is the pipeline's WebSocket URL and is required.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider where applicable.
	Model string `yaml:"model"`

	// AckTimeoutMs bounds how long a call waits for the provider's runtime
	// format confirmation after connecting before falling back to the static
	// capability declaration. 0 means the default (2000).
	AckTimeoutMs int `yaml:"ack_timeout_ms"`

	// Options holds provider-specific values not covered by the standard
	// fields above.
	Options map[string]any `yaml:"options"`
}

// ChunkMillis is a chunk duration in milliseconds that additionally accepts
// the literal "auto" in YAML. Auto (the zero value) resolves to the built-in
// default at registry construction time.
type ChunkMillis int

// ChunkAuto is the unresolved "auto" chunk duration.
const ChunkAuto ChunkMillis = 0

// UnmarshalYAML implements yaml.Unmarshaler, accepting either an integer
// millisecond count or the string "auto".
func (c *ChunkMillis) UnmarshalYAML(value *yaml.Node) error {
	if value.Value == "auto" {
		*c = ChunkAuto
		return nil
	}
	var ms int
	if err := value.Decode(&ms); err != nil {
		return fmt.Errorf("chunk_ms: want integer milliseconds or \"auto\": %w", err)
	}
	if ms < 0 {
		return fmt.Errorf("chunk_ms: must not be negative, got %d", ms)
	}
	*c = ChunkMillis(ms)
	return nil
}

// AudioConfig holds the audio profile registry plus the legacy top-level
// scalars used in compatibility mode.
type AudioConfig struct {
	// DefaultProfile names the profile used when neither the per-call
	// override nor the call's context names one.
	DefaultProfile string `yaml:"default_profile"`

	// Profiles maps a profile name to its declaration. When empty, Voxgate
	// runs in compatibility mode: a single legacy profile is synthesized from
	// the scalar fields below.
	Profiles map[string]Profile `yaml:"profiles"`

	// Legacy scalars, read only when Profiles is empty.

	// Format is the legacy wire/provider encoding (e.g. "slin16").
	Format string `yaml:"format"`

	// SampleRate is the legacy sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// ChunkMs is the legacy chunk duration.
	ChunkMs ChunkMillis `yaml:"chunk_ms"`

	// IdleCutoffMs is the legacy idle cutoff.
	IdleCutoffMs int `yaml:"idle_cutoff_ms"`
}

// Profile declares one named audio profile: the fixed wire format, the
// provider-preferred formats, and the chunking/timing knobs.
type Profile struct {
	// InternalRate is the sample rate used for internal processing (gate
	// energy detection) in Hz.
	InternalRate int `yaml:"internal_rate"`

	// Wire is the telephony media format. The encoding must be slin16; the
	// wire always carries linear PCM regardless of provider.
	Wire audio.Format `yaml:"wire"`

	// ProviderInput is the preferred format for caller audio sent to the
	// provider, before negotiation against the provider's capabilities.
	ProviderInput audio.Format `yaml:"provider_input"`

	// ProviderOutput is the preferred format for agent audio received from
	// the provider, before negotiation.
	ProviderOutput audio.Format `yaml:"provider_output"`

	// ChunkMs is the wire delivery cadence. "auto" resolves to 20ms.
	ChunkMs ChunkMillis `yaml:"chunk_ms"`

	// IdleCutoffMs is the maximum gap between buffered provider frames
	// before a draining stream is considered finished.
	IdleCutoffMs int `yaml:"idle_cutoff_ms"`
}

// ContextConfig maps a dialplan context to a profile, provider, and
// conversational metadata.
type ContextConfig struct {
	Profile  string `yaml:"profile"`
	Provider string `yaml:"provider"`
	Prompt   string `yaml:"prompt"`
	Greeting string `yaml:"greeting"`
}

// GateConfig tunes the self-interruption gate.
type GateConfig struct {
	// SilenceThresholdMs is how long after the last played agent frame the
	// gate stays closed before reopening. 0 means the default (300).
	SilenceThresholdMs int `yaml:"silence_threshold_ms"`

	BargeIn BargeInConfig `yaml:"barge_in"`
}

// BargeInConfig enables callers to force the gate open mid-playback.
type BargeInConfig struct {
	// Enabled turns barge-in on for this deployment.
	Enabled bool `yaml:"enabled"`

	// EnergyThreshold is the RMS amplitude of inbound slin16 audio above
	// which caller speech force-opens a closed gate. 0 means the default
	// (2000).
	EnergyThreshold float64 `yaml:"energy_threshold"`
}

// CallLogConfig configures the optional per-call summary store.
type CallLogConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the call-record
	// store. Empty disables persistence; summaries are still logged.
	PostgresDSN string `yaml:"postgres_dsn"`
}
