package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/voxgate/internal/config"
	"github.com/MrWong99/voxgate/pkg/audio"
)

const validYAML = `
server:
  listen_addr: ":8090"
  http_addr: ":8080"
  log_level: info
providers:
  deepgram:
    api_key: dg-key
default_provider: deepgram
audio:
  default_profile: telephony
  profiles:
    telephony:
      internal_rate: 8000
      wire: {encoding: slin16, rate: 8000}
      provider_input: {encoding: ulaw, rate: 8000}
      provider_output: {encoding: ulaw, rate: 8000}
      chunk_ms: auto
      idle_cutoff_ms: 1200
contexts:
  sales:
    profile: telephony
    provider: deepgram
    prompt: "You are a sales assistant."
    greeting: "Hello!"
`

func TestLoadValidConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	p, ok := cfg.Audio.Profiles["telephony"]
	if !ok {
		t.Fatal("telephony profile missing")
	}
	if want := (audio.Format{Encoding: audio.EncodingSLIN16, Rate: 8000}); p.Wire != want {
		t.Errorf("wire = %v, want %v", p.Wire, want)
	}
	if p.ChunkMs != config.ChunkAuto {
		t.Errorf("chunk_ms = %d, want auto", p.ChunkMs)
	}
	if p.IdleCutoffMs != 1200 {
		t.Errorf("idle_cutoff_ms = %d, want 1200", p.IdleCutoffMs)
	}
	if cfg.Contexts["sales"].Greeting != "Hello!" {
		t.Errorf("greeting = %q", cfg.Contexts["sales"].Greeting)
	}
}

func TestChunkMsAcceptsInteger(t *testing.T) {
	t.Parallel()

	yaml := strings.Replace(validYAML, "chunk_ms: auto", "chunk_ms: 40", 1)
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if got := cfg.Audio.Profiles["telephony"].ChunkMs; got != 40 {
		t.Errorf("chunk_ms = %d, want 40", got)
	}
}

func TestValidateRejectsNonLinearWire(t *testing.T) {
	t.Parallel()

	yaml := strings.Replace(validYAML, "wire: {encoding: slin16, rate: 8000}", "wire: {encoding: ulaw, rate: 8000}", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for non-linear wire encoding, got nil")
	}
	if !strings.Contains(err.Error(), "slin16") {
		t.Errorf("error should mention slin16, got: %v", err)
	}
}

func TestValidateRejectsUnknownDefaultProfile(t *testing.T) {
	t.Parallel()

	yaml := strings.Replace(validYAML, "default_profile: telephony", "default_profile: missing", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown default profile, got nil")
	}
}

func TestValidateRejectsContextWithUnknownProfile(t *testing.T) {
	t.Parallel()

	yaml := strings.Replace(validYAML, "profile: telephony", "profile: nope", 1)
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for context referencing unknown profile, got nil")
	}
	if !strings.Contains(err.Error(), "nope") {
		t.Errorf("error should name the missing profile, got: %v", err)
	}
}

func TestValidateRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	yaml := validYAML + "\nsurprise: true\n"
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown top-level key, got nil")
	}
}

func TestLegacyScalarsParse(t *testing.T) {
	t.Parallel()

	yaml := `
audio:
  format: slin16
  sample_rate: 8000
  chunk_ms: 20
  idle_cutoff_ms: 1000
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if len(cfg.Audio.Profiles) != 0 {
		t.Error("legacy config should have no profiles")
	}
	if cfg.Audio.SampleRate != 8000 || cfg.Audio.Format != "slin16" {
		t.Errorf("legacy scalars = %q@%d", cfg.Audio.Format, cfg.Audio.SampleRate)
	}
}
