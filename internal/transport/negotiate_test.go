package transport

import (
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider"
)

var (
	slin8  = audio.Format{Encoding: audio.EncodingSLIN16, Rate: 8000}
	slin16 = audio.Format{Encoding: audio.EncodingSLIN16, Rate: 16000}
	ulaw8  = audio.Format{Encoding: audio.EncodingULaw, Rate: 8000}
	alaw8  = audio.Format{Encoding: audio.EncodingALaw, Rate: 8000}
)

func TestNegotiateIdentity(t *testing.T) {
	t.Parallel()

	caps := provider.Capabilities{
		Input:  provider.FormatSet{slin8, ulaw8},
		Output: provider.FormatSet{ulaw8, slin8},
	}
	in, out, remediation, err := negotiate(caps, ulaw8, ulaw8)
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if in != ulaw8 || out != ulaw8 {
		t.Errorf("negotiated %s/%s, want %s both ways", in, out, ulaw8)
	}
	if remediation != "" {
		t.Errorf("remediation = %q, want empty for supported formats", remediation)
	}
}

func TestNegotiateExactMatchSingleFormat(t *testing.T) {
	t.Parallel()

	// A provider that supports exactly the requested format must not trigger
	// a substitution note.
	caps := provider.Capabilities{
		Input:  provider.FormatSet{alaw8},
		Output: provider.FormatSet{alaw8},
	}
	in, out, remediation, err := negotiate(caps, alaw8, alaw8)
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if in != alaw8 || out != alaw8 {
		t.Errorf("negotiated %s/%s, want %s both ways", in, out, alaw8)
	}
	if remediation != "" {
		t.Errorf("remediation = %q, want empty", remediation)
	}
}

func TestNegotiateSubstitutionNamesBothFormats(t *testing.T) {
	t.Parallel()

	caps := provider.Capabilities{
		Input:          provider.FormatSet{slin16},
		Output:         provider.FormatSet{slin16},
		InputFallback:  provider.FormatSet{slin16},
		OutputFallback: provider.FormatSet{slin16},
	}
	in, _, remediation, err := negotiate(caps, alaw8, alaw8)
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if in != slin16 {
		t.Errorf("negotiated input %s, want %s", in, slin16)
	}
	if !strings.Contains(remediation, alaw8.String()) || !strings.Contains(remediation, slin16.String()) {
		t.Errorf("remediation should name requested and substituted formats, got %q", remediation)
	}
}

func TestNegotiateFallbackOrderWins(t *testing.T) {
	t.Parallel()

	caps := provider.Capabilities{
		Input:         provider.FormatSet{slin8, slin16},
		Output:        provider.FormatSet{slin8},
		InputFallback: provider.FormatSet{slin16, slin8},
	}
	in, _, _, err := negotiate(caps, ulaw8, slin8)
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if in != slin16 {
		t.Errorf("negotiated input %s, want first fallback %s", in, slin16)
	}
}

func TestNegotiateIdempotent(t *testing.T) {
	t.Parallel()

	caps := provider.Capabilities{
		Input:          provider.FormatSet{slin16},
		Output:         provider.FormatSet{slin16},
		InputFallback:  provider.FormatSet{slin16},
		OutputFallback: provider.FormatSet{slin16},
	}
	in, out, _, err := negotiate(caps, ulaw8, ulaw8)
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}

	// Re-negotiating the substituted result must be a fixed point with no
	// further remediation.
	in2, out2, remediation, err := negotiate(caps, in, out)
	if err != nil {
		t.Fatalf("negotiate (second pass): %v", err)
	}
	if in2 != in || out2 != out {
		t.Errorf("second pass changed result: %s/%s -> %s/%s", in, out, in2, out2)
	}
	if remediation != "" {
		t.Errorf("second pass remediation = %q, want empty", remediation)
	}
}

func TestNegotiateNoSupportedFormat(t *testing.T) {
	t.Parallel()

	_, _, _, err := negotiate(provider.Capabilities{}, ulaw8, ulaw8)
	if !errors.Is(err, ErrNoSupportedFormat) {
		t.Fatalf("err = %v, want ErrNoSupportedFormat", err)
	}
}

func TestWithAck(t *testing.T) {
	t.Parallel()

	tp := TransportProfile{ProviderInput: ulaw8, ProviderOutput: ulaw8}

	got, changed := tp.WithAck(provider.Ack{Input: slin16, Output: ulaw8})
	if !changed {
		t.Error("ack with a different input should report changed")
	}
	if got.ProviderInput != slin16 || got.ProviderOutput != ulaw8 {
		t.Errorf("after ack: %s/%s", got.ProviderInput, got.ProviderOutput)
	}

	if _, changed := tp.WithAck(provider.Ack{Input: ulaw8, Output: ulaw8}); changed {
		t.Error("ack echoing the negotiated formats should report unchanged")
	}

	// A partial ack leaves the unset direction alone.
	got, _ = tp.WithAck(provider.Ack{Output: slin16})
	if got.ProviderInput != ulaw8 {
		t.Errorf("partial ack changed input to %s", got.ProviderInput)
	}
}
