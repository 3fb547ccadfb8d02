// Package audio defines the audio formats, frames, and transcoding primitives
// used throughout Voxgate.
//
// The telephony media wire always carries linear PCM ([EncodingSLIN16]); speech
// providers may prefer G.711 µ-law or A-law at various sample rates. The
// [Transcoder] converts between any two supported formats, decoding to linear
// PCM, resampling, and re-encoding as needed.
package audio

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Encoding identifies an audio byte encoding.
type Encoding string

const (
	// EncodingSLIN16 is signed 16-bit little-endian linear PCM, mono.
	// This is the only encoding permitted on the telephony wire.
	EncodingSLIN16 Encoding = "slin16"

	// EncodingULaw is G.711 µ-law, one byte per sample, mono.
	EncodingULaw Encoding = "ulaw"

	// EncodingALaw is G.711 A-law, one byte per sample, mono.
	EncodingALaw Encoding = "alaw"
)

// IsValid reports whether e is a recognised encoding.
func (e Encoding) IsValid() bool {
	switch e {
	case EncodingSLIN16, EncodingULaw, EncodingALaw:
		return true
	}
	return false
}

// BytesPerSample returns the storage size of one sample, or 0 for an
// unrecognised encoding.
func (e Encoding) BytesPerSample() int {
	switch e {
	case EncodingSLIN16:
		return 2
	case EncodingULaw, EncodingALaw:
		return 1
	}
	return 0
}

// ParseEncoding normalises the provider-facing spellings of each encoding
// ("linear16", "pcm16", "mulaw", "g711_ulaw", …) into a canonical [Encoding].
// Returns an error for unknown names.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "slin16", "slin", "linear16", "pcm16", "pcm":
		return EncodingSLIN16, nil
	case "ulaw", "mulaw", "mu-law", "g711_ulaw":
		return EncodingULaw, nil
	case "alaw", "a-law", "g711_alaw":
		return EncodingALaw, nil
	}
	return "", fmt.Errorf("audio: unknown encoding %q", s)
}

// Format describes an audio stream as an encoding plus a sample rate in Hz.
// All Voxgate audio is mono.
type Format struct {
	Encoding Encoding `yaml:"encoding"`
	Rate     int      `yaml:"rate"`
}

// String renders the format as "encoding@rate", e.g. "ulaw@8000".
func (f Format) String() string {
	return fmt.Sprintf("%s@%d", f.Encoding, f.Rate)
}

// IsZero reports whether f is the zero format.
func (f Format) IsZero() bool {
	return f.Encoding == "" && f.Rate == 0
}

// Validate returns an error if the encoding is unknown or the rate is not a
// supported telephony/provider rate.
func (f Format) Validate() error {
	if !f.Encoding.IsValid() {
		return fmt.Errorf("audio: unknown encoding %q", f.Encoding)
	}
	switch f.Rate {
	case 8000, 16000, 24000, 44100, 48000:
		return nil
	}
	return fmt.Errorf("audio: unsupported sample rate %d", f.Rate)
}

// BytesFor returns the number of encoded bytes covering d of audio in this
// format. The result is rounded down to a whole sample.
func (f Format) BytesFor(d time.Duration) int {
	samples := int(int64(f.Rate) * int64(d) / int64(time.Second))
	return samples * f.Encoding.BytesPerSample()
}

// ParseFormat parses the "encoding@rate" form produced by [Format.String].
func ParseFormat(s string) (Format, error) {
	enc, rate, ok := strings.Cut(s, "@")
	if !ok {
		return Format{}, fmt.Errorf("audio: format %q: want encoding@rate", s)
	}
	e, err := ParseEncoding(enc)
	if err != nil {
		return Format{}, err
	}
	r, err := strconv.Atoi(rate)
	if err != nil {
		return Format{}, fmt.Errorf("audio: format %q: bad rate: %w", s, err)
	}
	f := Format{Encoding: e, Rate: r}
	if err := f.Validate(); err != nil {
		return Format{}, err
	}
	return f, nil
}

// Frame is a chunk of encoded audio flowing through the pipeline. Frames are
// the atomic unit of transport: read from the wire, forwarded to providers,
// and queued for playback.
type Frame struct {
	// Data is the encoded audio payload in Format.
	Data []byte

	// Format describes how Data is encoded.
	Format Format

	// Timestamp marks when the frame was produced, relative to stream start.
	Timestamp time.Duration
}
