package audio

import (
	"errors"
	"fmt"
)

// ErrMisaligned is returned when slin16 input has an odd byte count and
// therefore cannot contain whole int16 samples.
var ErrMisaligned = errors.New("audio: misaligned slin16 data")

// Transcoder converts encoded audio from Src to Dst. The conversion pipeline
// is decode → resample → encode, with a zero-copy fast path when the formats
// already match. Create one per stream; a Transcoder carries no mutable state
// and is safe for concurrent use, but per-stream instances keep call sites
// honest about direction.
type Transcoder struct {
	Src Format
	Dst Format
}

// NewTranscoder returns a Transcoder from src to dst, validating both formats.
func NewTranscoder(src, dst Format) (*Transcoder, error) {
	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("audio: transcoder source: %w", err)
	}
	if err := dst.Validate(); err != nil {
		return nil, fmt.Errorf("audio: transcoder target: %w", err)
	}
	return &Transcoder{Src: src, Dst: dst}, nil
}

// Transcode converts data from t.Src to t.Dst. If the formats match, data is
// returned unchanged without copying. Returns [ErrMisaligned] when slin16
// input is not sample-aligned.
func (t *Transcoder) Transcode(data []byte) ([]byte, error) {
	if t.Src == t.Dst {
		if t.Src.Encoding == EncodingSLIN16 && len(data)%2 != 0 {
			return nil, ErrMisaligned
		}
		return data, nil
	}

	// Step 1: decode to linear PCM.
	pcm := data
	switch t.Src.Encoding {
	case EncodingSLIN16:
		if len(data)%2 != 0 {
			return nil, ErrMisaligned
		}
	case EncodingULaw:
		pcm = ULawDecode(data)
	case EncodingALaw:
		pcm = ALawDecode(data)
	default:
		return nil, fmt.Errorf("audio: transcode from %q: unsupported encoding", t.Src.Encoding)
	}

	// Step 2: resample.
	pcm = ResampleMono16(pcm, t.Src.Rate, t.Dst.Rate)

	// Step 3: encode to the target encoding.
	switch t.Dst.Encoding {
	case EncodingSLIN16:
		return pcm, nil
	case EncodingULaw:
		return ULawEncode(pcm), nil
	case EncodingALaw:
		return ALawEncode(pcm), nil
	default:
		return nil, fmt.Errorf("audio: transcode to %q: unsupported encoding", t.Dst.Encoding)
	}
}
