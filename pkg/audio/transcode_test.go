package audio_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxgate/pkg/audio"
)

func TestTranscodeFastPath(t *testing.T) {
	t.Parallel()

	f := audio.Format{Encoding: audio.EncodingSLIN16, Rate: 8000}
	tr, err := audio.NewTranscoder(f, f)
	if err != nil {
		t.Fatalf("NewTranscoder: %v", err)
	}

	in := pcm16(1, 2, 3, 4)
	out, err := tr.Transcode(in)
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if &out[0] != &in[0] {
		t.Error("matching formats should return the input slice unchanged")
	}
}

func TestTranscodeULawToLinearDoublesSize(t *testing.T) {
	t.Parallel()

	tr, err := audio.NewTranscoder(
		audio.Format{Encoding: audio.EncodingULaw, Rate: 8000},
		audio.Format{Encoding: audio.EncodingSLIN16, Rate: 8000},
	)
	if err != nil {
		t.Fatalf("NewTranscoder: %v", err)
	}

	out, err := tr.Transcode(make([]byte, 160))
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if len(out) != 320 {
		t.Errorf("got %d bytes, want 320", len(out))
	}
}

func TestTranscodeUpsamples(t *testing.T) {
	t.Parallel()

	tr, err := audio.NewTranscoder(
		audio.Format{Encoding: audio.EncodingSLIN16, Rate: 8000},
		audio.Format{Encoding: audio.EncodingSLIN16, Rate: 16000},
	)
	if err != nil {
		t.Fatalf("NewTranscoder: %v", err)
	}

	// 20ms at 8kHz slin16 = 320 bytes; at 16kHz = 640 bytes.
	out, err := tr.Transcode(make([]byte, 320))
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if len(out) != 640 {
		t.Errorf("got %d bytes, want 640", len(out))
	}
}

func TestTranscodeProviderToWire(t *testing.T) {
	t.Parallel()

	// The common telephony path: provider emits ulaw@8000, wire wants
	// slin16@8000. A 20ms provider frame must become exactly one 20ms wire
	// chunk.
	tr, err := audio.NewTranscoder(
		audio.Format{Encoding: audio.EncodingULaw, Rate: 8000},
		audio.Format{Encoding: audio.EncodingSLIN16, Rate: 8000},
	)
	if err != nil {
		t.Fatalf("NewTranscoder: %v", err)
	}

	in := audio.ULawEncode(pcm16(make([]int16, 160)...))
	out, err := tr.Transcode(in)
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	wire := audio.Format{Encoding: audio.EncodingSLIN16, Rate: 8000}
	if want := wire.BytesFor(20 * time.Millisecond); len(out) != want {
		t.Errorf("got %d bytes, want %d", len(out), want)
	}
}

func TestTranscodeMisaligned(t *testing.T) {
	t.Parallel()

	tr, err := audio.NewTranscoder(
		audio.Format{Encoding: audio.EncodingSLIN16, Rate: 8000},
		audio.Format{Encoding: audio.EncodingULaw, Rate: 8000},
	)
	if err != nil {
		t.Fatalf("NewTranscoder: %v", err)
	}

	if _, err := tr.Transcode(make([]byte, 321)); !errors.Is(err, audio.ErrMisaligned) {
		t.Errorf("got %v, want ErrMisaligned", err)
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    audio.Format
		wantErr bool
	}{
		{in: "ulaw@8000", want: audio.Format{Encoding: audio.EncodingULaw, Rate: 8000}},
		{in: "linear16@16000", want: audio.Format{Encoding: audio.EncodingSLIN16, Rate: 16000}},
		{in: "g711_alaw@8000", want: audio.Format{Encoding: audio.EncodingALaw, Rate: 8000}},
		{in: "ulaw", wantErr: true},
		{in: "opus@48000", wantErr: true},
		{in: "ulaw@12345", wantErr: true},
	}
	for _, tt := range tests {
		got, err := audio.ParseFormat(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFormat(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFormat(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := audio.RMS(pcm16(0, 0, 0, 0)); got != 0 {
		t.Errorf("silence RMS = %v, want 0", got)
	}

	// A constant full-positive signal has RMS equal to its amplitude.
	got := audio.RMS(pcm16(16000, 16000, 16000, 16000))
	if got < 15999 || got > 16001 {
		t.Errorf("constant signal RMS = %v, want ~16000", got)
	}
}
