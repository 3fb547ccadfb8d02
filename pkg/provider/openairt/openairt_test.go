package openairt_test

import (
	"testing"

	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/openairt"
)

func TestParseAck(t *testing.T) {
	t.Parallel()

	a := openairt.New("key")

	raw := []byte(`{
		"type": "session.updated",
		"session": {
			"input_audio_format": "g711_ulaw",
			"output_audio_format": "pcm16"
		}
	}`)
	ack, ok := a.ParseAck(raw)
	if !ok {
		t.Fatal("ParseAck rejected a valid session.updated event")
	}
	if want := (audio.Format{Encoding: audio.EncodingULaw, Rate: 8000}); ack.Input != want {
		t.Errorf("input = %v, want %v", ack.Input, want)
	}
	// pcm16 is implicitly 24kHz in the Realtime API.
	if want := (audio.Format{Encoding: audio.EncodingSLIN16, Rate: 24000}); ack.Output != want {
		t.Errorf("output = %v, want %v", ack.Output, want)
	}
}

func TestParseAckRejectsOtherEvents(t *testing.T) {
	t.Parallel()

	a := openairt.New("key")

	tests := []string{
		`{"type": "session.created"}`,
		`{"type": "session.updated"}`,
		`{"type": "session.updated", "session": {"input_audio_format": "mp3", "output_audio_format": "pcm16"}}`,
		`not json`,
	}
	for _, raw := range tests {
		if _, ok := a.ParseAck([]byte(raw)); ok {
			t.Errorf("ParseAck accepted %q", raw)
		}
	}
}
