// Package wire implements the AudioSocket media protocol: the TCP framing
// Asterisk uses to hand a call's audio to an external service.
//
// Each frame is a three-byte header followed by a payload:
//
//	byte 0      kind
//	bytes 1-2   payload length, big endian
//	bytes 3-    payload
//
// The first frame of every connection carries the call's UUID; audio frames
// carry signed 16-bit little-endian linear PCM.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Kind identifies an AudioSocket frame type.
type Kind byte

const (
	// KindHangup terminates the call. No payload.
	KindHangup Kind = 0x00

	// KindID carries the 16-byte call UUID. Always the first frame.
	KindID Kind = 0x01

	// KindDTMF carries one ASCII DTMF digit.
	KindDTMF Kind = 0x03

	// KindAudio carries linear PCM audio.
	KindAudio Kind = 0x10

	// KindError reports an Asterisk-side error code.
	KindError Kind = 0xff
)

func (k Kind) String() string {
	switch k {
	case KindHangup:
		return "hangup"
	case KindID:
		return "id"
	case KindDTMF:
		return "dtmf"
	case KindAudio:
		return "audio"
	case KindError:
		return "error"
	}
	return fmt.Sprintf("kind(0x%02x)", byte(k))
}

// ErrProtocol reports a malformed AudioSocket frame.
var ErrProtocol = errors.New("wire: protocol error")

// Message is one decoded AudioSocket frame.
type Message struct {
	Kind    Kind
	Payload []byte
}

const headerLen = 3

// ReadMessage decodes one frame from r. The payload is freshly allocated per
// call, so it remains valid after subsequent reads.
func ReadMessage(r io.Reader) (Message, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, err
	}
	n := binary.BigEndian.Uint16(hdr[1:])
	m := Message{Kind: Kind(hdr[0])}
	if n > 0 {
		m.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return Message{}, fmt.Errorf("%w: short payload for %s frame: %v", ErrProtocol, m.Kind, err)
		}
	}
	return m, nil
}

// WriteMessage encodes one frame to w. The payload must fit a uint16 length.
func WriteMessage(w io.Writer, m Message) error {
	if len(m.Payload) > 0xffff {
		return fmt.Errorf("%w: payload of %d bytes exceeds frame limit", ErrProtocol, len(m.Payload))
	}
	buf := make([]byte, headerLen+len(m.Payload))
	buf[0] = byte(m.Kind)
	binary.BigEndian.PutUint16(buf[1:], uint16(len(m.Payload)))
	copy(buf[headerLen:], m.Payload)
	_, err := w.Write(buf)
	return err
}

// ParseID extracts the call UUID from a KindID payload.
func ParseID(m Message) (uuid.UUID, error) {
	if m.Kind != KindID {
		return uuid.Nil, fmt.Errorf("%w: want id frame, got %s", ErrProtocol, m.Kind)
	}
	id, err := uuid.FromBytes(m.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad call id: %v", ErrProtocol, err)
	}
	return id, nil
}
