// Package audiosocket implements the Asterisk AudioSocket TCP protocol.
//
// Wire format per frame: one type byte, a big-endian uint16 payload length,
// then the payload. The first frame on every connection must be an ID frame
// carrying the 16 raw UUID bytes that bind the connection to a call.
package audiosocket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Frame type bytes.
const (
	TypeHangup  byte = 0x00
	TypeID      byte = 0x01
	TypeSilence byte = 0x02
	TypeAudio   byte = 0x10
	TypeError   byte = 0xff
)

// MaxPayload is the largest payload the length field can describe.
const MaxPayload = 0xffff

// ErrShortIDFrame is returned when an ID frame does not carry exactly 16
// bytes.
var ErrShortIDFrame = errors.New("audiosocket: id frame must carry 16 bytes")

// Frame is one decoded AudioSocket frame. Payload aliases the read buffer
// and is only valid until the next ReadFrame call on the same reader.
type Frame struct {
	Type    byte
	Payload []byte
}

// ReadFrame reads one frame from r into buf. buf must be at least
// 3+MaxPayload bytes; passing the same buffer across calls keeps the read
// path allocation-free.
func ReadFrame(r io.Reader, buf []byte) (Frame, error) {
	if len(buf) < 3+MaxPayload {
		return Frame{}, fmt.Errorf("audiosocket: read buffer too small (%d bytes)", len(buf))
	}
	if _, err := io.ReadFull(r, buf[:3]); err != nil {
		return Frame{}, err
	}
	ftype := buf[0]
	plen := int(binary.BigEndian.Uint16(buf[1:3]))
	if plen == 0 {
		return Frame{Type: ftype}, nil
	}
	if _, err := io.ReadFull(r, buf[3:3+plen]); err != nil {
		return Frame{}, fmt.Errorf("audiosocket: read payload: %w", err)
	}
	return Frame{Type: ftype, Payload: buf[3 : 3+plen]}, nil
}

// WriteFrame writes one frame to w.
func WriteFrame(w io.Writer, ftype byte, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("audiosocket: payload too large (%d bytes)", len(payload))
	}
	var hdr [3]byte
	hdr[0] = ftype
	binary.BigEndian.PutUint16(hdr[1:3], uint16(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// ParseID extracts the call UUID from an ID frame payload.
func ParseID(payload []byte) (uuid.UUID, error) {
	if len(payload) != 16 {
		return uuid.UUID{}, ErrShortIDFrame
	}
	return uuid.FromBytes(payload)
}
