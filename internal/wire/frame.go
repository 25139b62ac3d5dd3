// Package wire implements the RFC 6455 frame subset the monitor speaks:
// single-frame messages, client-to-server masking, 7/16/64-bit lengths.
// Fragmented messages and extensions are out of scope.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(%#x)", byte(op))
	}
}

// Frame is one decoded WebSocket frame. Payload is already unmasked.
type Frame struct {
	Opcode  Opcode
	Masked  bool
	Payload []byte
}

// ErrIncomplete reports that the buffer does not yet hold a full frame.
// Callers keep buffering and retry once more bytes arrive.
var ErrIncomplete = errors.New("wire: incomplete frame")

// ErrTooLarge reports a declared payload length above the codec's cap. The
// length field is attacker-controlled, so it is checked before any
// allocation happens.
var ErrTooLarge = errors.New("wire: frame exceeds maximum payload size")

// DefaultMaxPayload caps the declared payload length accepted by Decode.
const DefaultMaxPayload = 1 << 20

// Codec decodes and encodes frames. The zero value uses DefaultMaxPayload.
type Codec struct {
	// MaxPayload overrides DefaultMaxPayload when positive.
	MaxPayload int
}

func (c Codec) maxPayload() uint64 {
	if c.MaxPayload > 0 {
		return uint64(c.MaxPayload)
	}
	return DefaultMaxPayload
}

// Decode parses the first complete frame in buf and reports how many bytes
// it consumed, so the caller can retain the remainder. It returns
// ErrIncomplete until buf covers header, extended length, mask key and the
// whole payload.
func (c Codec) Decode(buf []byte) (Frame, int, error) {
	if len(buf) < 2 {
		return Frame{}, 0, ErrIncomplete
	}

	opcode := Opcode(buf[0] & 0x0F)
	masked := buf[1]&0x80 != 0
	length := uint64(buf[1] & 0x7F)
	offset := 2

	switch length {
	case 126:
		if len(buf) < offset+2 {
			return Frame{}, 0, ErrIncomplete
		}
		length = uint64(binary.BigEndian.Uint16(buf[offset:]))
		offset += 2
	case 127:
		if len(buf) < offset+8 {
			return Frame{}, 0, ErrIncomplete
		}
		length = binary.BigEndian.Uint64(buf[offset:])
		offset += 8
	}

	if length > c.maxPayload() {
		return Frame{}, 0, ErrTooLarge
	}

	var maskKey [4]byte
	if masked {
		if len(buf) < offset+4 {
			return Frame{}, 0, ErrIncomplete
		}
		copy(maskKey[:], buf[offset:offset+4])
		offset += 4
	}

	if uint64(len(buf)-offset) < length {
		return Frame{}, 0, ErrIncomplete
	}

	payload := make([]byte, length)
	copy(payload, buf[offset:offset+int(length)])
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}

	return Frame{Opcode: opcode, Masked: masked, Payload: payload}, offset + int(length), nil
}

// Encode builds a server-to-client frame: FIN set, no mask, payload verbatim.
func Encode(opcode Opcode, payload []byte) []byte {
	b0 := 0x80 | byte(opcode)
	length := len(payload)

	var header []byte
	switch {
	case length < 126:
		header = []byte{b0, byte(length)}
	case length <= 0xFFFF:
		header = make([]byte, 4)
		header[0] = b0
		header[1] = 126
		binary.BigEndian.PutUint16(header[2:], uint16(length))
	default:
		header = make([]byte, 10)
		header[0] = b0
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:], uint64(length))
	}

	frame := make([]byte, 0, len(header)+length)
	frame = append(frame, header...)
	frame = append(frame, payload...)
	return frame
}

// EncodeText is shorthand for the most common broadcast case.
func EncodeText(payload []byte) []byte {
	return Encode(OpText, payload)
}
