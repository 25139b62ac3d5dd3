package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncodeLengthTiers(t *testing.T) {
	tests := []struct {
		name       string
		payloadLen int
		headerLen  int
		marker     byte
	}{
		{name: "empty", payloadLen: 0, headerLen: 2, marker: 0},
		{name: "one byte", payloadLen: 1, headerLen: 2, marker: 1},
		{name: "top of 7-bit tier", payloadLen: 125, headerLen: 2, marker: 125},
		{name: "bottom of 16-bit tier", payloadLen: 126, headerLen: 4, marker: 126},
		{name: "top of 16-bit tier", payloadLen: 65535, headerLen: 4, marker: 126},
		{name: "bottom of 64-bit tier", payloadLen: 65536, headerLen: 10, marker: 127},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			payload := bytes.Repeat([]byte{0xAB}, tc.payloadLen)
			frame := Encode(OpText, payload)

			if frame[0] != 0x81 {
				t.Fatalf("byte0: got %#x want 0x81 (FIN|text)", frame[0])
			}
			if frame[1]&0x80 != 0 {
				t.Fatalf("server frame must not set the mask bit")
			}
			if frame[1]&0x7F != tc.marker {
				t.Fatalf("length marker: got %d want %d", frame[1]&0x7F, tc.marker)
			}
			if len(frame) != tc.headerLen+tc.payloadLen {
				t.Fatalf("frame size: got %d want %d", len(frame), tc.headerLen+tc.payloadLen)
			}
			switch tc.marker {
			case 126:
				if got := int(binary.BigEndian.Uint16(frame[2:4])); got != tc.payloadLen {
					t.Fatalf("extended 16-bit length: got %d want %d", got, tc.payloadLen)
				}
			case 127:
				if got := int(binary.BigEndian.Uint64(frame[2:10])); got != tc.payloadLen {
					t.Fatalf("extended 64-bit length: got %d want %d", got, tc.payloadLen)
				}
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	codec := Codec{MaxPayload: 1 << 20}
	for _, length := range []int{0, 1, 125, 126, 65535, 65536} {
		payload := bytes.Repeat([]byte{0x42}, length)
		frame, consumed, err := codec.Decode(Encode(OpText, payload))
		if err != nil {
			t.Fatalf("length %d: decode: %v", length, err)
		}
		if consumed != len(Encode(OpText, payload)) {
			t.Fatalf("length %d: consumed %d of %d bytes", length, consumed, len(Encode(OpText, payload)))
		}
		if frame.Opcode != OpText {
			t.Fatalf("length %d: opcode %v", length, frame.Opcode)
		}
		if !bytes.Equal(frame.Payload, payload) {
			t.Fatalf("length %d: payload did not round-trip", length)
		}
	}
}

func TestDecodeUnmasksClientPayload(t *testing.T) {
	mask := [4]byte{0x01, 0x02, 0x03, 0x04}
	plain := []byte("Hi")

	buf := []byte{0x81, 0x80 | byte(len(plain))}
	buf = append(buf, mask[:]...)
	for i, b := range plain {
		buf = append(buf, b^mask[i%4])
	}

	frame, consumed, err := Codec{}.Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if consumed != len(buf) {
		t.Fatalf("consumed %d of %d", consumed, len(buf))
	}
	if !frame.Masked {
		t.Fatalf("mask bit not reported")
	}
	if string(frame.Payload) != "Hi" {
		t.Fatalf("unmasked payload: got %q want %q", frame.Payload, "Hi")
	}
}

func TestDecodeByteAtATime(t *testing.T) {
	codec := Codec{}
	full := Encode(OpText, []byte("incremental delivery"))

	for i := 1; i < len(full); i++ {
		if _, _, err := codec.Decode(full[:i]); !errors.Is(err, ErrIncomplete) {
			t.Fatalf("prefix %d/%d: got %v want ErrIncomplete", i, len(full), err)
		}
	}

	frame, consumed, err := codec.Decode(full)
	if err != nil {
		t.Fatalf("full buffer: %v", err)
	}
	if consumed != len(full) {
		t.Fatalf("consumed %d of %d", consumed, len(full))
	}
	if string(frame.Payload) != "incremental delivery" {
		t.Fatalf("payload: got %q", frame.Payload)
	}
}

func TestDecodeTwoFramesBackToBack(t *testing.T) {
	codec := Codec{}
	buf := append(Encode(OpText, []byte("first")), Encode(OpPing, []byte("second"))...)

	frame, consumed, err := codec.Decode(buf)
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if string(frame.Payload) != "first" {
		t.Fatalf("first payload: got %q", frame.Payload)
	}

	frame, rest, err := codec.Decode(buf[consumed:])
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if frame.Opcode != OpPing || string(frame.Payload) != "second" {
		t.Fatalf("second frame: opcode %v payload %q", frame.Opcode, frame.Payload)
	}
	if consumed+rest != len(buf) {
		t.Fatalf("consumed %d+%d of %d", consumed, rest, len(buf))
	}
}

func TestDecodeControlOpcodes(t *testing.T) {
	for _, op := range []Opcode{OpClose, OpPing, OpPong} {
		frame, _, err := Codec{}.Decode(Encode(op, nil))
		if err != nil {
			t.Fatalf("%v: %v", op, err)
		}
		if frame.Opcode != op {
			t.Fatalf("opcode: got %v want %v", frame.Opcode, op)
		}
	}
}

func TestDecodeRejectsOversizedLength(t *testing.T) {
	// 64-bit length declaring 2 MiB against a 1 MiB cap; no payload bytes
	// follow, which is exactly the attack the cap exists for.
	buf := []byte{0x81, 127}
	ext := make([]byte, 8)
	binary.BigEndian.PutUint64(ext, 2<<20)
	buf = append(buf, ext...)

	if _, _, err := (Codec{MaxPayload: 1 << 20}).Decode(buf); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("got %v want ErrTooLarge", err)
	}
}

func TestDecodeShortHeader(t *testing.T) {
	for _, buf := range [][]byte{nil, {}, {0x81}} {
		if _, _, err := (Codec{}).Decode(buf); !errors.Is(err, ErrIncomplete) {
			t.Fatalf("buf %v: got %v want ErrIncomplete", buf, err)
		}
	}
}
