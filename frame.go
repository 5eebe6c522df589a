package mongrel2

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Opcode is the 4-bit frame type.
type Opcode byte

// Frame opcodes. The numeric values are shared with gorilla/websocket's
// message types.
const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = websocket.TextMessage
	OpBinary       Opcode = websocket.BinaryMessage
	OpClose        Opcode = websocket.CloseMessage
	OpPing         Opcode = websocket.PingMessage
	OpPong         Opcode = websocket.PongMessage
)

func (o Opcode) String() string {
	switch o {
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
	}
	return "reserved"
}

// IsControl reports whether o is a control opcode.
func (o Opcode) IsControl() bool { return o&opcodeControlMask != 0 }

// Reserved reports whether o has no meaning in RFC 6455.
func (o Opcode) Reserved() bool { return o.String() == "reserved" }

// Bits of the first frame header byte.
const (
	FlagFIN  byte = 0x80
	FlagRSV1 byte = 0x40
	FlagRSV2 byte = 0x20
	FlagRSV3 byte = 0x10

	rsvFlagMask       byte = 0x70
	opcodeMask        byte = 0x0F
	opcodeControlMask Opcode = 0x08
)

// DefaultFrameFlags are the flags of a frame built without any: a final
// close frame.
const DefaultFrameFlags = FlagFIN | byte(OpClose)

// maxControlPayload is the largest payload a control frame may carry.
const maxControlPayload = 125

// Frame is a WebSocket frame as exchanged with the server: a flags byte and a
// payload. Frames sent to the server are never masked.
type Frame struct {
	payload   []byte
	flags     byte
	chunkSize int
}

// NewFrame returns a frame with the given payload and flags.
func NewFrame(payload []byte, flags byte) *Frame {
	return &Frame{payload: payload, flags: flags, chunkSize: DefaultChunkSize}
}

func finalFrame(op Opcode, payload []byte) *Frame {
	return NewFrame(payload, FlagFIN|byte(op))
}

// TextFrame returns a final text frame.
func TextFrame(payload []byte) *Frame { return finalFrame(OpText, payload) }

// BinaryFrame returns a final binary frame.
func BinaryFrame(payload []byte) *Frame { return finalFrame(OpBinary, payload) }

// CloseFrame returns a close frame with the given payload.
func CloseFrame(payload []byte) *Frame { return finalFrame(OpClose, payload) }

// PingFrame returns a ping frame.
func PingFrame(payload []byte) *Frame { return finalFrame(OpPing, payload) }

// PongFrame returns a pong frame.
func PongFrame(payload []byte) *Frame { return finalFrame(OpPong, payload) }

// ContinuationFrame returns a final continuation frame.
func ContinuationFrame(payload []byte) *Frame { return finalFrame(OpContinuation, payload) }

// ParseFlags parses the FLAGS header the server sends with frames, a byte
// written as "0x" and two hex digits.
func ParseFlags(s string) (byte, error) {
	if len(s) != 4 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return 0, errors.Errorf("bad frame flags %q", s)
	}
	v, err := strconv.ParseUint(s[2:], 16, 8)
	if err != nil {
		return 0, errors.Wrapf(err, "bad frame flags %q", s)
	}
	return byte(v), nil
}

// Payload returns the frame payload.
func (f *Frame) Payload() []byte { return f.payload }

// SetPayload replaces the payload.
func (f *Frame) SetPayload(p []byte) { f.payload = p }

// Write appends p to the payload.
func (f *Frame) Write(p []byte) (int, error) {
	f.payload = append(f.payload, p...)
	return len(p), nil
}

// WriteString appends s to the payload.
func (f *Frame) WriteString(s string) (int, error) {
	f.payload = append(f.payload, s...)
	return len(s), nil
}

// Flags returns the header flags byte.
func (f *Frame) Flags() byte { return f.flags }

// SetFlags replaces the header flags byte.
func (f *Frame) SetFlags(flags byte) { f.flags = flags }

// Opcode returns the frame opcode.
func (f *Frame) Opcode() Opcode { return Opcode(f.flags & opcodeMask) }

// NumericOpcode returns the opcode bits.
func (f *Frame) NumericOpcode() byte { return f.flags & opcodeMask }

// SetOpcode replaces the opcode, keeping the other flags.
func (f *Frame) SetOpcode(op Opcode) {
	f.flags = f.flags&^opcodeMask | byte(op)&opcodeMask
}

func (f *Frame) setFlag(mask byte, on bool) {
	if on {
		f.flags |= mask
	} else {
		f.flags &^= mask
	}
}

// FIN reports whether this is the final fragment of a message.
func (f *Frame) FIN() bool { return f.flags&FlagFIN != 0 }

// SetFIN sets or clears the FIN bit.
func (f *Frame) SetFIN(on bool) { f.setFlag(FlagFIN, on) }

// RSV1 reports the first reserved bit.
func (f *Frame) RSV1() bool { return f.flags&FlagRSV1 != 0 }

// SetRSV1 sets or clears the first reserved bit.
func (f *Frame) SetRSV1(on bool) { f.setFlag(FlagRSV1, on) }

// RSV2 reports the second reserved bit.
func (f *Frame) RSV2() bool { return f.flags&FlagRSV2 != 0 }

// SetRSV2 sets or clears the second reserved bit.
func (f *Frame) SetRSV2(on bool) { f.setFlag(FlagRSV2, on) }

// RSV3 reports the third reserved bit.
func (f *Frame) RSV3() bool { return f.flags&FlagRSV3 != 0 }

// SetRSV3 sets or clears the third reserved bit.
func (f *Frame) SetRSV3(on bool) { f.setFlag(FlagRSV3, on) }

// IsControl reports whether the frame is a control frame.
func (f *Frame) IsControl() bool { return f.Opcode().IsControl() }

// HasRSVFlags reports whether any reserved bit is set.
func (f *Frame) HasRSVFlags() bool { return f.flags&rsvFlagMask != 0 }

// Encoding returns "binary" for binary frames and "utf-8" for the rest.
// Payloads are not checked against it; see ValidUTF8.
func (f *Frame) Encoding() string {
	if f.Opcode() == OpBinary {
		return "binary"
	}
	return "utf-8"
}

// ValidUTF8 reports whether the payload is valid UTF-8. A fragment may end
// inside a multi-byte sequence, so only check whole messages.
func (f *Frame) ValidUTF8() bool { return utf8.Valid(f.payload) }

// ChunkSize returns the size EachChunk splits the wire bytes at.
func (f *Frame) ChunkSize() int { return f.chunkSize }

// SetChunkSize changes the size EachChunk splits the wire bytes at.
func (f *Frame) SetChunkSize(n int) {
	if n <= 0 {
		n = DefaultChunkSize
	}
	f.chunkSize = n
}

// MakeCloseFrame turns f into a close frame carrying status.
func (f *Frame) MakeCloseFrame(status CloseStatus) error {
	if err := f.SetStatus(status); err != nil {
		return err
	}
	f.SetOpcode(OpClose)
	return nil
}

// SetStatus replaces the payload with "<code> <description>\n".
func (f *Frame) SetStatus(status CloseStatus) error {
	if status.Reserved() {
		return errors.Wrapf(ErrReservedCloseStatus, "status %d", int(status))
	}
	f.payload = []byte(status.message())
	return nil
}

// Validate checks the frame against the RFC 6455 rules for frames and
// reports every rule it breaks.
func (f *Frame) Validate() error {
	var violations []string
	if f.IsControl() {
		if len(f.payload) > maxControlPayload {
			violations = append(violations, "payload of control frame cannot exceed 125 bytes")
		}
		if !f.FIN() {
			violations = append(violations, "control frame is fragmented (no FIN flag set)")
		}
	}
	if f.Opcode().Reserved() {
		violations = append(violations, "frame uses reserved opcode")
	}
	if f.HasRSVFlags() {
		violations = append(violations, "frame has one or more reserved flags set")
	}

	if len(violations) > 0 {
		return &FrameValidationError{Violations: violations}
	}
	return nil
}

// Valid reports whether Validate passes.
func (f *Frame) Valid() bool { return f.Validate() == nil }

// header builds the frame header: the flags byte and the payload length in
// 7, 7+16 or 7+64 bits.
func (f *Frame) header() []byte {
	n := len(f.payload)
	switch {
	case n <= 125:
		return []byte{f.flags, byte(n)}
	case n <= 0xFFFF:
		h := []byte{f.flags, 126, 0, 0}
		binary.BigEndian.PutUint16(h[2:], uint16(n))
		return h
	}
	h := make([]byte, 10)
	h[0], h[1] = f.flags, 127
	binary.BigEndian.PutUint64(h[2:], uint64(n))
	return h
}

// ToWire returns the frame as it is sent on the wire.
func (f *Frame) ToWire() []byte {
	return append(f.header(), f.payload...)
}

// EachChunk validates the frame, then yields its wire bytes in chunks of
// at most ChunkSize bytes.
func (f *Frame) EachChunk(fn func([]byte) error) error {
	if err := f.Validate(); err != nil {
		return err
	}
	wire := f.ToWire()
	size := f.chunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	for len(wire) > 0 {
		n := min(size, len(wire))
		if err := fn(wire[:n]); err != nil {
			return err
		}
		wire = wire[n:]
	}
	return nil
}

// ParseWire decodes one frame from b and returns the unconsumed bytes. A
// masked frame is unmasked.
func ParseWire(b []byte) (*Frame, []byte, error) {
	if len(b) < 2 {
		return nil, b, errors.New("frame header truncated")
	}
	flags := b[0]
	masked := b[1]&0x80 != 0
	length := uint64(b[1] & 0x7F)
	off := 2

	switch length {
	case 126:
		if len(b) < off+2 {
			return nil, b, errors.New("frame length truncated")
		}
		length = uint64(binary.BigEndian.Uint16(b[off:]))
		off += 2
	case 127:
		if len(b) < off+8 {
			return nil, b, errors.New("frame length truncated")
		}
		length = binary.BigEndian.Uint64(b[off:])
		off += 8
	}

	var key [4]byte
	if masked {
		if len(b) < off+4 {
			return nil, b, errors.New("frame mask truncated")
		}
		copy(key[:], b[off:off+4])
		off += 4
	}

	if length > uint64(len(b)-off) {
		return nil, b, errors.Errorf("frame payload truncated: want %d bytes, have %d", length, len(b)-off)
	}
	end := off + int(length)

	payload := make([]byte, length)
	copy(payload, b[off:end])
	if masked {
		for i := range payload {
			payload[i] ^= key[i%4]
		}
	}
	return NewFrame(payload, flags), b[end:], nil
}

// String describes the frame for logs.
func (f *Frame) String() string {
	bit := func(on bool) int {
		if on {
			return 1
		}
		return 0
	}
	return fmt.Sprintf("FIN:%d RSV1:%d RSV2:%d RSV3:%d OPCODE:%s (0x%x) -- %0.2fK body",
		bit(f.FIN()), bit(f.RSV1()), bit(f.RSV2()), bit(f.RSV3()),
		f.Opcode(), f.NumericOpcode(), float64(len(f.payload))/1024)
}
