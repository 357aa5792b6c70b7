// Package frame encodes and decodes RFC 6455 WebSocket frames held in byte
// buffers. It never touches a socket: callers feed it whatever bytes they have
// read so far and keep the unconsumed remainder for the next attempt.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/gobwas/ws"
)

// OpCode is a frame operation code.
type OpCode = ws.OpCode

// Operation codes understood by the chat transport.
const (
	OpContinuation = ws.OpContinuation
	OpText         = ws.OpText
	OpBinary       = ws.OpBinary
	OpClose        = ws.OpClose
	OpPing         = ws.OpPing
	OpPong         = ws.OpPong
)

// MaxPayloadSize bounds the payload length a peer may declare. Anything larger
// cannot be buffered and is reported as a protocol error.
const MaxPayloadSize = 16 * 1024 * 1024

var (
	// ErrIncomplete means the buffer holds only a prefix of a frame.
	ErrIncomplete = errors.New("frame: incomplete")
	// ErrTooLarge means the declared payload length exceeds MaxPayloadSize.
	ErrTooLarge = errors.New("frame: payload too large")
	// ErrReservedBits means RSV bits were set without a negotiated extension.
	ErrReservedBits = errors.New("frame: reserved bits set")
	// ErrBadLength means the 64-bit length had its most significant bit set.
	ErrBadLength = errors.New("frame: malformed length")
	// ErrFragmented is returned by CheckUnfragmented for continuation and
	// non-final frames, which this transport does not reassemble.
	ErrFragmented = errors.New("frame: fragmented messages are not supported")
	// ErrBadControl means a close, ping or pong frame was fragmented or
	// carried more than ws.MaxControlFramePayloadSize bytes.
	ErrBadControl = errors.New("frame: malformed control frame")
)

// ProtocolError describes a frame that can never be decoded, no matter how
// many more bytes arrive.
type ProtocolError struct {
	Err    error
	OpCode OpCode
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("frame protocol error (opcode 0x%x): %v", byte(e.OpCode), e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Frame is one decoded frame. Payload is always unmasked and owned by the
// frame, never aliasing the input buffer.
type Frame struct {
	Fin     bool
	OpCode  OpCode
	Masked  bool
	Mask    [4]byte
	Payload []byte
}

// Decode parses the frame at the start of buf and reports how many bytes it
// occupied. All three length encodings are accepted regardless of the actual
// length. If buf is a strict prefix of a frame, Decode returns ErrIncomplete
// and consumes nothing.
func Decode(buf []byte) (Frame, int, error) {
	r := bytes.NewReader(buf)
	h, err := ws.ReadHeader(r)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return Frame{}, 0, ErrIncomplete
	case errors.Is(err, ws.ErrHeaderLengthMSB):
		return Frame{}, 0, &ProtocolError{Err: ErrBadLength, OpCode: h.OpCode}
	case err != nil:
		return Frame{}, 0, &ProtocolError{Err: err, OpCode: h.OpCode}
	}

	if h.Rsv != 0 {
		return Frame{}, 0, &ProtocolError{Err: ErrReservedBits, OpCode: h.OpCode}
	}
	if h.Length > MaxPayloadSize {
		return Frame{}, 0, &ProtocolError{Err: ErrTooLarge, OpCode: h.OpCode}
	}
	if h.OpCode.IsControl() && !h.OpCode.IsReserved() &&
		(!h.Fin || h.Length > ws.MaxControlFramePayloadSize) {
		return Frame{}, 0, &ProtocolError{Err: ErrBadControl, OpCode: h.OpCode}
	}

	headerLen := len(buf) - r.Len()
	if int64(r.Len()) < h.Length {
		return Frame{}, 0, ErrIncomplete
	}
	end := headerLen + int(h.Length)

	payload := make([]byte, h.Length)
	copy(payload, buf[headerLen:end])
	if h.Masked {
		ws.Cipher(payload, h.Mask, 0)
	}

	return Frame{
		Fin:     h.Fin,
		OpCode:  h.OpCode,
		Masked:  h.Masked,
		Mask:    h.Mask,
		Payload: payload,
	}, end, nil
}

// CheckUnfragmented rejects continuation frames and non-final data frames.
func CheckUnfragmented(f Frame) error {
	if f.OpCode == OpContinuation || (!f.Fin && f.OpCode.IsData()) {
		return &ProtocolError{Err: ErrFragmented, OpCode: f.OpCode}
	}
	return nil
}

// Encode builds a single unmasked final frame, as sent by a server. The
// shortest length encoding that fits the payload is always chosen.
func Encode(op OpCode, payload []byte) []byte {
	return encode(ws.Header{Fin: true, OpCode: op, Length: int64(len(payload))}, payload)
}

// EncodeMasked builds a single final frame masked with mask, as sent by a
// client.
func EncodeMasked(op OpCode, payload []byte, mask [4]byte) []byte {
	h := ws.Header{Fin: true, OpCode: op, Masked: true, Mask: mask, Length: int64(len(payload))}
	out := encode(h, payload)
	ws.Cipher(out[len(out)-len(payload):], mask, 0)
	return out
}

// EncodeText is shorthand for Encode(OpText, payload).
func EncodeText(payload []byte) []byte {
	return Encode(OpText, payload)
}

// EncodeClose builds a close frame carrying code and reason. A zero code
// yields an empty body.
func EncodeClose(code ws.StatusCode, reason string) []byte {
	if code == 0 {
		return Encode(OpClose, nil)
	}
	return Encode(OpClose, ws.NewCloseFrameBody(code, reason))
}

func encode(h ws.Header, payload []byte) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, ws.HeaderSize(h)+len(payload)))
	// Writes to a bytes.Buffer cannot fail and h.Length is a slice length.
	_ = ws.WriteHeader(buf, h)
	buf.Write(payload)
	return buf.Bytes()
}

// CloseCode returns the status code carried by a close frame body, or 0 when
// the body is too short to hold one.
func CloseCode(payload []byte) ws.StatusCode {
	code, _ := ws.ParseCloseFrameData(payload)
	return code
}
