// Package protocol implements the little-endian framed binary wire format
// spec.md §6 describes and treats as an external collaborator. No such
// library exists in the reference corpus (it is a Rust crate,
// bancho_protocol, in original_source), so it is implemented here
// from scratch: a small decoder for client-sent frames and a typed
// encoder for every server message spec.md §4.7/§4.8/§6 names.
package protocol

import (
	"encoding/binary"
	"errors"
)

// ErrDecodingFailed is returned when a trailing frame's header or payload is
// truncated.
var ErrDecodingFailed = errors.New("decoding-failed: truncated frame header")

const headerSize = 7 // u16 type + u8 padding + u32 arg_len

// Frame is one decoded client event: its message type and raw payload.
type Frame struct {
	Type    uint16
	Payload []byte
}

// DecodeFrames reads a contiguous sequence of
// [u16 type][u8 pad][u32 arg_len][arg_len bytes] frames until the buffer is
// exhausted. A partial header or payload at the tail is fatal.
func DecodeFrames(body []byte) ([]Frame, error) {
	var frames []Frame
	offset := 0
	for offset < len(body) {
		if len(body)-offset < headerSize {
			return nil, ErrDecodingFailed
		}
		msgType := binary.LittleEndian.Uint16(body[offset:])
		argLen := binary.LittleEndian.Uint32(body[offset+3:])
		offset += headerSize

		if uint32(len(body)-offset) < argLen {
			return nil, ErrDecodingFailed
		}

		payload := body[offset : offset+int(argLen)]
		offset += int(argLen)

		frames = append(frames, Frame{Type: msgType, Payload: payload})
	}
	return frames, nil
}
