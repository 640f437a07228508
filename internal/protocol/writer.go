package protocol

import (
	"bytes"
	"encoding/binary"
	"math"
)

// payloadWriter accumulates the primitive fields of one message's payload
// before it is wrapped in a frame header.
type payloadWriter struct {
	buf bytes.Buffer
}

func (w *payloadWriter) u8(v uint8)   { w.buf.WriteByte(v) }
func (w *payloadWriter) i8(v int8)    { w.buf.WriteByte(byte(v)) }
func (w *payloadWriter) boolean(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *payloadWriter) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *payloadWriter) i16(v int16) { w.u16(uint16(v)) }

func (w *payloadWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *payloadWriter) i32(v int32) { w.u32(uint32(v)) }

func (w *payloadWriter) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *payloadWriter) i64(v int64) { w.u64(uint64(v)) }

func (w *payloadWriter) f32(v float32) { w.u32(math.Float32bits(v)) }

func (w *payloadWriter) str(s string) {
	if s == "" {
		w.u8(0)
		return
	}
	w.u8(11) // osu!'s string-has-content marker byte
	w.uleb128(uint64(len(s)))
	w.buf.WriteString(s)
}

func (w *payloadWriter) uleb128(v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf.WriteByte(b)
		if v == 0 {
			break
		}
	}
}

func (w *payloadWriter) bytes(b []byte) { w.buf.Write(b) }

func (w *payloadWriter) i32list(vs []int32) {
	w.u16(uint16(len(vs)))
	for _, v := range vs {
		w.i32(v)
	}
}
