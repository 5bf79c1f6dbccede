package wire

import (
	"encoding/binary"
	"math"
	"time"
)

// payloadWriter appends big-endian fields to a buffer.
type payloadWriter struct {
	buf []byte
}

func (w *payloadWriter) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *payloadWriter) u16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *payloadWriter) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *payloadWriter) f32(v float32) {
	w.u32(math.Float32bits(v))
}
func (w *payloadWriter) time(t time.Time) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(encodeTime(t)))
}
func (w *payloadWriter) str16(s string) {
	w.u16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// payloadReader consumes big-endian fields and remembers the first failure,
// so decoders can read every field and check the error once.
type payloadReader struct {
	op  string
	b   []byte
	off int
	err error
}

func (r *payloadReader) take(field string, n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.b)-r.off < n {
		r.err = invalid(r.op, field, ErrTruncated, "need %d bytes at offset %d, have %d", n, r.off, len(r.b)-r.off)
		return nil
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *payloadReader) u8(field string) uint8 {
	if b := r.take(field, 1); b != nil {
		return b[0]
	}
	return 0
}

func (r *payloadReader) u16(field string) uint16 {
	if b := r.take(field, 2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *payloadReader) u32(field string) uint32 {
	if b := r.take(field, 4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *payloadReader) f32(field string) float32 {
	return math.Float32frombits(r.u32(field))
}

func (r *payloadReader) time(field string) time.Time {
	if b := r.take(field, 8); b != nil {
		return decodeTime(int64(binary.BigEndian.Uint64(b)))
	}
	return time.Time{}
}

// str16 reads a u16 length prefix and that many bytes, rejecting lengths above max.
func (r *payloadReader) str16(field string, max int) string {
	n := int(r.u16(field + "_len"))
	if r.err == nil && n > max {
		r.err = invalid(r.op, field, ErrMalformed, "length %d exceeds limit %d", n, max)
		return ""
	}
	return string(r.take(field, n))
}

// done returns the first error, or ErrMalformed if bytes remain.
func (r *payloadReader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.b) {
		return invalid(r.op, "", ErrMalformed, "%d trailing bytes", len(r.b)-r.off)
	}
	return nil
}
