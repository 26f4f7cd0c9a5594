package vrt

import (
	"encoding/binary"
	"fmt"
)

// wordReader is a bounds-checked cursor over the 32-bit big-endian words of
// a single packet. It never reads past len(buf).
type wordReader struct {
	buf []byte
	pos int
}

func newWordReader(buf []byte) *wordReader {
	return &wordReader{buf: buf}
}

func (r *wordReader) offset() int { return r.pos }

func (r *wordReader) remainingWords() int {
	return (len(r.buf) - r.pos) / 4
}

func (r *wordReader) truncated(field string, words int) error {
	return newDecodeError(TruncatedInput, r.pos, field,
		fmt.Sprintf("need %d words, have %d", words, r.remainingWords()))
}

func (r *wordReader) u32(field string) (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, r.truncated(field, 1)
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *wordReader) u64(field string) (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, r.truncated(field, 2)
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *wordReader) words(field string, n int) ([]uint32, error) {
	if n < 0 || r.pos+4*n > len(r.buf) {
		return nil, r.truncated(field, n)
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
		r.pos += 4
	}
	return out, nil
}

// peek returns the word at index i past the cursor without consuming it.
func (r *wordReader) peek(field string, i int) (uint32, error) {
	at := r.pos + 4*i
	if at+4 > len(r.buf) {
		return 0, r.truncated(field, i+1)
	}
	return binary.BigEndian.Uint32(r.buf[at : at+4]), nil
}

func (r *wordReader) bytes(field string, n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, newDecodeError(TruncatedInput, r.pos, field,
			fmt.Sprintf("need %d bytes, have %d", n, len(r.buf)-r.pos))
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

// wordWriter appends big-endian words to a growing buffer.
type wordWriter struct {
	buf []byte
}

func (w *wordWriter) u32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *wordWriter) u64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *wordWriter) words(ws []uint32) {
	for _, v := range ws {
		w.u32(v)
	}
}

func (w *wordWriter) raw(b []byte) {
	w.buf = append(w.buf, b...)
}
