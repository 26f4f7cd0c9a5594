package vrt

import (
	"errors"
	"fmt"
	"io"
	"os"

	"example.com/vrtgate/internal/common"
)

const minBlockSize = 1 << 20

// blockSource serves byte windows of a file from a sliding read buffer.
type blockSource struct {
	file      *os.File
	size      int64
	blockSize int
	buf       []byte
	bufStart  int64
	bufLen    int
}

func newBlockSource(f *os.File, size int64, blockSize int) *blockSource {
	if blockSize < minBlockSize {
		blockSize = minBlockSize
	}
	return &blockSource{file: f, size: size, blockSize: blockSize}
}

func (bs *blockSource) Close() error {
	if bs.file == nil {
		return nil
	}
	err := bs.file.Close()
	bs.file = nil
	bs.buf = nil
	bs.bufLen = 0
	return err
}

// window returns up to length bytes at offset. The view is only valid until
// the next call.
func (bs *blockSource) window(offset int64, length int) ([]byte, error) {
	if bs.file == nil {
		return nil, os.ErrClosed
	}
	if offset >= bs.size || length <= 0 {
		return nil, io.EOF
	}
	if offset >= bs.bufStart && offset+int64(length) <= bs.bufStart+int64(bs.bufLen) {
		start := int(offset - bs.bufStart)
		return bs.buf[start : start+length], nil
	}
	for bs.blockSize < length {
		bs.blockSize *= 2
	}
	if len(bs.buf) < bs.blockSize {
		bs.buf = make([]byte, bs.blockSize)
	}
	toRead := int64(bs.blockSize)
	if remain := bs.size - offset; remain < toRead {
		toRead = remain
	}
	n, err := bs.file.ReadAt(bs.buf[:toRead], offset)
	if err != nil && !errors.Is(err, io.EOF) {
		bs.bufLen = 0
		return nil, err
	}
	bs.bufStart = offset
	bs.bufLen = n
	if n < length {
		return bs.buf[:n], io.ErrUnexpectedEOF
	}
	return bs.buf[:length], nil
}

// Reader decodes a file of back-to-back VRT packets, building an index as it
// goes. There is no sync word to hunt for, so the first undecodable packet
// ends the scan.
type Reader struct {
	source  *blockSource
	size    int64
	offset  int64
	err     error
	metrics *common.Metrics
	index   FileIndex
}

// NewReader opens the file at path and prepares an iterator.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Reader{
		source: newBlockSource(f, info.Size(), minBlockSize),
		size:   info.Size(),
	}, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	if r.source == nil {
		return nil
	}
	err := r.source.Close()
	r.source = nil
	return err
}

// SetMetrics attaches a metrics recorder to the reader.
func (r *Reader) SetMetrics(m *common.Metrics) {
	r.metrics = m
	if m != nil {
		m.SetTotalBytes(r.size)
	}
}

// Offset returns the file offset of the next packet.
func (r *Reader) Offset() int64 { return r.offset }

// Index returns a copy of the accumulated file index.
func (r *Reader) Index() FileIndex {
	out := FileIndex{Packets: make([]PacketIndex, len(r.index.Packets))}
	copy(out.Packets, r.index.Packets)
	return out
}

// Next decodes the next packet. It returns io.EOF at a clean end of file.
// After a decode failure every later call returns the same error.
func (r *Reader) Next() (*Packet, PacketIndex, error) {
	if r.err != nil {
		return nil, PacketIndex{}, r.err
	}
	if r.source == nil || r.offset >= r.size {
		return nil, PacketIndex{}, io.EOF
	}
	p, n, err := r.decodeAt(r.offset)
	if err != nil {
		if r.metrics != nil {
			r.metrics.AddDecodeError(KindOf(err).String())
		}
		common.Logf("packet at offset %d: %v", r.offset, err)
		r.err = fmt.Errorf("packet at offset %d: %w", r.offset, err)
		return nil, PacketIndex{}, r.err
	}
	idx := indexPacket(r.offset, p)
	r.index.Packets = append(r.index.Packets, idx)
	if r.metrics != nil {
		r.metrics.AddPacket(p.Type().String(), int64(n))
	}
	r.offset += int64(n)
	return p, idx, nil
}

func (r *Reader) decodeAt(offset int64) (*Packet, int, error) {
	head, err := r.source.window(offset, 4)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, newDecodeError(TruncatedInput, 0, "header",
				fmt.Sprintf("need 4 bytes, have %d", len(head)))
		}
		return nil, 0, err
	}
	n, err := PacketLen(head)
	if err != nil {
		return nil, 0, err
	}
	if n < 4 {
		// A zero size field cannot hold its own header.
		_, err := Decode(head)
		return nil, 0, err
	}
	view, err := r.source.window(offset, n)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, 0, newDecodeError(TruncatedInput, len(view), "packet",
				fmt.Sprintf("declared %d bytes, file has %d", n, len(view)))
		}
		return nil, 0, err
	}
	p, err := Decode(view)
	if err != nil {
		return nil, 0, err
	}
	return p, n, nil
}

// ScanFile decodes every packet of the file at path and returns its index.
func ScanFile(path string) (FileIndex, error) {
	reader, err := NewReader(path)
	if err != nil {
		return FileIndex{}, err
	}
	defer reader.Close()
	for {
		_, _, err := reader.Next()
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return reader.Index(), nil
		}
		return reader.Index(), err
	}
}

// Writer appends encoded packets to an io.Writer.
type Writer struct {
	w       io.Writer
	packets int
	bytes   int64
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// WritePacket encodes p and writes it.
func (w *Writer) WritePacket(p *Packet) error {
	b, err := p.Bytes()
	if err != nil {
		return err
	}
	n, err := w.w.Write(b)
	w.bytes += int64(n)
	if err != nil {
		return err
	}
	w.packets++
	return nil
}

// Count returns the packets and bytes written so far.
func (w *Writer) Count() (int, int64) { return w.packets, w.bytes }
