package vrt

import (
	"errors"
	"fmt"
)

// Payload is one of *SignalPayload, *ContextPayload or *CommandPayload, as
// selected by the header packet type.
type Payload interface {
	payloadKind() string
}

// Packet is one decoded VRT packet. Optional sections are nil when absent
// from the wire.
type Packet struct {
	Header    Header
	StreamID  *uint32
	ClassID   *ClassID
	Timestamp Timestamp
	Payload   Payload
	Trailer   *Trailer
}

const maxPacketWords = 0xFFFF

var ErrPacketTooLarge = errors.New("packet exceeds 65535 words")

// Decode parses buf as exactly one packet. The declared size must equal
// len(buf); use DecodeFrom to decode the first of several concatenated
// packets.
func Decode(buf []byte) (*Packet, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	declared := int(h.Size())
	if declared*4 != len(buf) {
		return nil, newDecodeError(SizeMismatch, 0, "header",
			fmt.Sprintf("declared %d words, buffer holds %d bytes", declared, len(buf)))
	}
	r := newWordReader(buf)
	r.pos = 4
	p := &Packet{Header: h}
	if err := readPrologue(r, h, p); err != nil {
		return nil, err
	}
	sc := sizeCtx{tsWords: timestampWords(h)}
	switch t := h.Type(); {
	case t.IsData():
		if err := readSignal(r, h, p); err != nil {
			return nil, err
		}
	case t.IsContext():
		b, err := readCIFBlock(r, sc)
		if err != nil {
			return nil, err
		}
		p.Payload = &ContextPayload{CIFBlock: *b}
	default:
		c, err := readCommand(r, h, sc)
		if err != nil {
			return nil, err
		}
		p.Payload = c
	}
	if r.offset() != declared*4 {
		return nil, newDecodeError(SizeMismatch, r.offset(), "packet",
			fmt.Sprintf("consumed %d words, declared %d", r.offset()/4, declared))
	}
	return p, nil
}

// DecodeFrom decodes the packet at the start of buf and returns its length
// in bytes.
func DecodeFrom(buf []byte) (*Packet, int, error) {
	n, err := PacketLen(buf)
	if err != nil {
		return nil, 0, err
	}
	if n > len(buf) {
		return nil, 0, newDecodeError(TruncatedInput, len(buf), "packet",
			fmt.Sprintf("declared %d bytes, have %d", n, len(buf)))
	}
	p, err := Decode(buf[:n])
	if err != nil {
		return nil, 0, err
	}
	return p, n, nil
}

func timestampWords(h Header) int {
	n := 0
	if h.TSI() != TSINone {
		n++
	}
	if h.TSF() != TSFNone {
		n += 2
	}
	return n
}

func readSignal(r *wordReader, h Header, p *Packet) error {
	trailerWords := 0
	if h.TrailerPresent() {
		trailerWords = 1
	}
	payloadWords := int(h.Size()) - r.offset()/4 - trailerWords
	if payloadWords < 0 {
		return newDecodeError(MalformedTrailer, r.offset(), "trailer",
			fmt.Sprintf("declared %d words leave no room for the trailer", h.Size()))
	}
	data, err := r.bytes("payload", 4*payloadWords)
	if err != nil {
		return err
	}
	p.Payload = &SignalPayload{Data: data}
	if trailerWords == 1 {
		w, err := r.u32("trailer")
		if err != nil {
			return err
		}
		t := Trailer(w)
		p.Trailer = &t
	}
	return nil
}

// Encode serializes p in wire order. The header size field is set from the
// encoded length, so p must satisfy WordCount() <= 0xFFFF; Bytes checks this
// first.
func Encode(p *Packet) []byte {
	n := p.WordCount()
	w := &wordWriter{buf: make([]byte, 0, 4*n)}
	w.u32(uint32(p.Header.WithSize(uint16(n))))
	writePrologue(w, p)
	switch pl := p.Payload.(type) {
	case *SignalPayload:
		w.raw(pl.Data)
		for len(w.buf)%4 != 0 {
			w.buf = append(w.buf, 0)
		}
	case *ContextPayload:
		writeCIFBlock(w, &pl.CIFBlock)
	case *CommandPayload:
		writeCommand(w, pl, p.Header)
	}
	if p.Trailer != nil {
		w.u32(uint32(*p.Trailer))
	}
	return w.buf
}

// Bytes encodes p, refusing packets whose length the size field cannot
// hold.
func (p *Packet) Bytes() ([]byte, error) {
	if p.WordCount() > maxPacketWords {
		return nil, ErrPacketTooLarge
	}
	return Encode(p), nil
}

// WordCount returns the encoded packet length in words.
func (p *Packet) WordCount() int {
	n := 1
	if p.StreamID != nil {
		n++
	}
	if p.ClassID != nil {
		n += 2
	}
	if p.Timestamp.Integer != nil {
		n++
	}
	if p.Timestamp.Fractional != nil {
		n += 2
	}
	switch pl := p.Payload.(type) {
	case *SignalPayload:
		n += (len(pl.Data) + 3) / 4
	case *ContextPayload:
		n += pl.wordCount()
	case *CommandPayload:
		n += commandWords(pl, p.Header)
	}
	if p.Trailer != nil {
		n++
	}
	return n
}

// Type returns the header packet type.
func (p *Packet) Type() PacketType { return p.Header.Type() }

func (p *Packet) Signal() (*SignalPayload, bool) {
	s, ok := p.Payload.(*SignalPayload)
	return s, ok
}

func (p *Packet) Context() (*ContextPayload, bool) {
	c, ok := p.Payload.(*ContextPayload)
	return c, ok
}

func (p *Packet) Command() (*CommandPayload, bool) {
	c, ok := p.Payload.(*CommandPayload)
	return c, ok
}

func newPacket(t PacketType, streamID uint32, payload Payload) *Packet {
	p := &Packet{Header: Header(0).WithType(t), Payload: payload}
	if t.HasStreamID() {
		p.StreamID = &streamID
	}
	p.Header = p.Header.WithSize(uint16(p.WordCount()))
	return p
}

// NewSignalData returns an empty signal data packet with a stream ID.
func NewSignalData(streamID uint32) *Packet {
	return newPacket(TypeSignalData, streamID, &SignalPayload{})
}

// NewContext returns a context packet with an empty CIF0.
func NewContext(streamID uint32) *Packet {
	return newPacket(TypeContext, streamID, &ContextPayload{})
}

// NewCommand returns a control packet with an empty CIF0.
func NewCommand(streamID uint32) *Packet {
	return newPacket(TypeCommand, streamID, &CommandPayload{Fields: &CIFBlock{}})
}

// NewPacket returns an empty packet of any type.
func NewPacket(t PacketType, streamID uint32) (*Packet, error) {
	switch {
	case !t.Valid():
		return nil, fmt.Errorf("new packet: %w", ErrInvalidPacketType)
	case t.IsData():
		return newPacket(t, streamID, &SignalPayload{}), nil
	case t.IsContext():
		return newPacket(t, streamID, &ContextPayload{}), nil
	default:
		return newPacket(t, streamID, &CommandPayload{Fields: &CIFBlock{}}), nil
	}
}

// SetClassID stores the class identifier and raises the header flag.
func (p *Packet) SetClassID(c ClassID) {
	p.ClassID = &c
	p.Header = p.Header.WithClassID(true)
	p.resize()
}

// SetTimestamp sets the timestamp types and values. A None type drops the
// corresponding half.
func (p *Packet) SetTimestamp(tsi TSI, integer uint32, tsf TSF, fractional uint64) {
	p.Header = p.Header.WithTSI(tsi).WithTSF(tsf)
	p.Timestamp = Timestamp{}
	if tsi != TSINone {
		p.Timestamp.Integer = &integer
	}
	if tsf != TSFNone {
		p.Timestamp.Fractional = &fractional
	}
	p.resize()
}

// SetTrailer attaches a trailer to a data packet.
func (p *Packet) SetTrailer(t Trailer) error {
	if !p.Type().IsData() {
		return fmt.Errorf("trailer on %s packet: %w", p.Type(), ErrMalformedTrailer)
	}
	p.Trailer = &t
	p.Header = p.Header.withBit(hdrBitIndicator1, true)
	p.resize()
	return nil
}

// SetSpectral marks a data packet payload as spectral bins.
func (p *Packet) SetSpectral(on bool) {
	if p.Type().IsData() {
		p.Header = p.Header.withBit(hdrBitIndicator3, on)
	}
}

// SetPacketCount sets the modulo-16 packet count.
func (p *Packet) SetPacketCount(n uint8) { p.Header = p.Header.WithPacketCount(n) }

// SetAcknowledge marks a command packet as an acknowledgement.
func (p *Packet) SetAcknowledge(on bool) {
	if p.Type().IsCommand() {
		p.Header = p.Header.withBit(hdrBitIndicator1, on)
		p.resize()
	}
}

// SetCancellation marks a command packet as a cancellation.
func (p *Packet) SetCancellation(on bool) {
	if p.Type().IsCommand() {
		p.Header = p.Header.withBit(hdrBitIndicator3, on)
		p.resize()
	}
}

// SetPayloadData replaces the signal data payload. data must hold whole
// words.
func (p *Packet) SetPayloadData(data []byte) error {
	s, ok := p.Signal()
	if !ok {
		return fmt.Errorf("payload data on %s packet", p.Type())
	}
	if len(data)%4 != 0 {
		return fmt.Errorf("payload of %d bytes is not word aligned", len(data))
	}
	if p.WordCount()-(len(s.Data)/4)+len(data)/4 > maxPacketWords {
		return ErrPacketTooLarge
	}
	s.Data = append([]byte(nil), data...)
	p.resize()
	return nil
}

// Resize refreshes the header size after the payload was modified in place.
func (p *Packet) Resize() error {
	if p.WordCount() > maxPacketWords {
		return ErrPacketTooLarge
	}
	p.resize()
	return nil
}

// resize leaves the size field alone once the packet outgrows it; Bytes and
// Resize report that case.
func (p *Packet) resize() {
	if n := p.WordCount(); n <= maxPacketWords {
		p.Header = p.Header.WithSize(uint16(n))
	}
}
