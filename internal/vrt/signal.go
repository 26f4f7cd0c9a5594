package vrt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// SignalPayload is the payload of signal data and extension data packets.
// Data holds whole 32-bit words in wire order.
type SignalPayload struct {
	Data []byte
}

func (*SignalPayload) payloadKind() string { return "signal data" }

var ErrUnsupportedSampleFormat = errors.New("unsupported sample format")

// Data item formats (payload format bits 60-56).
const (
	ItemSignedFixed   = 0x00
	ItemUnsignedFixed = 0x10
	ItemFloat32       = 0x0E
	ItemFloat64       = 0x0F
)

// Words returns the payload as big-endian 32-bit words.
func (s *SignalPayload) Words() []uint32 {
	out := make([]uint32, len(s.Data)/4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(s.Data[4*i:])
	}
	return out
}

// IQ16 interprets the payload as interleaved signed 16-bit I/Q pairs, the
// most common processing-efficient complex format.
func (s *SignalPayload) IQ16() []complex128 {
	out := make([]complex128, len(s.Data)/4)
	for i := range out {
		re := int16(binary.BigEndian.Uint16(s.Data[4*i:]))
		im := int16(binary.BigEndian.Uint16(s.Data[4*i+2:]))
		out[i] = complex(float64(re), float64(im))
	}
	return out
}

// SpectralBins interprets the payload of a packet with the spectral header
// indicator as IEEE-754 single precision bins.
func (s *SignalPayload) SpectralBins() []float32 {
	out := make([]float32, len(s.Data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.BigEndian.Uint32(s.Data[4*i:]))
	}
	return out
}

// Samples unpacks processing-efficient items described by a payload format
// from a context packet. Complex cartesian items are returned as I, Q pairs.
// Fixed-point items are scaled by their fraction size.
func (s *SignalPayload) Samples(f PayloadFormat) ([]float64, error) {
	if f.LinkEfficient {
		return nil, fmt.Errorf("link-efficient packing: %w", ErrUnsupportedSampleFormat)
	}
	if f.RealComplex == ComplexPolar {
		return nil, fmt.Errorf("complex polar items: %w", ErrUnsupportedSampleFormat)
	}
	bitsPerItem := f.ItemBits()
	switch f.DataItemFormat {
	case ItemFloat32:
		bitsPerItem = 32
	case ItemFloat64:
		bitsPerItem = 64
	case ItemSignedFixed, ItemUnsignedFixed:
		if bitsPerItem != 8 && bitsPerItem != 16 && bitsPerItem != 32 {
			return nil, fmt.Errorf("%d-bit items: %w", bitsPerItem, ErrUnsupportedSampleFormat)
		}
	default:
		return nil, fmt.Errorf("item format 0x%02X: %w", f.DataItemFormat, ErrUnsupportedSampleFormat)
	}
	step := bitsPerItem / 8
	scale := float64(uint64(1) << f.DataItemFracSize)
	out := make([]float64, 0, len(s.Data)/step)
	for off := 0; off+step <= len(s.Data); off += step {
		b := s.Data[off : off+step]
		var v float64
		switch {
		case f.DataItemFormat == ItemFloat32:
			v = float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
		case f.DataItemFormat == ItemFloat64:
			v = math.Float64frombits(binary.BigEndian.Uint64(b))
		case f.DataItemFormat == ItemUnsignedFixed:
			v = float64(unsignedItem(b)) / scale
		default:
			v = float64(signedItem(b)) / scale
		}
		out = append(out, v)
	}
	return out, nil
}

func unsignedItem(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.BigEndian.Uint16(b))
	default:
		return uint64(binary.BigEndian.Uint32(b))
	}
}

func signedItem(b []byte) int64 {
	switch len(b) {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.BigEndian.Uint16(b)))
	default:
		return int64(int32(binary.BigEndian.Uint32(b)))
	}
}

// PackIQ16 builds a payload of interleaved signed 16-bit I/Q pairs.
func PackIQ16(samples []complex128) []byte {
	out := make([]byte, 0, 4*len(samples))
	for _, c := range samples {
		out = binary.BigEndian.AppendUint16(out, uint16(int16(clamp(math.Round(real(c)), math.MinInt16, math.MaxInt16))))
		out = binary.BigEndian.AppendUint16(out, uint16(int16(clamp(math.Round(imag(c)), math.MinInt16, math.MaxInt16))))
	}
	return out
}

// PackFloat32 builds a payload of IEEE-754 single precision values.
func PackFloat32(vals []float32) []byte {
	out := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		out = binary.BigEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}
