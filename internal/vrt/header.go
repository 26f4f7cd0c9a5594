package vrt

import (
	"encoding/binary"
	"fmt"
)

// PacketType is the 4-bit packet type in header bits 31-28.
type PacketType uint8

const (
	TypeSignalDataNoSID PacketType = 0
	TypeSignalData      PacketType = 1
	TypeExtDataNoSID    PacketType = 2
	TypeExtData         PacketType = 3
	TypeContext         PacketType = 4
	TypeExtContext      PacketType = 5
	TypeCommand         PacketType = 6
	TypeExtCommand      PacketType = 7
)

var packetTypeNames = [...]string{
	"SignalDataWithoutStreamID",
	"SignalData",
	"ExtDataWithoutStreamID",
	"ExtData",
	"Context",
	"ExtContext",
	"Command",
	"ExtCommand",
}

func (t PacketType) Valid() bool { return t <= TypeExtCommand }

func (t PacketType) String() string {
	if t.Valid() {
		return packetTypeNames[t]
	}
	return fmt.Sprintf("PacketType(%d)", uint8(t))
}

// IsData reports whether the type carries signal or extension data.
func (t PacketType) IsData() bool { return t <= TypeExtData }

func (t PacketType) IsContext() bool { return t == TypeContext || t == TypeExtContext }

func (t PacketType) IsCommand() bool { return t == TypeCommand || t == TypeExtCommand }

// HasStreamID reports whether packets of this type carry a stream identifier.
func (t PacketType) HasStreamID() bool {
	return t != TypeSignalDataNoSID && t != TypeExtDataNoSID
}

// TSI is the integer-seconds timestamp type in header bits 23-22.
type TSI uint8

const (
	TSINone TSI = iota
	TSIUTC
	TSIGPS
	TSIOther
)

func (t TSI) String() string {
	return [...]string{"None", "UTC", "GPS", "Other"}[t&3]
}

// TSF is the fractional-seconds timestamp type in header bits 21-20.
type TSF uint8

const (
	TSFNone TSF = iota
	TSFSampleCount
	TSFRealTime
	TSFFreeRunning
)

func (t TSF) String() string {
	return [...]string{"None", "SampleCount", "RealTime", "FreeRunning"}[t&3]
}

const (
	hdrShiftType     = 28
	hdrBitClassID    = uint32(1) << 27
	hdrBitIndicator1 = uint32(1) << 26
	hdrBitIndicator2 = uint32(1) << 25
	hdrBitIndicator3 = uint32(1) << 24
	hdrShiftTSI      = 22
	hdrShiftTSF      = 20
	hdrShiftCount    = 16
	hdrMaskSize      = uint32(0xFFFF)
)

// Header is the first word of every VRT packet.
type Header uint32

// ParseHeader interprets the first big-endian word of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < 4 {
		return 0, newDecodeError(TruncatedInput, 0, "header",
			fmt.Sprintf("need 4 bytes, have %d", len(buf)))
	}
	h := Header(binary.BigEndian.Uint32(buf[0:4]))
	if !h.Type().Valid() {
		return h, newDecodeError(InvalidPacketType, 0, "header",
			fmt.Sprintf("type code %d", uint8(h.Type())))
	}
	return h, nil
}

// Type returns bits 31-28.
func (h Header) Type() PacketType { return PacketType(uint32(h) >> hdrShiftType) }

// ClassIDPresent returns bit 27.
func (h Header) ClassIDPresent() bool { return uint32(h)&hdrBitClassID != 0 }

// TrailerPresent returns bit 26 for data packets. It is always false for
// other packet types.
func (h Header) TrailerPresent() bool {
	return h.Type().IsData() && uint32(h)&hdrBitIndicator1 != 0
}

// NotV49d0 returns bit 25 for data and context packets.
func (h Header) NotV49d0() bool {
	t := h.Type()
	return (t.IsData() || t.IsContext()) && uint32(h)&hdrBitIndicator2 != 0
}

// Spectral returns bit 24 for data packets: payload holds spectral bins.
func (h Header) Spectral() bool {
	return h.Type().IsData() && uint32(h)&hdrBitIndicator3 != 0
}

// TimestampMode returns bit 24 for context packets.
func (h Header) TimestampMode() bool {
	return h.Type().IsContext() && uint32(h)&hdrBitIndicator3 != 0
}

// Acknowledge returns bit 26 for command packets.
func (h Header) Acknowledge() bool {
	return h.Type().IsCommand() && uint32(h)&hdrBitIndicator1 != 0
}

// Cancellation returns bit 24 for command packets.
func (h Header) Cancellation() bool {
	return h.Type().IsCommand() && uint32(h)&hdrBitIndicator3 != 0
}

// TSI returns bits 23-22.
func (h Header) TSI() TSI { return TSI((uint32(h) >> hdrShiftTSI) & 0x3) }

// TSF returns bits 21-20.
func (h Header) TSF() TSF { return TSF((uint32(h) >> hdrShiftTSF) & 0x3) }

// PacketCount returns bits 19-16.
func (h Header) PacketCount() uint8 { return uint8((uint32(h) >> hdrShiftCount) & 0xF) }

// Size returns bits 15-0, the packet length in words including the header.
func (h Header) Size() uint16 { return uint16(uint32(h) & hdrMaskSize) }

// Indicators returns the raw packet-specific bits 26-24.
func (h Header) Indicators() uint8 { return uint8((uint32(h) >> 24) & 0x7) }

func (h Header) WithType(t PacketType) Header {
	return Header(uint32(h)&^(0xF<<hdrShiftType) | uint32(t&0xF)<<hdrShiftType)
}

func (h Header) WithClassID(on bool) Header { return h.withBit(hdrBitClassID, on) }

func (h Header) WithIndicators(bits uint8) Header {
	return Header(uint32(h)&^(0x7<<24) | uint32(bits&0x7)<<24)
}

func (h Header) WithTSI(t TSI) Header {
	return Header(uint32(h)&^(0x3<<hdrShiftTSI) | uint32(t&0x3)<<hdrShiftTSI)
}

func (h Header) WithTSF(t TSF) Header {
	return Header(uint32(h)&^(0x3<<hdrShiftTSF) | uint32(t&0x3)<<hdrShiftTSF)
}

func (h Header) WithPacketCount(c uint8) Header {
	return Header(uint32(h)&^(0xF<<hdrShiftCount) | uint32(c&0xF)<<hdrShiftCount)
}

func (h Header) WithSize(words uint16) Header {
	return Header(uint32(h)&^hdrMaskSize | uint32(words))
}

func (h Header) withBit(bit uint32, on bool) Header {
	if on {
		return Header(uint32(h) | bit)
	}
	return Header(uint32(h) &^ bit)
}

// prologueWords counts the words before the payload.
func (h Header) prologueWords() int {
	n := 1
	if h.Type().HasStreamID() {
		n++
	}
	if h.ClassIDPresent() {
		n += 2
	}
	if h.TSI() != TSINone {
		n++
	}
	if h.TSF() != TSFNone {
		n += 2
	}
	return n
}

func (h Header) String() string {
	return fmt.Sprintf("%s cid=%t tsi=%s tsf=%s count=%d size=%d",
		h.Type(), h.ClassIDPresent(), h.TSI(), h.TSF(), h.PacketCount(), h.Size())
}

// PacketLen returns the declared length in bytes of the packet starting at
// buf, for framing concatenated packets.
func PacketLen(buf []byte) (int, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return 0, err
	}
	return int(h.Size()) * 4, nil
}
