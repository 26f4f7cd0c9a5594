package vrt

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Gain is the two-stage gain (CIF0 bit 23, CIF1 bit 14) or threshold
// (CIF1 bit 19) word: stage 1 in the low half, stage 2 in the high half,
// each a signed radix-7 dB value.
type Gain struct {
	Stage1DB float64
	Stage2DB float64
}

func gainFromWord(w uint32) Gain {
	return Gain{
		Stage1DB: fixedToFloat(int64(low16(w)), 7),
		Stage2DB: fixedToFloat(int64(high16(w)), 7),
	}
}

func (g Gain) word() uint32 {
	return halves(floatToFixed16(g.Stage2DB, 7), floatToFixed16(g.Stage1DB, 7))
}

// DeviceID is the manufacturer OUI and device code (CIF0 bit 17).
type DeviceID struct {
	OUI        uint32
	DeviceCode uint16
}

func (d DeviceID) words() []uint32 {
	return []uint32{d.OUI & 0xFFFFFF, uint32(d.DeviceCode)}
}

// PayloadFormat describes data packet sample packing (CIF0 bit 15).
type PayloadFormat struct {
	LinkEfficient    bool  // bit 63
	RealComplex      uint8 // bits 62-61: 0 real, 1 complex cartesian, 2 complex polar
	DataItemFormat   uint8 // bits 60-56
	SampleRepeat     bool  // bit 55
	EventTagSize     uint8 // bits 54-52
	ChannelTagSize   uint8 // bits 51-48
	DataItemFracSize uint8 // bits 47-44
	ItemPackingSize  uint8 // bits 43-38, stored minus one
	DataItemSize     uint8 // bits 37-32, stored minus one
	RepeatCount      uint16
	VectorSize       uint16
}

const (
	RealSamples      = 0
	ComplexCartesian = 1
	ComplexPolar     = 2
)

func payloadFormatFromWords(w []uint32) PayloadFormat {
	hi := w[0]
	return PayloadFormat{
		LinkEfficient:    hi&(1<<31) != 0,
		RealComplex:      uint8(hi >> 29 & 0x3),
		DataItemFormat:   uint8(hi >> 24 & 0x1F),
		SampleRepeat:     hi&(1<<23) != 0,
		EventTagSize:     uint8(hi >> 20 & 0x7),
		ChannelTagSize:   uint8(hi >> 16 & 0xF),
		DataItemFracSize: uint8(hi >> 12 & 0xF),
		ItemPackingSize:  uint8(hi >> 6 & 0x3F),
		DataItemSize:     uint8(hi & 0x3F),
		RepeatCount:      uint16(w[1] >> 16),
		VectorSize:       uint16(w[1]),
	}
}

func (f PayloadFormat) words() []uint32 {
	var hi uint32
	if f.LinkEfficient {
		hi |= 1 << 31
	}
	hi |= uint32(f.RealComplex&0x3) << 29
	hi |= uint32(f.DataItemFormat&0x1F) << 24
	if f.SampleRepeat {
		hi |= 1 << 23
	}
	hi |= uint32(f.EventTagSize&0x7) << 20
	hi |= uint32(f.ChannelTagSize&0xF) << 16
	hi |= uint32(f.DataItemFracSize&0xF) << 12
	hi |= uint32(f.ItemPackingSize&0x3F) << 6
	hi |= uint32(f.DataItemSize & 0x3F)
	return []uint32{hi, uint32(f.RepeatCount)<<16 | uint32(f.VectorSize)}
}

// ItemBits returns the data item size in bits.
func (f PayloadFormat) ItemBits() int { return int(f.DataItemSize) + 1 }

// RecordTime is the timestamp prefix shared by geolocation and ephemeris
// records: word 1 TSI (27-26), TSF (25-24) and OUI (23-0), then the
// integer and fractional timestamp words.
type RecordTime struct {
	TSI        TSI
	TSF        TSF
	OUI        uint32
	Integer    uint32
	Fractional uint64
}

func recordTimeFromWords(w []uint32) RecordTime {
	return RecordTime{
		TSI:        TSI(w[0] >> 26 & 0x3),
		TSF:        TSF(w[0] >> 24 & 0x3),
		OUI:        w[0] & 0xFFFFFF,
		Integer:    w[1],
		Fractional: join64(w[2], w[3]),
	}
}

func (t RecordTime) words() []uint32 {
	w0 := uint32(t.TSI&0x3)<<26 | uint32(t.TSF&0x3)<<24 | t.OUI&0xFFFFFF
	return append([]uint32{w0, t.Integer}, split64(t.Fractional)...)
}

// Geolocation is the formatted GPS or INS record (CIF0 bits 14, 13).
type Geolocation struct {
	Time                 RecordTime
	LatitudeDeg          float64
	LongitudeDeg         float64
	AltitudeM            float64
	SpeedOverGroundMps   float64
	HeadingDeg           float64
	TrackDeg             float64
	MagneticVariationDeg float64
}

func geolocationFromWords(w []uint32) Geolocation {
	s := func(i int) int64 { return int64(int32(w[i])) }
	return Geolocation{
		Time:                 recordTimeFromWords(w),
		LatitudeDeg:          fixedToFloat(s(4), 22),
		LongitudeDeg:         fixedToFloat(s(5), 22),
		AltitudeM:            fixedToFloat(s(6), 5),
		SpeedOverGroundMps:   fixedToFloat(s(7), 16),
		HeadingDeg:           fixedToFloat(s(8), 22),
		TrackDeg:             fixedToFloat(s(9), 22),
		MagneticVariationDeg: fixedToFloat(s(10), 22),
	}
}

func (g Geolocation) words() []uint32 {
	return append(g.Time.words(),
		uint32(floatToFixed32(g.LatitudeDeg, 22)),
		uint32(floatToFixed32(g.LongitudeDeg, 22)),
		uint32(floatToFixed32(g.AltitudeM, 5)),
		uint32(floatToFixed32(g.SpeedOverGroundMps, 16)),
		uint32(floatToFixed32(g.HeadingDeg, 22)),
		uint32(floatToFixed32(g.TrackDeg, 22)),
		uint32(floatToFixed32(g.MagneticVariationDeg, 22)),
	)
}

// Ephemeris is the ECEF or relative ephemeris record (CIF0 bits 12, 11).
type Ephemeris struct {
	Time             RecordTime
	PositionXM       float64
	PositionYM       float64
	PositionZM       float64
	AttitudeAlphaDeg float64
	AttitudeBetaDeg  float64
	AttitudePhiDeg   float64
	VelocityDXMps    float64
	VelocityDYMps    float64
	VelocityDZMps    float64
}

func ephemerisFromWords(w []uint32) Ephemeris {
	s := func(i int) int64 { return int64(int32(w[i])) }
	return Ephemeris{
		Time:             recordTimeFromWords(w),
		PositionXM:       fixedToFloat(s(4), 5),
		PositionYM:       fixedToFloat(s(5), 5),
		PositionZM:       fixedToFloat(s(6), 5),
		AttitudeAlphaDeg: fixedToFloat(s(7), 22),
		AttitudeBetaDeg:  fixedToFloat(s(8), 22),
		AttitudePhiDeg:   fixedToFloat(s(9), 22),
		VelocityDXMps:    fixedToFloat(s(10), 16),
		VelocityDYMps:    fixedToFloat(s(11), 16),
		VelocityDZMps:    fixedToFloat(s(12), 16),
	}
}

func (e Ephemeris) words() []uint32 {
	return append(e.Time.words(),
		uint32(floatToFixed32(e.PositionXM, 5)),
		uint32(floatToFixed32(e.PositionYM, 5)),
		uint32(floatToFixed32(e.PositionZM, 5)),
		uint32(floatToFixed32(e.AttitudeAlphaDeg, 22)),
		uint32(floatToFixed32(e.AttitudeBetaDeg, 22)),
		uint32(floatToFixed32(e.AttitudePhiDeg, 22)),
		uint32(floatToFixed32(e.VelocityDXMps, 16)),
		uint32(floatToFixed32(e.VelocityDYMps, 16)),
		uint32(floatToFixed32(e.VelocityDZMps, 16)),
	)
}

// GPSASCII is the manufacturer OUI plus NUL-padded ASCII sentences
// (CIF0 bit 9).
type GPSASCII struct {
	OUI  uint32
	Text string
}

func gpsASCIIFromWords(w []uint32) GPSASCII {
	b := make([]byte, 0, 4*(len(w)-2))
	for _, v := range w[2:] {
		b = binary.BigEndian.AppendUint32(b, v)
	}
	return GPSASCII{OUI: w[0] & 0xFFFFFF, Text: strings.TrimRight(string(b), "\x00")}
}

func (g GPSASCII) words() []uint32 {
	n := (len(g.Text) + 3) / 4
	padded := make([]byte, 4*n)
	copy(padded, g.Text)
	out := []uint32{g.OUI & 0xFFFFFF, uint32(n)}
	for i := 0; i < n; i++ {
		out = append(out, binary.BigEndian.Uint32(padded[4*i:]))
	}
	return out
}

// AssociationLists holds the context association lists (CIF0 bit 8).
type AssociationLists struct {
	Source    []uint32
	System    []uint32
	Vector    []uint32
	Async     []uint32
	AsyncTags []uint32 // nil when the tag list is absent
}

func associationListsFromWords(w []uint32) AssociationLists {
	src := int(w[0] >> 16 & 0x3FF)
	sys := int(w[0] & 0x3FF)
	vec := int(w[1] >> 16)
	async := int(w[1] & 0x1FF)
	rest := w[2:]
	take := func(n int) []uint32 {
		out := append([]uint32{}, rest[:n]...)
		rest = rest[n:]
		return out
	}
	al := AssociationLists{
		Source: take(src),
		System: take(sys),
		Vector: take(vec),
		Async:  take(async),
	}
	if w[1]&(1<<15) != 0 {
		al.AsyncTags = take(async)
	}
	return al
}

// check reports a list longer than its count field can express.
func (a AssociationLists) check() error {
	limits := []struct {
		name string
		n    int
		max  int
	}{
		{"source", len(a.Source), 0x3FF},
		{"system", len(a.System), 0x3FF},
		{"vector-component", len(a.Vector), 0xFFFF},
		{"asynchronous-channel", len(a.Async), 0x1FF},
	}
	for _, l := range limits {
		if l.n > l.max {
			return fmt.Errorf("%s association list has %d entries, limit %d", l.name, l.n, l.max)
		}
	}
	return nil
}

func (a AssociationLists) words() []uint32 {
	w1 := uint32(len(a.Source)&0x3FF)<<16 | uint32(len(a.System)&0x3FF)
	w2 := uint32(len(a.Vector)&0xFFFF)<<16 | uint32(len(a.Async)&0x1FF)
	if a.AsyncTags != nil {
		w2 |= 1 << 15
	}
	out := []uint32{w1, w2}
	out = append(out, a.Source...)
	out = append(out, a.System...)
	out = append(out, a.Vector...)
	out = append(out, a.Async...)
	if a.AsyncTags != nil {
		tags := make([]uint32, len(a.Async))
		copy(tags, a.AsyncTags)
		out = append(out, tags...)
	}
	return out
}

func associationListsSize(w1, w2 uint32) int {
	n := 2 + int(w1>>16&0x3FF) + int(w1&0x3FF) + int(w2>>16) + int(w2&0x1FF)
	if w2&(1<<15) != 0 {
		n += int(w2 & 0x1FF)
	}
	return n
}

// Spectrum describes spectral data packets (CIF1 bit 10).
type Spectrum struct {
	SpectrumType       uint8 // bits 7-0 of word 1
	AveragingType      uint8 // bits 15-8
	WindowTimeDelta    uint8 // bits 19-16
	WindowType         uint32
	TransformPoints    uint32
	WindowPoints       uint32
	ResolutionHz       float64
	SpanHz             float64
	Averages           uint32
	WeightingFactor    int32
	F1Index            int32
	F2Index            int32
	WindowTimeDeltaRaw uint32
}

func spectrumFromWords(w []uint32) Spectrum {
	return Spectrum{
		SpectrumType:       uint8(w[0]),
		AveragingType:      uint8(w[0] >> 8),
		WindowTimeDelta:    uint8(w[0] >> 16 & 0xF),
		WindowType:         w[1],
		TransformPoints:    w[2],
		WindowPoints:       w[3],
		ResolutionHz:       fixedToFloat(int64(join64(w[4], w[5])), 20),
		SpanHz:             fixedToFloat(int64(join64(w[6], w[7])), 20),
		Averages:           w[8],
		WeightingFactor:    int32(w[9]),
		F1Index:            int32(w[10]),
		F2Index:            int32(w[11]),
		WindowTimeDeltaRaw: w[12],
	}
}

func (s Spectrum) words() []uint32 {
	w0 := uint32(s.WindowTimeDelta&0xF)<<16 | uint32(s.AveragingType)<<8 | uint32(s.SpectrumType)
	out := []uint32{w0, s.WindowType, s.TransformPoints, s.WindowPoints}
	out = append(out, split64(uint64(floatToFixed64(s.ResolutionHz, 20)))...)
	out = append(out, split64(uint64(floatToFixed64(s.SpanHz, 20)))...)
	return append(out, s.Averages, uint32(s.WeightingFactor), uint32(s.F1Index),
		uint32(s.F2Index), s.WindowTimeDeltaRaw)
}

func uuidFromWords(w []uint32) uuid.UUID {
	var u uuid.UUID
	for i, v := range w[:4] {
		binary.BigEndian.PutUint32(u[4*i:], v)
	}
	return u
}

func uuidWords(u uuid.UUID) []uint32 {
	out := make([]uint32, 4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(u[4*i:])
	}
	return out
}

// Value decoders used by the field tables.

func hzValue(w []uint32) any { return fixedToFloat(int64(join64(w[0], w[1])), 20) }

func hzWords(hz float64) []uint32 { return split64(uint64(floatToFixed64(hz, 20))) }

func dbmValue(w []uint32) any { return fixedToFloat(int64(low16(w[0])), 7) }

func dbmWords(dbm float64) []uint32 { return []uint32{uint32(uint16(floatToFixed16(dbm, 7)))} }

func celsiusValue(w []uint32) any { return fixedToFloat(int64(low16(w[0])), 6) }

func celsiusWords(c float64) []uint32 { return []uint32{uint32(uint16(floatToFixed16(c, 6)))} }

func u32Value(w []uint32) any { return w[0] }

func u64Value(w []uint32) any { return join64(w[0], w[1]) }

func i64Value(w []uint32) any { return int64(join64(w[0], w[1])) }

func gainValue(w []uint32) any { return gainFromWord(w[0]) }

func deviceIDValue(w []uint32) any {
	return DeviceID{OUI: w[0] & 0xFFFFFF, DeviceCode: uint16(w[1])}
}

func payloadFormatValue(w []uint32) any { return payloadFormatFromWords(w) }
func geolocationValue(w []uint32) any   { return geolocationFromWords(w) }
func ephemerisValue(w []uint32) any     { return ephemerisFromWords(w) }
func gpsASCIIValue(w []uint32) any      { return gpsASCIIFromWords(w) }
func assocValue(w []uint32) any         { return associationListsFromWords(w) }
func spectrumValue(w []uint32) any      { return spectrumFromWords(w) }
func uuidValue(w []uint32) any          { return uuidFromWords(w) }
