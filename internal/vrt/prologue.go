package vrt

import (
	"time"
)

// ClassID is the optional two-word class identifier.
type ClassID struct {
	PadBits              uint8  // word 1 bits 31-27
	OUI                  uint32 // word 1 bits 23-0
	InformationClassCode uint16 // word 2 bits 31-16
	PacketClassCode      uint16 // word 2 bits 15-0
}

func (c ClassID) words() (uint32, uint32) {
	w1 := uint32(c.PadBits&0x1F)<<27 | c.OUI&0xFFFFFF
	w2 := uint32(c.InformationClassCode)<<16 | uint32(c.PacketClassCode)
	return w1, w2
}

func classIDFromWords(w1, w2 uint32) ClassID {
	return ClassID{
		PadBits:              uint8(w1 >> 27),
		OUI:                  w1 & 0xFFFFFF,
		InformationClassCode: uint16(w2 >> 16),
		PacketClassCode:      uint16(w2),
	}
}

// Timestamp holds the optional integer and fractional timestamp words. A nil
// half is absent from the wire, not zero.
type Timestamp struct {
	Integer    *uint32
	Fractional *uint64
}

const picosPerSecond = 1_000_000_000_000

// gpsEpoch is 1980-01-06T00:00:00Z. Leap seconds are not applied.
var gpsEpoch = time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC)

// Time converts the timestamp to wall-clock time when the integer part is
// UTC or GPS seconds. A real-time fractional part adds picoseconds truncated
// to nanoseconds.
func (ts Timestamp) Time(tsi TSI, tsf TSF) (time.Time, bool) {
	if ts.Integer == nil {
		return time.Time{}, false
	}
	var base time.Time
	switch tsi {
	case TSIUTC:
		base = time.Unix(int64(*ts.Integer), 0).UTC()
	case TSIGPS:
		base = gpsEpoch.Add(time.Duration(*ts.Integer) * time.Second)
	default:
		return time.Time{}, false
	}
	if ts.Fractional != nil && tsf == TSFRealTime {
		base = base.Add(time.Duration(*ts.Fractional % picosPerSecond / 1000))
	}
	return base, true
}

// Picoseconds returns integer seconds and real-time fraction combined. Other
// fraction types are dropped when an integer part is present; use Compare to
// order timestamps.
func (ts Timestamp) Picoseconds(tsf TSF) (uint64, bool) {
	if ts.Integer == nil && ts.Fractional == nil {
		return 0, false
	}
	var ps uint64
	if ts.Integer != nil {
		ps = uint64(*ts.Integer) * picosPerSecond
	}
	if ts.Fractional != nil {
		if tsf == TSFRealTime {
			ps += *ts.Fractional % picosPerSecond
		} else if ts.Integer == nil {
			ps = *ts.Fractional
		}
	}
	return ps, true
}

// Compare orders two timestamps of one format by integer seconds, then by
// fraction. A missing half counts as zero.
func (ts Timestamp) Compare(u Timestamp) int {
	a, b := ts.halves(), u.halves()
	switch {
	case a[0] < b[0]:
		return -1
	case a[0] > b[0]:
		return 1
	case a[1] < b[1]:
		return -1
	case a[1] > b[1]:
		return 1
	}
	return 0
}

func (ts Timestamp) halves() [2]uint64 {
	var h [2]uint64
	if ts.Integer != nil {
		h[0] = uint64(*ts.Integer)
	}
	if ts.Fractional != nil {
		h[1] = *ts.Fractional
	}
	return h
}

func readPrologue(r *wordReader, h Header, p *Packet) error {
	if h.Type().HasStreamID() {
		v, err := r.u32("stream ID")
		if err != nil {
			return err
		}
		p.StreamID = &v
	}
	if h.ClassIDPresent() {
		w1, err := r.u32("class ID")
		if err != nil {
			return err
		}
		w2, err := r.u32("class ID")
		if err != nil {
			return err
		}
		cid := classIDFromWords(w1, w2)
		p.ClassID = &cid
	}
	if h.TSI() != TSINone {
		v, err := r.u32("integer timestamp")
		if err != nil {
			return err
		}
		p.Timestamp.Integer = &v
	}
	if h.TSF() != TSFNone {
		v, err := r.u64("fractional timestamp")
		if err != nil {
			return err
		}
		p.Timestamp.Fractional = &v
	}
	return nil
}

func writePrologue(w *wordWriter, p *Packet) {
	if p.StreamID != nil {
		w.u32(*p.StreamID)
	}
	if p.ClassID != nil {
		w1, w2 := p.ClassID.words()
		w.u32(w1)
		w.u32(w2)
	}
	if p.Timestamp.Integer != nil {
		w.u32(*p.Timestamp.Integer)
	}
	if p.Timestamp.Fractional != nil {
		w.u64(*p.Timestamp.Fractional)
	}
}
