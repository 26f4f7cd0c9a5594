package vrt

import "strings"

// Trailer is the optional last word of a data packet. Each of the twelve
// indicator bits (19-8) is meaningful only when its enable bit (31-20) is set.
type Trailer uint32

// Indicator identifies one enable/indicator pair of the trailer.
type Indicator uint8

const (
	CalibratedTime    Indicator = 11
	ValidData         Indicator = 10
	ReferenceLock     Indicator = 9
	AGC               Indicator = 8
	DetectedSignal    Indicator = 7
	SpectralInversion Indicator = 6
	OverRange         Indicator = 5
	SampleLoss        Indicator = 4
)

const (
	trlShiftEnable     = 20
	trlShiftIndicator  = 8
	trlBitAssocEnable  = uint32(1) << 7
	trlMaskAssocCount  = uint32(0x7F)
	trlMaskSampleFrame = uint32(0x3) << 2
	trlMaskUserDefined = uint32(0x3)
)

var indicatorNames = map[Indicator]string{
	CalibratedTime:    "calibrated time",
	ValidData:         "valid data",
	ReferenceLock:     "reference lock",
	AGC:               "AGC/MGC",
	DetectedSignal:    "detected signal",
	SpectralInversion: "spectral inversion",
	OverRange:         "over-range",
	SampleLoss:        "sample loss",
}

func (i Indicator) String() string { return indicatorNames[i] }

// EnableMask returns bits 31-20.
func (t Trailer) EnableMask() uint16 { return uint16(uint32(t)>>trlShiftEnable) & 0xFFF }

// IndicatorBits returns bits 19-8.
func (t Trailer) IndicatorBits() uint16 { return uint16(uint32(t)>>trlShiftIndicator) & 0xFFF }

// Get returns the indicator value and whether it is enabled.
func (t Trailer) Get(i Indicator) (value, enabled bool) {
	enabled = uint32(t)&(uint32(1)<<(trlShiftEnable+uint(i))) != 0
	if !enabled {
		return false, false
	}
	return uint32(t)&(uint32(1)<<(trlShiftIndicator+uint(i))) != 0, true
}

// Set enables the indicator and stores its value.
func (t Trailer) Set(i Indicator, value bool) Trailer {
	v := uint32(t) | uint32(1)<<(trlShiftEnable+uint(i))
	bit := uint32(1) << (trlShiftIndicator + uint(i))
	if value {
		v |= bit
	} else {
		v &^= bit
	}
	return Trailer(v)
}

// SampleFrame returns the 2-bit sample frame indicator (bits 11-10) when
// both of its enable bits (23-22) are set.
func (t Trailer) SampleFrame() (uint8, bool) {
	if uint32(t)&(trlMaskSampleFrame<<trlShiftEnable) != trlMaskSampleFrame<<trlShiftEnable {
		return 0, false
	}
	return uint8(uint32(t) >> (trlShiftIndicator + 2) & 0x3), true
}

// UserDefined returns the 2-bit user-defined indicator (bits 9-8) when both
// of its enable bits (21-20) are set.
func (t Trailer) UserDefined() (uint8, bool) {
	if uint32(t)&(trlMaskUserDefined<<trlShiftEnable) != trlMaskUserDefined<<trlShiftEnable {
		return 0, false
	}
	return uint8(uint32(t) >> trlShiftIndicator & 0x3), true
}

func (t Trailer) WithSampleFrame(v uint8) Trailer {
	w := uint32(t) | trlMaskSampleFrame<<trlShiftEnable
	w = w&^(trlMaskSampleFrame<<trlShiftIndicator) | uint32(v&0x3)<<(trlShiftIndicator+2)
	return Trailer(w)
}

func (t Trailer) WithUserDefined(v uint8) Trailer {
	w := uint32(t) | trlMaskUserDefined<<trlShiftEnable
	w = w&^(trlMaskUserDefined<<trlShiftIndicator) | uint32(v&0x3)<<trlShiftIndicator
	return Trailer(w)
}

// AssociatedContextCount returns bits 6-0 when bit 7 is set.
func (t Trailer) AssociatedContextCount() (uint8, bool) {
	if uint32(t)&trlBitAssocEnable == 0 {
		return 0, false
	}
	return uint8(uint32(t) & trlMaskAssocCount), true
}

func (t Trailer) WithAssociatedContextCount(n uint8) Trailer {
	return Trailer(uint32(t)&^0xFF | trlBitAssocEnable | uint32(n)&trlMaskAssocCount)
}

// IndicatorByName looks up an indicator by its String form, ignoring case.
func IndicatorByName(name string) (Indicator, bool) {
	for ind, n := range indicatorNames {
		if strings.EqualFold(n, name) {
			return ind, true
		}
	}
	return 0, false
}
