package vrt

import "math"

// Fixed-point conversions for context fields. radix is the number of
// fractional bits.

func fixedToFloat(v int64, radix uint) float64 {
	return float64(v) / float64(uint64(1)<<radix)
}

func floatToFixed64(f float64, radix uint) int64 {
	return int64(math.Round(f * float64(uint64(1)<<radix)))
}

func floatToFixed32(f float64, radix uint) int32 {
	v := math.Round(f * float64(uint64(1)<<radix))
	return int32(clamp(v, math.MinInt32, math.MaxInt32))
}

func floatToFixed16(f float64, radix uint) int16 {
	v := math.Round(f * float64(uint64(1)<<radix))
	return int16(clamp(v, math.MinInt16, math.MaxInt16))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func join64(hi, lo uint32) uint64 { return uint64(hi)<<32 | uint64(lo) }

func split64(v uint64) []uint32 { return []uint32{uint32(v >> 32), uint32(v)} }

// low16 and high16 read signed halves of a word.
func low16(w uint32) int16  { return int16(uint16(w)) }
func high16(w uint32) int16 { return int16(uint16(w >> 16)) }

func halves(hi, lo int16) uint32 { return uint32(uint16(hi))<<16 | uint32(uint16(lo)) }
