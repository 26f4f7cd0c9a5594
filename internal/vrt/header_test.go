package vrt

import (
	"errors"
	"testing"
	"time"
)

func TestHeaderAccessors(t *testing.T) {
	tests := []struct {
		name        string
		word        uint32
		typ         PacketType
		classID     bool
		trailer     bool
		notV49d0    bool
		spectral    bool
		tsMode      bool
		ack         bool
		cancel      bool
		tsi         TSI
		tsf         TSF
		count       uint8
		size        uint16
		hasStreamID bool
	}{
		{name: "data with class ID", word: 0x18000007, typ: TypeSignalData, classID: true, size: 7, hasStreamID: true},
		{name: "data trailer and spectral", word: 0x0593_0010, typ: TypeSignalDataNoSID, trailer: true, spectral: true, tsi: TSIGPS, tsf: TSFSampleCount, count: 3, size: 16},
		{name: "extension data not V49.0", word: 0x3260_FFFF, typ: TypeExtData, notV49d0: true, tsi: TSIUTC, tsf: TSFRealTime, size: 0xFFFF, hasStreamID: true},
		{name: "context timestamp mode", word: 0x4D7F_0004, typ: TypeContext, classID: true, tsMode: true, tsi: TSIUTC, tsf: TSFFreeRunning, count: 15, size: 4, hasStreamID: true},
		{name: "context ignores trailer bit", word: 0x5400_0003, typ: TypeExtContext, size: 3, hasStreamID: true},
		{name: "acknowledge", word: 0x6400_0005, typ: TypeCommand, ack: true, size: 5, hasStreamID: true},
		{name: "cancellation", word: 0x7100_0005, typ: TypeExtCommand, cancel: true, size: 5, hasStreamID: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, err := ParseHeader(wordBytes(tc.word))
			if err != nil {
				t.Fatalf("ParseHeader: %v", err)
			}
			if h.Type() != tc.typ {
				t.Fatalf("Type = %s, want %s", h.Type(), tc.typ)
			}
			checks := []struct {
				field     string
				got, want bool
			}{
				{"ClassIDPresent", h.ClassIDPresent(), tc.classID},
				{"TrailerPresent", h.TrailerPresent(), tc.trailer},
				{"NotV49d0", h.NotV49d0(), tc.notV49d0},
				{"Spectral", h.Spectral(), tc.spectral},
				{"TimestampMode", h.TimestampMode(), tc.tsMode},
				{"Acknowledge", h.Acknowledge(), tc.ack},
				{"Cancellation", h.Cancellation(), tc.cancel},
				{"HasStreamID", h.Type().HasStreamID(), tc.hasStreamID},
			}
			for _, c := range checks {
				if c.got != c.want {
					t.Errorf("%s = %v, want %v", c.field, c.got, c.want)
				}
			}
			if h.TSI() != tc.tsi || h.TSF() != tc.tsf {
				t.Errorf("TSI/TSF = %s/%s, want %s/%s", h.TSI(), h.TSF(), tc.tsi, tc.tsf)
			}
			if h.PacketCount() != tc.count {
				t.Errorf("PacketCount = %d, want %d", h.PacketCount(), tc.count)
			}
			if h.Size() != tc.size {
				t.Errorf("Size = %d, want %d", h.Size(), tc.size)
			}
		})
	}
}

func TestHeaderSettersRoundTrip(t *testing.T) {
	h := Header(0).
		WithType(TypeExtContext).
		WithClassID(true).
		WithIndicators(0x3).
		WithTSI(TSIGPS).
		WithTSF(TSFRealTime).
		WithPacketCount(18).
		WithSize(0x1234)
	if got, want := uint32(h), uint32(0x5BA2_1234); got != want {
		t.Fatalf("header = 0x%08X, want 0x%08X", got, want)
	}
	h = h.WithClassID(false).WithSize(2)
	if h.ClassIDPresent() || h.Size() != 2 || h.PacketCount() != 2 {
		t.Fatalf("unexpected header %s", h)
	}
}

func TestParseHeaderErrors(t *testing.T) {
	for code := uint32(8); code <= 15; code++ {
		_, err := ParseHeader(wordBytes(code<<28 | 1))
		if !errors.Is(err, ErrInvalidPacketType) {
			t.Fatalf("type %d: got %v, want InvalidPacketType", code, err)
		}
	}
	if _, err := ParseHeader([]byte{0, 0, 0}); !errors.Is(err, ErrTruncatedInput) {
		t.Fatalf("3 bytes: got %v", err)
	}
	if n, err := PacketLen(wordBytes(0x10000009)); err != nil || n != 36 {
		t.Fatalf("PacketLen = %d, %v", n, err)
	}
}

func TestTimestampTime(t *testing.T) {
	sec := uint32(1_700_000_000)
	frac := uint64(500_000_000_000)
	ts := Timestamp{Integer: &sec, Fractional: &frac}

	got, ok := ts.Time(TSIUTC, TSFRealTime)
	if !ok {
		t.Fatal("UTC timestamp not converted")
	}
	if want := time.Unix(1_700_000_000, 500_000_000).UTC(); !got.Equal(want) {
		t.Fatalf("UTC time = %v, want %v", got, want)
	}
	got, ok = ts.Time(TSIGPS, TSFSampleCount)
	if !ok {
		t.Fatal("GPS timestamp not converted")
	}
	if want := gpsEpoch.Add(1_700_000_000 * time.Second); !got.Equal(want) {
		t.Fatalf("GPS time = %v, want %v", got, want)
	}
	if _, ok := ts.Time(TSIOther, TSFRealTime); ok {
		t.Fatal("other TSI should not convert")
	}
	ps, ok := ts.Picoseconds(TSFRealTime)
	if !ok || ps != uint64(sec)*picosPerSecond+frac {
		t.Fatalf("Picoseconds = %d, %v", ps, ok)
	}
}

func TestTimestampCompare(t *testing.T) {
	u32 := func(v uint32) *uint32 { return &v }
	u64 := func(v uint64) *uint64 { return &v }
	tests := []struct {
		name string
		a, b Timestamp
		want int
	}{
		{"earlier second", Timestamp{u32(1), u64(900)}, Timestamp{u32(2), u64(0)}, -1},
		{"same second smaller fraction", Timestamp{u32(5), u64(1024)}, Timestamp{u32(5), u64(2048)}, -1},
		{"same second larger fraction", Timestamp{u32(5), u64(3)}, Timestamp{u32(5), u64(2)}, 1},
		{"equal", Timestamp{u32(5), u64(7)}, Timestamp{u32(5), u64(7)}, 0},
		{"fraction only", Timestamp{nil, u64(10)}, Timestamp{nil, u64(9)}, 1},
		{"integer only", Timestamp{u32(3), nil}, Timestamp{u32(4), nil}, -1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Compare(tc.b); got != tc.want {
				t.Fatalf("Compare = %d, want %d", got, tc.want)
			}
		})
	}
}
