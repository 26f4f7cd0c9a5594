package vrt

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedCIF0Fields lists the CIF0 fields whose size does not depend on their
// content.
func fixedCIF0Fields() []fieldSpec {
	var out []fieldSpec
	for _, s := range cifTables[0] {
		if s.size == nil {
			out = append(out, s)
		}
	}
	return out
}

func patternWords(tag, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = 0xA5000000 | uint32(tag)<<8 | uint32(i+1)
	}
	return out
}

func TestIndicatorAlignmentPairwise(t *testing.T) {
	fields := fixedCIF0Fields()
	require.Greater(t, len(fields), 15)
	for i := 0; i < len(fields); i++ {
		for j := i + 1; j < len(fields); j++ {
			a, b := fields[i], fields[j]
			t.Run(fmt.Sprintf("%s+%s", a.name, b.name), func(t *testing.T) {
				p := NewContext(0x42)
				c, _ := p.Context()
				wantA := patternWords(int(a.id.Bit()), a.words)
				wantB := patternWords(int(b.id.Bit()), b.words)
				// insert out of wire order; the block keeps wire order
				require.NoError(t, c.Set(b.id, wantB))
				require.NoError(t, c.Set(a.id, wantA))
				require.NoError(t, p.Resize())

				q, err := Decode(Encode(p))
				require.NoError(t, err)
				qc, ok := q.Context()
				require.True(t, ok)
				require.Len(t, qc.Fields, 2)
				assert.Equal(t, a.id, qc.Fields[0].ID)
				assert.Equal(t, b.id, qc.Fields[1].ID)
				assert.Equal(t, wantA, qc.Fields[0].Words())
				assert.Equal(t, wantB, qc.Fields[1].Words())
			})
		}
	}
}

func TestFieldAfterVariableSizeField(t *testing.T) {
	tests := []struct {
		name string
		set  func(b *CIFBlock)
	}{
		{"GPS ASCII", func(b *CIFBlock) { b.SetGPSASCII(GPSASCII{Text: "$GPRMC,123519,A"}) }},
		{"association lists", func(b *CIFBlock) {
			require.NoError(t, b.SetAssociationLists(AssociationLists{System: []uint32{1, 2, 3}, Vector: []uint32{4}, Async: []uint32{5, 6}, AsyncTags: []uint32{7, 8}}))
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := NewContext(1)
			c, _ := p.Context()
			tc.set(&c.CIFBlock)
			c.SetReferencePointID(0xCAFE)
			require.NoError(t, c.Set(FieldPhaseOffset, []uint32{0x0080}))
			require.NoError(t, c.Set(FieldBufferSize, []uint32{0x1, 0x2}))
			b := roundTrip(t, p)

			q, err := Decode(b)
			require.NoError(t, err)
			qc, _ := q.Context()
			id, ok := qc.ReferencePointID()
			require.True(t, ok)
			assert.Equal(t, uint32(0xCAFE), id)
			f, ok := qc.Field(FieldBufferSize)
			require.True(t, ok)
			assert.Equal(t, uint64(0x100000002), f.Value)
		})
	}
}

func TestTypedContextFields(t *testing.T) {
	p := NewContext(0x42)
	c, _ := p.Context()
	c.SetBandwidthHz(20e6)
	c.SetIFReferenceFrequencyHz(-1.5e6)
	c.SetRFReferenceFrequencyHz(5.8e9)
	c.SetRFFrequencyOffsetHz(125)
	c.SetIFBandOffsetHz(-0.5)
	c.SetReferenceLevelDBm(-30.25)
	c.SetGain(Gain{Stage1DB: 12.5, Stage2DB: -6})
	c.SetOverRangeCount(17)
	c.SetSampleRateHz(61.44e6)
	c.SetTimestampAdjustment(-250)
	c.SetTimestampCalibrationTime(1_600_000_000)
	c.SetTemperatureC(-12.5)
	c.SetDeviceID(DeviceID{OUI: 0x0012A2, DeviceCode: 7})
	c.SetStateEventIndicators(0x000A0000)
	format := PayloadFormat{RealComplex: ComplexCartesian, DataItemFormat: ItemSignedFixed, ItemPackingSize: 15, DataItemSize: 15, VectorSize: 3}
	c.SetPayloadFormat(format)
	geo := Geolocation{
		Time:        RecordTime{TSI: TSIUTC, TSF: TSFRealTime, OUI: 0xABCDEF, Integer: 5, Fractional: 6},
		LatitudeDeg: 38.25, LongitudeDeg: -77.5, AltitudeM: 120.5, SpeedOverGroundMps: 3.5,
		HeadingDeg: 90, TrackDeg: 45, MagneticVariationDeg: -11,
	}
	c.SetFormattedGPS(geo)
	eph := Ephemeris{PositionXM: 1000.5, PositionYM: -2000.25, PositionZM: 3, AttitudeAlphaDeg: 1, VelocityDZMps: -0.5}
	c.SetECEFEphemeris(eph)
	spec := Spectrum{SpectrumType: 1, AveragingType: 2, TransformPoints: 1024, WindowPoints: 1024, ResolutionHz: 1000, SpanHz: 1.024e6, Averages: 4, F1Index: -512, F2Index: 511}
	c.SetSpectrum(spec)
	roundTrip(t, p)

	q, err := Decode(Encode(p))
	require.NoError(t, err)
	qc, _ := q.Context()

	floats := []struct {
		name string
		get  func() (float64, bool)
		want float64
	}{
		{"bandwidth", qc.BandwidthHz, 20e6},
		{"IF reference", qc.IFReferenceFrequencyHz, -1.5e6},
		{"RF reference", qc.RFReferenceFrequencyHz, 5.8e9},
		{"RF offset", qc.RFFrequencyOffsetHz, 125},
		{"IF band offset", qc.IFBandOffsetHz, -0.5},
		{"reference level", qc.ReferenceLevelDBm, -30.25},
		{"sample rate", qc.SampleRateHz, 61.44e6},
		{"temperature", qc.TemperatureC, -12.5},
	}
	for _, f := range floats {
		got, ok := f.get()
		require.True(t, ok, f.name)
		assert.InDelta(t, f.want, got, 1e-6, f.name)
	}

	g, ok := qc.Gain()
	require.True(t, ok)
	assert.Equal(t, Gain{Stage1DB: 12.5, Stage2DB: -6}, g)
	n, _ := qc.OverRangeCount()
	assert.Equal(t, uint32(17), n)
	adj, _ := qc.TimestampAdjustment()
	assert.Equal(t, int64(-250), adj)
	cal, _ := qc.TimestampCalibrationTime()
	assert.Equal(t, uint32(1_600_000_000), cal)
	dev, _ := qc.DeviceID()
	assert.Equal(t, DeviceID{OUI: 0x0012A2, DeviceCode: 7}, dev)
	sei, _ := qc.StateEventIndicators()
	assert.Equal(t, uint32(0x000A0000), sei)
	pf, _ := qc.PayloadFormat()
	assert.Equal(t, format, pf)
	assert.Equal(t, 16, pf.ItemBits())
	gotGeo, _ := qc.FormattedGPS()
	if diff := cmp.Diff(geo, gotGeo); diff != "" {
		t.Fatalf("geolocation (-want +got):\n%s", diff)
	}
	gotEph, _ := qc.ECEFEphemeris()
	if diff := cmp.Diff(eph, gotEph); diff != "" {
		t.Fatalf("ephemeris (-want +got):\n%s", diff)
	}
	gotSpec, _ := qc.Spectrum()
	if diff := cmp.Diff(spec, gotSpec); diff != "" {
		t.Fatalf("spectrum (-want +got):\n%s", diff)
	}
	_, ok = qc.FormattedINS()
	assert.False(t, ok)
}

func TestOpaqueFieldKeepsAlignment(t *testing.T) {
	// CIF1: polarization (bit 30, no typed reading) then beam widths (bit 25).
	buf := wordBytes(0x40000006, 0x42, cif0EnableCIF1, uint32(1)<<30|uint32(1)<<25, 0x00010002, 0x00030004)
	p, err := Decode(buf)
	require.NoError(t, err)
	c, _ := p.Context()
	require.Len(t, c.Fields, 2)
	assert.True(t, c.Fields[0].Opaque())
	assert.Equal(t, []uint32{0x00010002}, c.Fields[0].Words())
	assert.Equal(t, FieldBeamWidths, c.Fields[1].ID)
	assert.Equal(t, []uint32{0x00030004}, c.Fields[1].Words())
	assert.Equal(t, buf, Encode(p))
}

func TestRecordFieldSize(t *testing.T) {
	// index list declares 4 words including its header word
	buf := wordBytes(0x40000009, 0x42, cif0EnableCIF1, uint32(1)<<7|uint32(1)<<2, 0x00000004, 1, 2, 3, 0x0100)
	p, err := Decode(buf)
	require.NoError(t, err)
	c, _ := p.Context()
	f, ok := c.Field(FieldIndexList)
	require.True(t, ok)
	assert.Equal(t, []uint32{4, 1, 2, 3}, f.Words())
	v, ok := c.Field(FieldVersionBuildCode)
	require.True(t, ok)
	assert.Equal(t, uint32(0x0100), v.Value)
}

func TestAgeFollowsHeaderTimestamp(t *testing.T) {
	// integer timestamp only: age and shelf life are one word each
	buf := wordBytes(0x40400007, 0x42, 99, cif0EnableCIF3, uint32(1)<<17|uint32(1)<<16, 0x11, 0x22)
	p, err := Decode(buf)
	require.NoError(t, err)
	c, _ := p.Context()
	age, _ := c.Field(FieldAge)
	shelf, _ := c.Field(FieldShelfLife)
	assert.Equal(t, []uint32{0x11}, age.Words())
	assert.Equal(t, []uint32{0x22}, shelf.Words())
}

func TestFieldAttributesRepeatFields(t *testing.T) {
	buf := wordBytes(
		0x4000000A, 0x42,
		uint32(1)<<29|cif0FieldAttributes, // bandwidth, CIF7 present
		cif7Current|uint32(1)<<28|uint32(1)<<19|0x7, // three attributes plus ignored low bits
		0, 1, 0, 2, 0, 3,
	)
	p, err := Decode(buf)
	require.NoError(t, err)
	c, _ := p.Context()
	assert.True(t, c.Enabled(7))
	f, ok := c.Field(FieldBandwidth)
	require.True(t, ok)
	assert.Equal(t, [][]uint32{{0, 1}, {0, 2}, {0, 3}}, f.Instances)
	assert.Equal(t, buf, Encode(p))
}

func TestFieldAttributesAbsentMeansOneInstance(t *testing.T) {
	var b CIFBlock
	b.SetBandwidthHz(1)
	f, _ := b.Field(FieldBandwidth)
	assert.Len(t, f.Instances, 1)
	assert.Error(t, b.SetAttributes(cif7Current))
}

func TestSetValidatesSizes(t *testing.T) {
	var b CIFBlock
	assert.Error(t, b.Set(FieldBandwidth, []uint32{1}))
	assert.Error(t, b.Set(FieldGPSASCII, []uint32{0, 2, 0}))
	assert.ErrorIs(t, b.Set(NewFieldID(0, 0), []uint32{0}), ErrUnsupportedContextField)
	require.NoError(t, b.Set(FieldGPSASCII, []uint32{0, 1, 0x41424300}))
	assert.True(t, b.Has(FieldGPSASCII))
	b.Remove(FieldGPSASCII)
	assert.False(t, b.Has(FieldGPSASCII))
	assert.Empty(t, b.Fields)
}

func TestChangeIndicatorCarriesNoData(t *testing.T) {
	buf := wordBytes(0x40000003, 0x42, cif0ChangeIndicator)
	p, err := Decode(buf)
	require.NoError(t, err)
	c, _ := p.Context()
	assert.True(t, c.ChangeIndicator())
	assert.Empty(t, c.Fields)
}

func TestFieldIDString(t *testing.T) {
	assert.Equal(t, "bandwidth", FieldBandwidth.String())
	assert.Equal(t, "controllee UUID", FieldControlleeUUID.String())
	assert.Equal(t, "CIF0 bit 0", NewFieldID(0, 0).String())
}

func TestAssociationListsTooLong(t *testing.T) {
	tests := []struct {
		name  string
		lists AssociationLists
	}{
		{"source", AssociationLists{Source: make([]uint32, 1024)}},
		{"system", AssociationLists{System: make([]uint32, 1024)}},
		{"vector", AssociationLists{Vector: make([]uint32, 0x10000)}},
		{"async", AssociationLists{Async: make([]uint32, 512)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := NewContext(1)
			c, _ := p.Context()
			var err error
			require.NotPanics(t, func() { err = c.SetAssociationLists(tc.lists) })
			assert.ErrorContains(t, err, "association list")
			_, ok := c.AssociationLists()
			assert.False(t, ok)
		})
	}

	p := NewContext(1)
	c, _ := p.Context()
	require.NoError(t, c.SetAssociationLists(AssociationLists{Source: make([]uint32, 1023), Async: make([]uint32, 511)}))
	q, err := Decode(roundTrip(t, p))
	require.NoError(t, err)
	got, ok := q.Context()
	require.True(t, ok)
	al, ok := got.AssociationLists()
	require.True(t, ok)
	assert.Len(t, al.Source, 1023)
	assert.Len(t, al.Async, 511)
}
