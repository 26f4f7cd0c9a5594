package describe

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/vrtgate/internal/vrt"
)

func TestLoadAndBuildSignalData(t *testing.T) {
	src := `packets:
  - type: signaldata
    stream_id: 0x42
    packet_count: 3
    tsi: utc
    tsf: realtime
    integer_timestamp: 100
    fractional_timestamp: 5
    iq16: [[1, 2], [-3, -4]]
    trailer:
      indicators:
        valid data: true
        over-range: false
`
	doc, err := Load(strings.NewReader(src))
	require.NoError(t, err)
	packets, err := doc.Build()
	require.NoError(t, err)
	require.Len(t, packets, 1)

	p := packets[0]
	assert.Equal(t, vrt.TypeSignalData, p.Type())
	require.NotNil(t, p.StreamID)
	assert.EqualValues(t, 0x42, *p.StreamID)
	assert.EqualValues(t, 3, p.Header.PacketCount())
	assert.Equal(t, vrt.TSIUTC, p.Header.TSI())
	assert.Equal(t, vrt.TSFRealTime, p.Header.TSF())
	// header, stream ID, 3 timestamp words, 2 payload words, trailer
	assert.EqualValues(t, 8, p.Header.Size())

	require.NotNil(t, p.Trailer)
	v, ok := p.Trailer.Get(vrt.ValidData)
	assert.True(t, ok)
	assert.True(t, v)
	v, ok = p.Trailer.Get(vrt.OverRange)
	assert.True(t, ok)
	assert.False(t, v)
	_, ok = p.Trailer.Get(vrt.SampleLoss)
	assert.False(t, ok)
}

func TestLoadAcceptsJSON(t *testing.T) {
	src := `{"packets": [{"type": "Context", "stream_id": 7, "context": {"sample_rate_hz": 1000000}}]}`
	doc, err := Load(strings.NewReader(src))
	require.NoError(t, err)
	packets, err := doc.Build()
	require.NoError(t, err)
	require.Len(t, packets, 1)
	ctx, ok := packets[0].Context()
	require.True(t, ok)
	rate, ok := ctx.SampleRateHz()
	require.True(t, ok)
	assert.InDelta(t, 1e6, rate, 1e-6)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(strings.NewReader(""))
	assert.ErrorContains(t, err, "empty packet description")

	_, err = Load(strings.NewReader("packets:\n  - type: context\n    colour: red\n"))
	assert.Error(t, err)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"missing stream id", "packets: [{type: signaldata}]", "needs stream_id"},
		{"unknown type", "packets: [{type: bogus, stream_id: 1}]", "bogus"},
		{"payload and iq16", "packets: [{type: signaldata, stream_id: 1, payload: '00000000', iq16: [[1, 1]]}]", "exclusive"},
		{"bad payload hex", "packets: [{type: signaldata, stream_id: 1, payload: 'zz'}]", "payload hex"},
		{"unknown tsi", "packets: [{type: context, stream_id: 1, tsi: martian}]", "unknown tsi"},
		{"unknown tsf", "packets: [{type: context, stream_id: 1, tsf: lunar}]", "unknown tsf"},
		{"unknown indicator", "packets: [{type: signaldata, stream_id: 1, trailer: {indicators: {bogus: true}}}]", "unknown trailer indicator"},
		{"bad controllee uuid", "packets: [{type: command, stream_id: 1, command: {cam: 0, message_id: 1, controllee_uuid: nope}}]", "controllee uuid"},
		{"ack with fields", "packets: [{type: command, stream_id: 1, command: {cam: 0, message_id: 1, acknowledge: true, fields: {sample_rate_hz: 1}}}]", "acknowledgement carries"},
		{"warnings without ack", "packets: [{type: command, stream_id: 1, command: {cam: 0, message_id: 1, warnings: [{cif: 0, bit: 21, response: 1}]}}]", "non-state acknowledgement"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := Load(strings.NewReader(tc.src))
			require.NoError(t, err)
			_, err = doc.Build()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
			assert.Contains(t, err.Error(), "packet 0")
		})
	}
}

func TestUnknownTypeWrapsSentinel(t *testing.T) {
	_, err := PacketDesc{Type: "nonsense"}.Build()
	assert.ErrorIs(t, err, vrt.ErrInvalidPacketType)
}

func TestDumpRebuildsIdenticalBytes(t *testing.T) {
	class := vrt.ClassID{OUI: 0x0012A2, InformationClassCode: 1, PacketClassCode: 2}

	ctx := vrt.NewContext(9)
	ctx.SetClassID(class)
	ctx.SetTimestamp(vrt.TSIGPS, 42, vrt.TSFSampleCount, 1024)
	c, _ := ctx.Context()
	c.SetSampleRateHz(2.5e6)
	c.SetGain(vrt.Gain{Stage1DB: 10.5, Stage2DB: -3})
	c.SetBandwidthHz(2e6)
	c.SetGPSASCII(vrt.GPSASCII{Text: "$GPGGA"})
	require.NoError(t, ctx.Resize())

	data := vrt.NewSignalData(9)
	data.SetClassID(class)
	data.SetPacketCount(1)
	require.NoError(t, data.SetPayloadData(vrt.PackIQ16([]complex128{5 - 5i, 100 + 0i})))
	require.NoError(t, data.SetTrailer(vrt.Trailer(0).Set(vrt.ReferenceLock, true).Set(vrt.AGC, false)))
	require.NoError(t, data.Resize())

	cmd := vrt.NewCommand(9)
	cp, _ := cmd.Command()
	cp.MessageID = 3
	cp.SetControlleeUUID(uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"))
	cp.Fields.SetRFReferenceFrequencyHz(1.5e9)
	require.NoError(t, cmd.Resize())

	packets := []*vrt.Packet{ctx, data, cmd}
	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, packets))

	doc, err := Load(&buf)
	require.NoError(t, err)
	rebuilt, err := doc.Build()
	require.NoError(t, err)
	require.Len(t, rebuilt, len(packets))
	for i := range packets {
		assert.Equal(t, vrt.Encode(packets[i]), vrt.Encode(rebuilt[i]), "packet %d", i)
	}
}

func TestDescribeUsesTypedEntries(t *testing.T) {
	ctx := vrt.NewContext(1)
	c, _ := ctx.Context()
	c.SetSampleRateHz(1e6)
	c.SetReferencePointID(5)
	require.NoError(t, ctx.Resize())

	pd := Describe(ctx)
	require.NotNil(t, pd.Context)
	require.NotNil(t, pd.Context.SampleRateHz)
	assert.InDelta(t, 1e6, *pd.Context.SampleRateHz, 1e-6)
	require.NotNil(t, pd.Context.ReferencePointID)
	assert.EqualValues(t, 5, *pd.Context.ReferencePointID)
	assert.Empty(t, pd.Context.Fields)
}
