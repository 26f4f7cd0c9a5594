package vrt

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
)

func wordBytes(ws ...uint32) []byte {
	out := make([]byte, 0, 4*len(ws))
	for _, w := range ws {
		out = binary.BigEndian.AppendUint32(out, w)
	}
	return out
}

var packetCmp = cmp.Options{cmpopts.EquateEmpty()}

// roundTrip encodes p, decodes the bytes and checks both directions of the
// round-trip law. It returns the encoded bytes.
func roundTrip(t *testing.T, p *Packet) []byte {
	t.Helper()
	if err := p.Resize(); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	b := Encode(p)
	if got := int(p.Header.Size()) * 4; got != len(b) {
		t.Fatalf("header declares %d bytes, encoded %d", got, len(b))
	}
	q, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode(Encode(p)): %v", err)
	}
	if diff := cmp.Diff(p, q, packetCmp); diff != "" {
		t.Fatalf("decode(encode(p)) != p (-want +got):\n%s", diff)
	}
	if again := Encode(q); string(again) != string(b) {
		t.Fatalf("encode(decode(b)) != b:\n got %x\nwant %x", again, b)
	}
	return b
}

func testUUID(s string) uuid.UUID { return uuid.MustParse(s) }

// samplePackets returns one well-formed packet of every shape the codec
// knows, each already sized.
func samplePackets(t *testing.T) map[string]*Packet {
	t.Helper()
	out := make(map[string]*Packet)

	data := NewSignalData(0x42)
	data.SetClassID(ClassID{OUI: 0x0012A2, InformationClassCode: 1, PacketClassCode: 2})
	data.SetTimestamp(TSIUTC, 1_700_000_000, TSFRealTime, 250_000_000_000)
	data.SetPacketCount(5)
	if err := data.SetPayloadData(PackIQ16([]complex128{1 + 2i, -3 - 4i, 32767 - 32768i})); err != nil {
		t.Fatalf("SetPayloadData: %v", err)
	}
	if err := data.SetTrailer(Trailer(0).Set(ValidData, true).Set(SampleLoss, false)); err != nil {
		t.Fatalf("SetTrailer: %v", err)
	}
	out["signal data"] = data

	nosid, err := NewPacket(TypeSignalDataNoSID, 0)
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}
	if err := nosid.SetPayloadData(wordBytes(0xDEADBEEF)); err != nil {
		t.Fatalf("SetPayloadData: %v", err)
	}
	out["signal data without stream ID"] = nosid

	spectral, err := NewPacket(TypeExtData, 7)
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}
	spectral.SetSpectral(true)
	if err := spectral.SetPayloadData(PackFloat32([]float32{1.5, -2.25})); err != nil {
		t.Fatalf("SetPayloadData: %v", err)
	}
	out["spectral extension data"] = spectral

	ctx := NewContext(0x42)
	ctx.SetTimestamp(TSIGPS, 100, TSFSampleCount, 4096)
	c, _ := ctx.Context()
	c.SetChangeIndicator(true)
	c.SetReferencePointID(0x42)
	c.SetBandwidthHz(20e6)
	c.SetRFReferenceFrequencyHz(2.4e9)
	c.SetReferenceLevelDBm(-20.5)
	c.SetGain(Gain{Stage1DB: 10, Stage2DB: -3.5})
	c.SetSampleRateHz(25e6)
	c.SetTemperatureC(41.25)
	c.SetDeviceID(DeviceID{OUI: 0xABCDEF, DeviceCode: 0x1234})
	c.SetGPSASCII(GPSASCII{OUI: 0x123456, Text: "$GPGGA,1"})
	if err := c.SetAssociationLists(AssociationLists{Source: []uint32{1, 2}, Async: []uint32{9}, AsyncTags: []uint32{10}}); err != nil {
		t.Fatalf("SetAssociationLists: %v", err)
	}
	c.SetThreshold(Gain{Stage1DB: -1})
	if err := c.Set(FieldPolarization, []uint32{0x00010002}); err != nil {
		t.Fatalf("Set polarization: %v", err)
	}
	if err := c.Set(FieldIndexList, []uint32{3, 0xAA, 0xBB}); err != nil {
		t.Fatalf("Set index list: %v", err)
	}
	c.SetControlleeUUID(testUUID("0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0"))
	if err := c.Set(FieldAge, []uint32{7, 0, 8}); err != nil {
		t.Fatalf("Set age: %v", err)
	}
	out["context"] = ctx

	attrs := NewContext(9)
	a, _ := attrs.Context()
	if err := a.SetAttributes(cif7Current | uint32(1)<<30); err != nil {
		t.Fatalf("SetAttributes: %v", err)
	}
	if err := a.SetInstances(FieldBandwidth, [][]uint32{hzWords(1e6), hzWords(2e6)}); err != nil {
		t.Fatalf("SetInstances: %v", err)
	}
	a.SetReferenceLevelDBm(-1)
	out["context with attributes"] = attrs

	cmd := NewCommand(0x42)
	cp, _ := cmd.Command()
	cp.CAM = cp.CAM.WithActionMode(ActionExecute).WithTimingControl(2)
	cp.MessageID = 77
	cp.SetControllee(0x1001)
	cp.SetControllerUUID(testUUID("11111111-2222-3333-4444-555555555555"))
	cp.Fields.SetRFReferenceFrequencyHz(1e9)
	cp.Fields.SetGain(Gain{Stage1DB: 3})
	out["control"] = cmd

	ack := NewCommand(0x42)
	ack.SetAcknowledge(true)
	ap, _ := ack.Command()
	ap.CAM = ap.CAM.With(CAMValidation, true)
	ap.MessageID = 77
	ap.SetControllee(0x1001)
	ap.Fields = nil
	warn := &AckBlock{}
	warn.Add(FieldRFReferenceFrequency, AckParameterOutOfRange|AckUnsupportedPrecision)
	ap.SetWarnings(warn)
	errs := &AckBlock{}
	errs.Add(FieldGain, AckFieldValueInvalid)
	errs.Add(FieldPhaseOffset, AckDeviceFailure)
	ap.SetErrors(errs)
	out["validation acknowledgement"] = ack

	state := NewCommand(0x42)
	state.SetAcknowledge(true)
	sp, _ := state.Command()
	sp.CAM = sp.CAM.With(CAMState, true)
	sp.Fields.SetSampleRateHz(10e6)
	out["query-state acknowledgement"] = state

	cancel := NewCommand(0x42)
	cancel.SetCancellation(true)
	xp, _ := cancel.Command()
	xp.MessageID = 78
	xp.Fields = &CIFBlock{Indicators: [4]uint32{uint32(1)<<29 | uint32(1)<<21}}
	out["cancellation"] = cancel

	for name, p := range out {
		if err := p.Resize(); err != nil {
			t.Fatalf("%s: Resize: %v", name, err)
		}
	}
	return out
}
