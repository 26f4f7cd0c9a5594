// Package describe converts between VRT packets and a YAML/JSON packet
// description, for building test captures by hand and dumping them back.
package describe

import (
	"encoding/hex"
	"io"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"example.com/vrtgate/internal/vrt"
)

// Document is a sequence of packet descriptions in file order.
type Document struct {
	Packets []PacketDesc `yaml:"packets" json:"packets"`
}

type PacketDesc struct {
	Type          string       `yaml:"type" json:"type"`
	StreamID      *uint32      `yaml:"stream_id,omitempty" json:"stream_id,omitempty"`
	ClassID       *ClassIDDesc `yaml:"class_id,omitempty" json:"class_id,omitempty"`
	PacketCount   uint8        `yaml:"packet_count,omitempty" json:"packet_count,omitempty"`
	NotV49d0      bool         `yaml:"not_v49d0,omitempty" json:"not_v49d0,omitempty"`
	Spectral      bool         `yaml:"spectral,omitempty" json:"spectral,omitempty"`
	TimestampMode bool         `yaml:"timestamp_mode,omitempty" json:"timestamp_mode,omitempty"`
	TSI           string       `yaml:"tsi,omitempty" json:"tsi,omitempty"`
	TSF           string       `yaml:"tsf,omitempty" json:"tsf,omitempty"`
	Integer       *uint32      `yaml:"integer_timestamp,omitempty" json:"integer_timestamp,omitempty"`
	Fractional    *uint64      `yaml:"fractional_timestamp,omitempty" json:"fractional_timestamp,omitempty"`
	Payload       string       `yaml:"payload,omitempty" json:"payload,omitempty"` // hex, data packets
	IQ16          [][2]float64 `yaml:"iq16,omitempty" json:"iq16,omitempty"`       // alternative to payload
	Trailer       *TrailerDesc `yaml:"trailer,omitempty" json:"trailer,omitempty"`
	Context       *BlockDesc   `yaml:"context,omitempty" json:"context,omitempty"`
	Command       *CommandDesc `yaml:"command,omitempty" json:"command,omitempty"`
}

type ClassIDDesc struct {
	PadBits              uint8  `yaml:"pad_bits,omitempty" json:"pad_bits,omitempty"`
	OUI                  uint32 `yaml:"oui" json:"oui"`
	InformationClassCode uint16 `yaml:"information_class" json:"information_class"`
	PacketClassCode      uint16 `yaml:"packet_class" json:"packet_class"`
}

// TrailerDesc is a raw trailer word with named indicators applied on top.
type TrailerDesc struct {
	Raw        uint32          `yaml:"raw,omitempty" json:"raw,omitempty"`
	Indicators map[string]bool `yaml:"indicators,omitempty" json:"indicators,omitempty"`
}

// BlockDesc describes a context or command field block. Common fields have
// typed entries; any field can be given as raw words.
type BlockDesc struct {
	ChangeIndicator        bool       `yaml:"change_indicator,omitempty" json:"change_indicator,omitempty"`
	Attributes             *uint32    `yaml:"attributes,omitempty" json:"attributes,omitempty"`
	ReferencePointID       *uint32    `yaml:"reference_point_id,omitempty" json:"reference_point_id,omitempty"`
	BandwidthHz            *float64   `yaml:"bandwidth_hz,omitempty" json:"bandwidth_hz,omitempty"`
	IFReferenceFrequencyHz *float64   `yaml:"if_reference_frequency_hz,omitempty" json:"if_reference_frequency_hz,omitempty"`
	RFReferenceFrequencyHz *float64   `yaml:"rf_reference_frequency_hz,omitempty" json:"rf_reference_frequency_hz,omitempty"`
	ReferenceLevelDBm      *float64   `yaml:"reference_level_dbm,omitempty" json:"reference_level_dbm,omitempty"`
	Gain                   *vrt.Gain  `yaml:"gain,omitempty" json:"gain,omitempty"`
	SampleRateHz           *float64   `yaml:"sample_rate_hz,omitempty" json:"sample_rate_hz,omitempty"`
	TemperatureC           *float64   `yaml:"temperature_c,omitempty" json:"temperature_c,omitempty"`
	GPSASCII               string     `yaml:"gps_ascii,omitempty" json:"gps_ascii,omitempty"`
	Fields                 []RawField `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// RawField is any context field as indicator position plus words, one
// instance per CIF7 attribute.
type RawField struct {
	CIF       uint8      `yaml:"cif" json:"cif"`
	Bit       uint8      `yaml:"bit" json:"bit"`
	Name      string     `yaml:"name,omitempty" json:"name,omitempty"`
	Instances [][]uint32 `yaml:"instances" json:"instances"`
}

type CommandDesc struct {
	CAM            uint32     `yaml:"cam" json:"cam"`
	MessageID      uint32     `yaml:"message_id" json:"message_id"`
	Acknowledge    bool       `yaml:"acknowledge,omitempty" json:"acknowledge,omitempty"`
	Cancellation   bool       `yaml:"cancellation,omitempty" json:"cancellation,omitempty"`
	ControlleeID   *uint32    `yaml:"controllee_id,omitempty" json:"controllee_id,omitempty"`
	ControlleeUUID string     `yaml:"controllee_uuid,omitempty" json:"controllee_uuid,omitempty"`
	ControllerID   *uint32    `yaml:"controller_id,omitempty" json:"controller_id,omitempty"`
	ControllerUUID string     `yaml:"controller_uuid,omitempty" json:"controller_uuid,omitempty"`
	Fields         *BlockDesc `yaml:"fields,omitempty" json:"fields,omitempty"`
	Warnings       []AckDesc  `yaml:"warnings,omitempty" json:"warnings,omitempty"`
	Errors         []AckDesc  `yaml:"errors,omitempty" json:"errors,omitempty"`
}

// AckDesc is one acknowledge response word.
type AckDesc struct {
	CIF      uint8  `yaml:"cif" json:"cif"`
	Bit      uint8  `yaml:"bit" json:"bit"`
	Response uint32 `yaml:"response" json:"response"`
}

// Load reads a description. JSON input is accepted since it is valid YAML.
func Load(r io.Reader) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return doc, errors.New("empty packet description")
		}
		return doc, errors.Wrap(err, "decode packet description")
	}
	return doc, nil
}

// Build converts every description into a packet.
func (d Document) Build() ([]*vrt.Packet, error) {
	out := make([]*vrt.Packet, 0, len(d.Packets))
	for i, pd := range d.Packets {
		p, err := pd.Build()
		if err != nil {
			return nil, errors.Wrapf(err, "packet %d", i)
		}
		out = append(out, p)
	}
	return out, nil
}

// Build converts one description into a packet with a consistent header.
func (pd PacketDesc) Build() (*vrt.Packet, error) {
	t, err := parsePacketType(pd.Type)
	if err != nil {
		return nil, err
	}
	var sid uint32
	if pd.StreamID != nil {
		sid = *pd.StreamID
	} else if t.HasStreamID() {
		return nil, errors.Errorf("%s packet needs stream_id", t)
	}
	p, err := vrt.NewPacket(t, sid)
	if err != nil {
		return nil, errors.Wrap(err, "new packet")
	}
	if pd.ClassID != nil {
		p.SetClassID(vrt.ClassID(*pd.ClassID))
	}
	tsi, err := parseTSI(pd.TSI)
	if err != nil {
		return nil, err
	}
	tsf, err := parseTSF(pd.TSF)
	if err != nil {
		return nil, err
	}
	var integer uint32
	var fractional uint64
	if pd.Integer != nil {
		integer = *pd.Integer
	}
	if pd.Fractional != nil {
		fractional = *pd.Fractional
	}
	p.SetTimestamp(tsi, integer, tsf, fractional)
	p.SetPacketCount(pd.PacketCount)
	if pd.NotV49d0 && !t.IsCommand() {
		p.Header = p.Header.WithIndicators(p.Header.Indicators() | 0x2)
	}

	switch {
	case t.IsData():
		if err := buildData(p, pd); err != nil {
			return nil, err
		}
	case t.IsContext():
		if pd.TimestampMode {
			p.Header = p.Header.WithIndicators(p.Header.Indicators() | 0x1)
		}
		ctx, _ := p.Context()
		if pd.Context != nil {
			if err := pd.Context.apply(&ctx.CIFBlock); err != nil {
				return nil, err
			}
		}
	default:
		if err := buildCommand(p, pd.Command); err != nil {
			return nil, err
		}
	}
	if err := p.Resize(); err != nil {
		return nil, errors.Wrap(err, "resize")
	}
	return p, nil
}

func buildData(p *vrt.Packet, pd PacketDesc) error {
	var data []byte
	switch {
	case pd.Payload != "" && len(pd.IQ16) > 0:
		return errors.New("payload and iq16 are exclusive")
	case pd.Payload != "":
		b, err := hex.DecodeString(strings.ReplaceAll(pd.Payload, " ", ""))
		if err != nil {
			return errors.Wrap(err, "payload hex")
		}
		data = b
	case len(pd.IQ16) > 0:
		samples := make([]complex128, len(pd.IQ16))
		for i, s := range pd.IQ16 {
			samples[i] = complex(s[0], s[1])
		}
		data = vrt.PackIQ16(samples)
	}
	if err := p.SetPayloadData(data); err != nil {
		return errors.Wrap(err, "payload")
	}
	p.SetSpectral(pd.Spectral)
	if pd.Trailer != nil {
		t := vrt.Trailer(pd.Trailer.Raw)
		for name, v := range pd.Trailer.Indicators {
			ind, ok := vrt.IndicatorByName(name)
			if !ok {
				return errors.Errorf("unknown trailer indicator %q", name)
			}
			t = t.Set(ind, v)
		}
		if err := p.SetTrailer(t); err != nil {
			return errors.Wrap(err, "trailer")
		}
	}
	return nil
}

func buildCommand(p *vrt.Packet, cd *CommandDesc) error {
	cmd, _ := p.Command()
	if cd == nil {
		return nil
	}
	cmd.CAM = vrt.CAM(cd.CAM)
	cmd.MessageID = cd.MessageID
	switch {
	case cd.ControlleeUUID != "":
		u, err := uuid.Parse(cd.ControlleeUUID)
		if err != nil {
			return errors.Wrap(err, "controllee uuid")
		}
		cmd.SetControlleeUUID(u)
	case cd.ControlleeID != nil:
		cmd.SetControllee(*cd.ControlleeID)
	}
	switch {
	case cd.ControllerUUID != "":
		u, err := uuid.Parse(cd.ControllerUUID)
		if err != nil {
			return errors.Wrap(err, "controller uuid")
		}
		cmd.SetControllerUUID(u)
	case cd.ControllerID != nil:
		cmd.SetController(*cd.ControllerID)
	}
	p.SetAcknowledge(cd.Acknowledge)
	p.SetCancellation(cd.Cancellation)
	if p.Header.Acknowledge() && !cmd.CAM.Has(vrt.CAMState) {
		// validation or execution acknowledgement: response blocks only
		if cd.Fields != nil {
			return errors.New("acknowledgement carries warnings/errors, not fields")
		}
		cmd.Fields = nil
		if len(cd.Warnings) > 0 {
			cmd.SetWarnings(ackBlock(cd.Warnings))
		}
		if len(cd.Errors) > 0 {
			cmd.SetErrors(ackBlock(cd.Errors))
		}
		return nil
	}
	if len(cd.Warnings) > 0 || len(cd.Errors) > 0 {
		return errors.New("warnings/errors need a non-state acknowledgement")
	}
	if cd.Fields != nil {
		if err := cd.Fields.apply(cmd.Fields); err != nil {
			return err
		}
	}
	return nil
}

func ackBlock(entries []AckDesc) *vrt.AckBlock {
	a := &vrt.AckBlock{}
	for _, e := range entries {
		a.Add(vrt.NewFieldID(e.CIF, e.Bit), vrt.AckResponse(e.Response))
	}
	return a
}

func (bd *BlockDesc) apply(b *vrt.CIFBlock) error {
	if bd.Attributes != nil {
		if err := b.SetAttributes(*bd.Attributes); err != nil {
			return errors.Wrap(err, "attributes")
		}
	}
	b.SetChangeIndicator(bd.ChangeIndicator)
	if bd.ReferencePointID != nil {
		b.SetReferencePointID(*bd.ReferencePointID)
	}
	if bd.BandwidthHz != nil {
		b.SetBandwidthHz(*bd.BandwidthHz)
	}
	if bd.IFReferenceFrequencyHz != nil {
		b.SetIFReferenceFrequencyHz(*bd.IFReferenceFrequencyHz)
	}
	if bd.RFReferenceFrequencyHz != nil {
		b.SetRFReferenceFrequencyHz(*bd.RFReferenceFrequencyHz)
	}
	if bd.ReferenceLevelDBm != nil {
		b.SetReferenceLevelDBm(*bd.ReferenceLevelDBm)
	}
	if bd.Gain != nil {
		b.SetGain(*bd.Gain)
	}
	if bd.SampleRateHz != nil {
		b.SetSampleRateHz(*bd.SampleRateHz)
	}
	if bd.TemperatureC != nil {
		b.SetTemperatureC(*bd.TemperatureC)
	}
	if bd.GPSASCII != "" {
		b.SetGPSASCII(vrt.GPSASCII{Text: bd.GPSASCII})
	}
	for _, f := range bd.Fields {
		id := vrt.NewFieldID(f.CIF, f.Bit)
		if err := b.SetInstances(id, f.Instances); err != nil {
			return errors.Wrapf(err, "field %s", id)
		}
	}
	return nil
}

func parsePacketType(name string) (vrt.PacketType, error) {
	for t := vrt.PacketType(0); t.Valid(); t++ {
		if strings.EqualFold(t.String(), name) {
			return t, nil
		}
	}
	return 0, errors.Wrapf(vrt.ErrInvalidPacketType, "type %q", name)
}

func parseTSI(name string) (vrt.TSI, error) {
	if name == "" {
		return vrt.TSINone, nil
	}
	for t := vrt.TSINone; t <= vrt.TSIOther; t++ {
		if strings.EqualFold(t.String(), name) {
			return t, nil
		}
	}
	return 0, errors.Errorf("unknown tsi %q", name)
}

func parseTSF(name string) (vrt.TSF, error) {
	if name == "" {
		return vrt.TSFNone, nil
	}
	for t := vrt.TSFNone; t <= vrt.TSFFreeRunning; t++ {
		if strings.EqualFold(t.String(), name) {
			return t, nil
		}
	}
	return 0, errors.Errorf("unknown tsf %q", name)
}

var trailerIndicators = []vrt.Indicator{
	vrt.CalibratedTime, vrt.ValidData, vrt.ReferenceLock, vrt.AGC,
	vrt.DetectedSignal, vrt.SpectralInversion, vrt.OverRange, vrt.SampleLoss,
}

// Describe converts a packet into its description. Typed entries are used
// only where they re-encode to the same words, so Build(Describe(p))
// reproduces p.
func Describe(p *vrt.Packet) PacketDesc {
	h := p.Header
	pd := PacketDesc{
		Type:        p.Type().String(),
		StreamID:    p.StreamID,
		PacketCount: h.PacketCount(),
		NotV49d0:    h.NotV49d0(),
		Integer:     p.Timestamp.Integer,
		Fractional:  p.Timestamp.Fractional,
	}
	if p.ClassID != nil {
		c := ClassIDDesc(*p.ClassID)
		pd.ClassID = &c
	}
	if h.TSI() != vrt.TSINone {
		pd.TSI = h.TSI().String()
	}
	if h.TSF() != vrt.TSFNone {
		pd.TSF = h.TSF().String()
	}
	switch pl := p.Payload.(type) {
	case *vrt.SignalPayload:
		pd.Spectral = h.Spectral()
		pd.Payload = hex.EncodeToString(pl.Data)
		if p.Trailer != nil {
			pd.Trailer = describeTrailer(*p.Trailer)
		}
	case *vrt.ContextPayload:
		pd.TimestampMode = h.TimestampMode()
		pd.Context = describeBlock(&pl.CIFBlock)
	case *vrt.CommandPayload:
		pd.Command = describeCommand(pl, h)
	}
	return pd
}

func describeTrailer(t vrt.Trailer) *TrailerDesc {
	td := &TrailerDesc{Raw: uint32(t)}
	for _, ind := range trailerIndicators {
		if v, ok := t.Get(ind); ok {
			if td.Indicators == nil {
				td.Indicators = make(map[string]bool)
			}
			td.Indicators[ind.String()] = v
		}
	}
	return td
}

func describeCommand(c *vrt.CommandPayload, h vrt.Header) *CommandDesc {
	cd := &CommandDesc{
		CAM:          uint32(c.CAM),
		MessageID:    c.MessageID,
		Acknowledge:  h.Acknowledge(),
		Cancellation: h.Cancellation(),
		ControlleeID: c.Controllee.ID,
		ControllerID: c.Controller.ID,
	}
	if c.Controllee.UUID != nil {
		cd.ControlleeUUID = c.Controllee.UUID.String()
	}
	if c.Controller.UUID != nil {
		cd.ControllerUUID = c.Controller.UUID.String()
	}
	if c.Fields != nil {
		cd.Fields = describeBlock(c.Fields)
	}
	cd.Warnings = describeAcks(c.Warnings)
	cd.Errors = describeAcks(c.Errors)
	return cd
}

func describeAcks(a *vrt.AckBlock) []AckDesc {
	if a == nil {
		return nil
	}
	out := make([]AckDesc, 0, len(a.Entries))
	for _, e := range a.Entries {
		out = append(out, AckDesc{CIF: e.ID.CIF(), Bit: e.ID.Bit(), Response: uint32(e.Response)})
	}
	return out
}

func describeBlock(b *vrt.CIFBlock) *BlockDesc {
	bd := &BlockDesc{ChangeIndicator: b.ChangeIndicator()}
	if b.Enabled(7) {
		attrs := b.Attributes
		bd.Attributes = &attrs
	}
	for _, f := range b.Fields {
		if !b.Enabled(7) && describeTyped(bd, f) {
			continue
		}
		bd.Fields = append(bd.Fields, RawField{
			CIF:       f.ID.CIF(),
			Bit:       f.ID.Bit(),
			Name:      f.Name,
			Instances: f.Instances,
		})
	}
	return bd
}

// describeTyped fills the typed entry for f when one exists and is exact.
func describeTyped(bd *BlockDesc, f vrt.Field) bool {
	exact := func(set func(*vrt.CIFBlock)) bool {
		var scratch vrt.CIFBlock
		set(&scratch)
		got, ok := scratch.Field(f.ID)
		return ok && slices.Equal(got.Words(), f.Words())
	}
	switch f.ID {
	case vrt.FieldReferencePointID:
		v := f.Value.(uint32)
		bd.ReferencePointID = &v
		return true
	case vrt.FieldBandwidth, vrt.FieldIFReferenceFrequency, vrt.FieldRFReferenceFrequency,
		vrt.FieldSampleRate, vrt.FieldReferenceLevel, vrt.FieldTemperature:
		v, ok := f.Value.(float64)
		if !ok {
			return false
		}
		var set func(*vrt.CIFBlock)
		var dst **float64
		switch f.ID {
		case vrt.FieldBandwidth:
			set, dst = func(b *vrt.CIFBlock) { b.SetBandwidthHz(v) }, &bd.BandwidthHz
		case vrt.FieldIFReferenceFrequency:
			set, dst = func(b *vrt.CIFBlock) { b.SetIFReferenceFrequencyHz(v) }, &bd.IFReferenceFrequencyHz
		case vrt.FieldRFReferenceFrequency:
			set, dst = func(b *vrt.CIFBlock) { b.SetRFReferenceFrequencyHz(v) }, &bd.RFReferenceFrequencyHz
		case vrt.FieldSampleRate:
			set, dst = func(b *vrt.CIFBlock) { b.SetSampleRateHz(v) }, &bd.SampleRateHz
		case vrt.FieldReferenceLevel:
			set, dst = func(b *vrt.CIFBlock) { b.SetReferenceLevelDBm(v) }, &bd.ReferenceLevelDBm
		default:
			set, dst = func(b *vrt.CIFBlock) { b.SetTemperatureC(v) }, &bd.TemperatureC
		}
		if !exact(set) {
			return false
		}
		*dst = &v
		return true
	case vrt.FieldGain:
		g, ok := f.Value.(vrt.Gain)
		if !ok || !exact(func(b *vrt.CIFBlock) { b.SetGain(g) }) {
			return false
		}
		bd.Gain = &g
		return true
	case vrt.FieldGPSASCII:
		g, ok := f.Value.(vrt.GPSASCII)
		if !ok || g.OUI != 0 || !exact(func(b *vrt.CIFBlock) { b.SetGPSASCII(vrt.GPSASCII{Text: g.Text}) }) {
			return false
		}
		bd.GPSASCII = g.Text
		return true
	}
	return false
}

// Dump writes the description of packets as YAML.
func Dump(w io.Writer, packets []*vrt.Packet) error {
	doc := Document{Packets: make([]PacketDesc, 0, len(packets))}
	for _, p := range packets {
		doc.Packets = append(doc.Packets, Describe(p))
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return errors.Wrap(err, "encode packet description")
	}
	return enc.Close()
}
