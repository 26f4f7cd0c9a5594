package vrt

import (
	"fmt"
	"math/bits"
)

// FieldID names a context field by indicator word (CIF 0-3, bits 15-8) and
// bit position (bits 7-0).
type FieldID uint16

func NewFieldID(cif, bit uint8) FieldID { return FieldID(uint16(cif)<<8 | uint16(bit)) }

func (id FieldID) CIF() uint8 { return uint8(id >> 8) }
func (id FieldID) Bit() uint8 { return uint8(id) }

func (id FieldID) String() string {
	if s := specByID[id]; s != nil {
		return s.name
	}
	return fmt.Sprintf("CIF%d bit %d", id.CIF(), id.Bit())
}

const (
	FieldReferencePointID       FieldID = 0<<8 | 30
	FieldBandwidth              FieldID = 0<<8 | 29
	FieldIFReferenceFrequency   FieldID = 0<<8 | 28
	FieldRFReferenceFrequency   FieldID = 0<<8 | 27
	FieldRFFrequencyOffset      FieldID = 0<<8 | 26
	FieldIFBandOffset           FieldID = 0<<8 | 25
	FieldReferenceLevel         FieldID = 0<<8 | 24
	FieldGain                   FieldID = 0<<8 | 23
	FieldOverRangeCount         FieldID = 0<<8 | 22
	FieldSampleRate             FieldID = 0<<8 | 21
	FieldTimestampAdjustment    FieldID = 0<<8 | 20
	FieldTimestampCalibration   FieldID = 0<<8 | 19
	FieldTemperature            FieldID = 0<<8 | 18
	FieldDeviceID               FieldID = 0<<8 | 17
	FieldStateEventIndicators   FieldID = 0<<8 | 16
	FieldPayloadFormat          FieldID = 0<<8 | 15
	FieldFormattedGPS           FieldID = 0<<8 | 14
	FieldFormattedINS           FieldID = 0<<8 | 13
	FieldECEFEphemeris          FieldID = 0<<8 | 12
	FieldRelativeEphemeris      FieldID = 0<<8 | 11
	FieldEphemerisReferenceID   FieldID = 0<<8 | 10
	FieldGPSASCII               FieldID = 0<<8 | 9
	FieldContextAssociationList FieldID = 0<<8 | 8

	FieldPhaseOffset       FieldID = 1<<8 | 31
	FieldPolarization      FieldID = 1<<8 | 30
	FieldPointingVector    FieldID = 1<<8 | 29
	FieldPointingStructure FieldID = 1<<8 | 28
	FieldSpatialScanType   FieldID = 1<<8 | 27
	FieldSpatialReference  FieldID = 1<<8 | 26
	FieldBeamWidths        FieldID = 1<<8 | 25
	FieldRange             FieldID = 1<<8 | 24
	FieldEbNoBER           FieldID = 1<<8 | 20
	FieldThreshold         FieldID = 1<<8 | 19
	FieldCompressionPoint  FieldID = 1<<8 | 18
	FieldInterceptPoints   FieldID = 1<<8 | 17
	FieldSNRNoiseFigure    FieldID = 1<<8 | 16
	FieldAuxFrequency      FieldID = 1<<8 | 15
	FieldAuxGain           FieldID = 1<<8 | 14
	FieldAuxBandwidth      FieldID = 1<<8 | 13
	FieldArrayOfCIFs       FieldID = 1<<8 | 11
	FieldSpectrum          FieldID = 1<<8 | 10
	FieldSectorScan        FieldID = 1<<8 | 9
	FieldIndexList         FieldID = 1<<8 | 7
	FieldDiscreteIO32      FieldID = 1<<8 | 6
	FieldDiscreteIO64      FieldID = 1<<8 | 5
	FieldHealthStatus      FieldID = 1<<8 | 4
	FieldSpecCompliance    FieldID = 1<<8 | 3
	FieldVersionBuildCode  FieldID = 1<<8 | 2
	FieldBufferSize        FieldID = 1<<8 | 1

	FieldControlleeID   FieldID = 2<<8 | 25
	FieldControlleeUUID FieldID = 2<<8 | 24
	FieldControllerID   FieldID = 2<<8 | 23
	FieldControllerUUID FieldID = 2<<8 | 22

	FieldAge       FieldID = 3<<8 | 17
	FieldShelfLife FieldID = 3<<8 | 16
)

// CIF0 bits that carry no field data.
const (
	cif0ChangeIndicator = uint32(1) << 31
	cif0FieldAttributes = uint32(1) << 7
	cif0EnableCIF3      = uint32(1) << 3
	cif0EnableCIF2      = uint32(1) << 2
	cif0EnableCIF1      = uint32(1) << 1
	cif0NonData         = cif0ChangeIndicator | cif0FieldAttributes | cif0EnableCIF3 | cif0EnableCIF2 | cif0EnableCIF1

	// CIF7 attribute bits 31-19.
	cif7AttributeMask = uint32(0xFFF80000)
	cif7Current       = uint32(1) << 31
)

// sizeCtx carries what variable-size rules need beyond the field words.
type sizeCtx struct {
	tsWords int // words of a header-shaped timestamp
}

type peekFunc func(i int) (uint32, error)

type fieldSpec struct {
	id    FieldID
	name  string
	words int
	size  func(peek peekFunc, sc sizeCtx) (int, error)
	value func([]uint32) any
}

func (s *fieldSpec) sizeOf(peek peekFunc, sc sizeCtx) (int, error) {
	if s.size == nil {
		return s.words, nil
	}
	return s.size(peek, sc)
}

func gpsASCIISize(peek peekFunc, _ sizeCtx) (int, error) {
	n, err := peek(1)
	if err != nil {
		return 0, err
	}
	return 2 + int(n), nil
}

func assocListSize(peek peekFunc, _ sizeCtx) (int, error) {
	w1, err := peek(0)
	if err != nil {
		return 0, err
	}
	w2, err := peek(1)
	if err != nil {
		return 0, err
	}
	return associationListsSize(w1, w2), nil
}

// recordSize reads the total field size from bits 19-0 of the first word of
// an array-of-records field. The count includes that word.
func recordSize(peek peekFunc, _ sizeCtx) (int, error) {
	w, err := peek(0)
	if err != nil {
		return 0, err
	}
	n := int(w & 0xFFFFF)
	if n < 1 {
		n = 1
	}
	return n, nil
}

func timestampSize(_ peekFunc, sc sizeCtx) (int, error) { return sc.tsWords, nil }

func radix7Value(w []uint32) any { return fixedToFloat(int64(low16(w[0])), 7) }

// cifTables lists the fields of CIF0-CIF3 in wire order (descending bit).
var cifTables = [4][]fieldSpec{
	{
		{id: FieldReferencePointID, name: "reference point ID", words: 1, value: u32Value},
		{id: FieldBandwidth, name: "bandwidth", words: 2, value: hzValue},
		{id: FieldIFReferenceFrequency, name: "IF reference frequency", words: 2, value: hzValue},
		{id: FieldRFReferenceFrequency, name: "RF reference frequency", words: 2, value: hzValue},
		{id: FieldRFFrequencyOffset, name: "RF reference frequency offset", words: 2, value: hzValue},
		{id: FieldIFBandOffset, name: "IF band offset", words: 2, value: hzValue},
		{id: FieldReferenceLevel, name: "reference level", words: 1, value: dbmValue},
		{id: FieldGain, name: "gain", words: 1, value: gainValue},
		{id: FieldOverRangeCount, name: "over-range count", words: 1, value: u32Value},
		{id: FieldSampleRate, name: "sample rate", words: 2, value: hzValue},
		{id: FieldTimestampAdjustment, name: "timestamp adjustment", words: 2, value: i64Value},
		{id: FieldTimestampCalibration, name: "timestamp calibration time", words: 1, value: u32Value},
		{id: FieldTemperature, name: "temperature", words: 1, value: celsiusValue},
		{id: FieldDeviceID, name: "device ID", words: 2, value: deviceIDValue},
		{id: FieldStateEventIndicators, name: "state/event indicators", words: 1, value: u32Value},
		{id: FieldPayloadFormat, name: "data packet payload format", words: 2, value: payloadFormatValue},
		{id: FieldFormattedGPS, name: "formatted GPS", words: 11, value: geolocationValue},
		{id: FieldFormattedINS, name: "formatted INS", words: 11, value: geolocationValue},
		{id: FieldECEFEphemeris, name: "ECEF ephemeris", words: 13, value: ephemerisValue},
		{id: FieldRelativeEphemeris, name: "relative ephemeris", words: 13, value: ephemerisValue},
		{id: FieldEphemerisReferenceID, name: "ephemeris reference ID", words: 1, value: u32Value},
		{id: FieldGPSASCII, name: "GPS ASCII", size: gpsASCIISize, value: gpsASCIIValue},
		{id: FieldContextAssociationList, name: "context association lists", size: assocListSize, value: assocValue},
	},
	{
		{id: FieldPhaseOffset, name: "phase offset", words: 1, value: radix7Value},
		{id: FieldPolarization, name: "polarization", words: 1},
		{id: FieldPointingVector, name: "3-D pointing vector", words: 1},
		{id: FieldPointingStructure, name: "3-D pointing vector structure", size: recordSize},
		{id: FieldSpatialScanType, name: "spatial scan type", words: 1, value: u32Value},
		{id: FieldSpatialReference, name: "spatial reference type", words: 1, value: u32Value},
		{id: FieldBeamWidths, name: "beam widths", words: 1},
		{id: FieldRange, name: "range", words: 1},
		{id: FieldEbNoBER, name: "Eb/No and BER", words: 1},
		{id: FieldThreshold, name: "threshold", words: 1, value: gainValue},
		{id: FieldCompressionPoint, name: "compression point", words: 1},
		{id: FieldInterceptPoints, name: "intercept points", words: 1},
		{id: FieldSNRNoiseFigure, name: "SNR/noise figure", words: 1},
		{id: FieldAuxFrequency, name: "aux frequency", words: 2, value: hzValue},
		{id: FieldAuxGain, name: "aux gain", words: 1, value: gainValue},
		{id: FieldAuxBandwidth, name: "aux bandwidth", words: 2, value: hzValue},
		{id: FieldArrayOfCIFs, name: "array of CIFs", size: recordSize},
		{id: FieldSpectrum, name: "spectrum", words: 13, value: spectrumValue},
		{id: FieldSectorScan, name: "sector/step scan", size: recordSize},
		{id: FieldIndexList, name: "index list", size: recordSize},
		{id: FieldDiscreteIO32, name: "discrete I/O 32", words: 1, value: u32Value},
		{id: FieldDiscreteIO64, name: "discrete I/O 64", words: 2, value: u64Value},
		{id: FieldHealthStatus, name: "health status", words: 1, value: u32Value},
		{id: FieldSpecCompliance, name: "V49 spec compliance", words: 1, value: u32Value},
		{id: FieldVersionBuildCode, name: "version and build code", words: 1, value: u32Value},
		{id: FieldBufferSize, name: "buffer size", words: 2, value: u64Value},
	},
	cif2Table(),
	{
		{id: 3<<8 | 31, name: "timestamp details", words: 2, value: u64Value},
		{id: 3<<8 | 30, name: "timestamp skew", words: 2, value: i64Value},
		{id: 3<<8 | 27, name: "rise time", words: 2, value: i64Value},
		{id: 3<<8 | 26, name: "fall time", words: 2, value: i64Value},
		{id: 3<<8 | 25, name: "offset time", words: 2, value: i64Value},
		{id: 3<<8 | 24, name: "pulse width", words: 2, value: i64Value},
		{id: 3<<8 | 23, name: "period", words: 2, value: i64Value},
		{id: 3<<8 | 22, name: "duration", words: 2, value: i64Value},
		{id: 3<<8 | 21, name: "dwell", words: 2, value: i64Value},
		{id: 3<<8 | 20, name: "jitter", words: 2, value: i64Value},
		{id: FieldAge, name: "age", size: timestampSize},
		{id: FieldShelfLife, name: "shelf life", size: timestampSize},
		{id: 3<<8 | 7, name: "air temperature", words: 1, value: celsiusValue},
		{id: 3<<8 | 6, name: "ground temperature", words: 1, value: celsiusValue},
		{id: 3<<8 | 5, name: "humidity", words: 1, value: u32Value},
		{id: 3<<8 | 4, name: "barometric pressure", words: 1, value: u32Value},
		{id: 3<<8 | 3, name: "sea and swell state", words: 1, value: u32Value},
		{id: 3<<8 | 2, name: "tropospheric state", words: 1, value: u32Value},
		{id: 3<<8 | 1, name: "network ID", words: 1, value: u32Value},
	},
}

func cif2Table() []fieldSpec {
	names := []string{
		"bind", "cited SID", "sibling SID", "parent SID", "child SID",
		"cited message ID", "controllee ID", "controllee UUID", "controller ID",
		"controller UUID", "information source", "track ID", "country code",
		"operator", "platform class", "platform instance", "platform display",
		"EMS device class", "EMS device type", "EMS device instance",
		"modulation class", "modulation type", "function ID", "mode ID",
		"event ID", "function priority ID", "communication priority ID",
		"RF footprint", "RF footprint range",
	}
	out := make([]fieldSpec, 0, len(names))
	for i, name := range names {
		id := NewFieldID(2, uint8(31-i))
		spec := fieldSpec{id: id, name: name, words: 1, value: u32Value}
		if id == FieldControlleeUUID || id == FieldControllerUUID {
			spec.words = 4
			spec.value = uuidValue
		}
		out = append(out, spec)
	}
	return out
}

var specByID = func() map[FieldID]*fieldSpec {
	m := make(map[FieldID]*fieldSpec)
	for c := range cifTables {
		for i := range cifTables[c] {
			m[cifTables[c][i].id] = &cifTables[c][i]
		}
	}
	return m
}()

// Field is one decoded context field. Instances holds the raw words of each
// occurrence: one, or one per CIF7 attribute. Value is the typed reading of
// the first instance, or nil when the field has no typed decoder and is kept
// as opaque words.
type Field struct {
	ID        FieldID
	Name      string
	Instances [][]uint32
	Value     any
}

// Opaque reports whether the field is carried only as raw words.
func (f Field) Opaque() bool { return f.Value == nil }

// Words returns the first instance.
func (f Field) Words() []uint32 {
	if len(f.Instances) == 0 {
		return nil
	}
	return f.Instances[0]
}

func (f Field) wordCount() int {
	n := 0
	for _, in := range f.Instances {
		n += len(in)
	}
	return n
}

// CIFBlock is a context or command field block: indicator words followed by
// the fields they select.
type CIFBlock struct {
	Indicators [4]uint32 // CIF0-CIF3; CIF1-3 are on the wire when enabled in CIF0
	Attributes uint32    // CIF7, on the wire when CIF0 bit 7 is set
	Fields     []Field
}

// Enabled reports whether indicator word cif is present.
func (b *CIFBlock) Enabled(cif uint8) bool {
	switch cif {
	case 0:
		return true
	case 1:
		return b.Indicators[0]&cif0EnableCIF1 != 0
	case 2:
		return b.Indicators[0]&cif0EnableCIF2 != 0
	case 3:
		return b.Indicators[0]&cif0EnableCIF3 != 0
	case 7:
		return b.Indicators[0]&cif0FieldAttributes != 0
	}
	return false
}

// ChangeIndicator returns CIF0 bit 31.
func (b *CIFBlock) ChangeIndicator() bool { return b.Indicators[0]&cif0ChangeIndicator != 0 }

func (b *CIFBlock) SetChangeIndicator(on bool) {
	if on {
		b.Indicators[0] |= cif0ChangeIndicator
	} else {
		b.Indicators[0] &^= cif0ChangeIndicator
	}
}

// instances returns how many times each present field repeats.
func (b *CIFBlock) instances() int {
	if !b.Enabled(7) {
		return 1
	}
	return bits.OnesCount32(b.Attributes & cif7AttributeMask)
}

// Has reports whether the indicator bit for id is set.
func (b *CIFBlock) Has(id FieldID) bool {
	if id.CIF() > 3 || !b.Enabled(id.CIF()) {
		return false
	}
	return b.Indicators[id.CIF()]&(uint32(1)<<id.Bit()) != 0
}

// Field returns the field for id, if present.
func (b *CIFBlock) Field(id FieldID) (Field, bool) {
	for _, f := range b.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

func (b *CIFBlock) indicatorWords() int {
	n := 1
	for _, c := range []uint8{1, 2, 3, 7} {
		if b.Enabled(c) {
			n++
		}
	}
	return n
}

func (b *CIFBlock) wordCount() int {
	n := b.indicatorWords()
	for _, f := range b.Fields {
		n += f.wordCount()
	}
	return n
}

func readIndicators(r *wordReader, b *CIFBlock) error {
	var err error
	if b.Indicators[0], err = r.u32("CIF0"); err != nil {
		return err
	}
	for c := uint8(1); c <= 3; c++ {
		if b.Enabled(c) {
			if b.Indicators[c], err = r.u32(fmt.Sprintf("CIF%d", c)); err != nil {
				return err
			}
		}
	}
	if b.Enabled(7) {
		if b.Attributes, err = r.u32("CIF7"); err != nil {
			return err
		}
	}
	return nil
}

func writeIndicators(w *wordWriter, b *CIFBlock) {
	w.u32(b.Indicators[0])
	for c := uint8(1); c <= 3; c++ {
		if b.Enabled(c) {
			w.u32(b.Indicators[c])
		}
	}
	if b.Enabled(7) {
		w.u32(b.Attributes)
	}
}

// setBits lists the data-carrying bits of indicator word cif, most
// significant first.
func (b *CIFBlock) setBits(cif uint8) []uint8 {
	if !b.Enabled(cif) {
		return nil
	}
	word := b.Indicators[cif]
	if cif == 0 {
		word &^= cif0NonData
	}
	var out []uint8
	for word != 0 {
		bit := uint8(31 - bits.LeadingZeros32(word))
		out = append(out, bit)
		word &^= uint32(1) << bit
	}
	return out
}

func readCIFBlock(r *wordReader, sc sizeCtx) (*CIFBlock, error) {
	b := &CIFBlock{}
	if err := readIndicators(r, b); err != nil {
		return nil, err
	}
	if err := readCIFFields(r, b, sc); err != nil {
		return nil, err
	}
	return b, nil
}

func readCIFFields(r *wordReader, b *CIFBlock, sc sizeCtx) error {
	count := b.instances()
	for c := uint8(0); c <= 3; c++ {
		for _, bit := range b.setBits(c) {
			id := NewFieldID(c, bit)
			spec := specByID[id]
			if spec == nil {
				return newDecodeError(UnsupportedContextField, r.offset(), id.String(),
					"no size known for indicator bit")
			}
			f := Field{ID: id, Name: spec.name, Instances: make([][]uint32, 0, count)}
			for i := 0; i < count; i++ {
				n, err := spec.sizeOf(func(k int) (uint32, error) { return r.peek(spec.name, k) }, sc)
				if err != nil {
					return err
				}
				ws, err := r.words(spec.name, n)
				if err != nil {
					return err
				}
				f.Instances = append(f.Instances, ws)
			}
			if spec.value != nil && len(f.Instances) > 0 {
				f.Value = spec.value(f.Instances[0])
			}
			b.Fields = append(b.Fields, f)
		}
	}
	return nil
}

func writeCIFBlock(w *wordWriter, b *CIFBlock) {
	writeIndicators(w, b)
	for _, f := range b.Fields {
		for _, in := range f.Instances {
			w.words(in)
		}
	}
}

// Set stores words as the single instance of field id, raising its
// indicator bit and enabling its CIF word. The word count must match the
// field's size rule.
func (b *CIFBlock) Set(id FieldID, words []uint32) error {
	return b.SetInstances(id, [][]uint32{words})
}

// SetInstances stores one instance per CIF7 attribute.
func (b *CIFBlock) SetInstances(id FieldID, instances [][]uint32) error {
	spec := specByID[id]
	if spec == nil {
		return fmt.Errorf("set %s: %w", id, ErrUnsupportedContextField)
	}
	if len(instances) != b.instances() {
		return fmt.Errorf("set %s: %d instances, attributes require %d", id, len(instances), b.instances())
	}
	for _, in := range instances {
		if spec.size != nil && spec.words == 0 && id != FieldAge && id != FieldShelfLife {
			n, err := spec.sizeOf(func(k int) (uint32, error) {
				if k >= len(in) {
					return 0, ErrTruncatedInput
				}
				return in[k], nil
			}, sizeCtx{})
			if err != nil {
				return fmt.Errorf("set %s: %w", id, err)
			}
			if n != len(in) {
				return fmt.Errorf("set %s: size rule gives %d words, have %d", id, n, len(in))
			}
		} else if spec.size == nil && len(in) != spec.words {
			return fmt.Errorf("set %s: want %d words, have %d", id, spec.words, len(in))
		}
	}
	f := Field{ID: id, Name: spec.name, Instances: make([][]uint32, len(instances))}
	for i, in := range instances {
		f.Instances[i] = append([]uint32(nil), in...)
	}
	if spec.value != nil && len(f.Instances) > 0 {
		f.Value = spec.value(f.Instances[0])
	}
	b.Indicators[id.CIF()] |= uint32(1) << id.Bit()
	switch id.CIF() {
	case 1:
		b.Indicators[0] |= cif0EnableCIF1
	case 2:
		b.Indicators[0] |= cif0EnableCIF2
	case 3:
		b.Indicators[0] |= cif0EnableCIF3
	}
	b.insert(f)
	return nil
}

func (b *CIFBlock) insert(f Field) {
	for i, cur := range b.Fields {
		if cur.ID == f.ID {
			b.Fields[i] = f
			return
		}
		if fieldBefore(f.ID, cur.ID) {
			b.Fields = append(b.Fields, Field{})
			copy(b.Fields[i+1:], b.Fields[i:])
			b.Fields[i] = f
			return
		}
	}
	b.Fields = append(b.Fields, f)
}

// fieldBefore orders fields as they appear on the wire.
func fieldBefore(a, c FieldID) bool {
	if a.CIF() != c.CIF() {
		return a.CIF() < c.CIF()
	}
	return a.Bit() > c.Bit()
}

// Remove clears the field and its indicator bit.
func (b *CIFBlock) Remove(id FieldID) {
	if id.CIF() > 3 {
		return
	}
	b.Indicators[id.CIF()] &^= uint32(1) << id.Bit()
	for i, f := range b.Fields {
		if f.ID == id {
			b.Fields = append(b.Fields[:i], b.Fields[i+1:]...)
			return
		}
	}
}

// SetAttributes enables CIF7 with the given attribute bits. It fails when
// fields are already present, since their instance count would change.
func (b *CIFBlock) SetAttributes(attrs uint32) error {
	if len(b.Fields) > 0 {
		return fmt.Errorf("set CIF7: %d fields already present", len(b.Fields))
	}
	b.Indicators[0] |= cif0FieldAttributes
	b.Attributes = attrs
	return nil
}
