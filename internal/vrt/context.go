package vrt

import "github.com/google/uuid"

// ContextPayload is the payload of context and extension context packets.
type ContextPayload struct {
	CIFBlock
}

func (*ContextPayload) payloadKind() string { return "context" }

func fieldValue[T any](b *CIFBlock, id FieldID) (T, bool) {
	var zero T
	f, ok := b.Field(id)
	if !ok {
		return zero, false
	}
	v, ok := f.Value.(T)
	return v, ok
}

// mustSet is used by typed setters, whose words always match the size rule.
// With field attributes enabled every instance receives the same words; use
// SetInstances for distinct attribute values.
func (b *CIFBlock) mustSet(id FieldID, words []uint32) {
	in := make([][]uint32, b.instances())
	for i := range in {
		in[i] = words
	}
	if err := b.SetInstances(id, in); err != nil {
		panic(err)
	}
}

func (b *CIFBlock) ReferencePointID() (uint32, bool) {
	return fieldValue[uint32](b, FieldReferencePointID)
}

func (b *CIFBlock) SetReferencePointID(id uint32) {
	b.mustSet(FieldReferencePointID, []uint32{id})
}

func (b *CIFBlock) BandwidthHz() (float64, bool) { return fieldValue[float64](b, FieldBandwidth) }

func (b *CIFBlock) SetBandwidthHz(hz float64) { b.mustSet(FieldBandwidth, hzWords(hz)) }

func (b *CIFBlock) IFReferenceFrequencyHz() (float64, bool) {
	return fieldValue[float64](b, FieldIFReferenceFrequency)
}

func (b *CIFBlock) SetIFReferenceFrequencyHz(hz float64) {
	b.mustSet(FieldIFReferenceFrequency, hzWords(hz))
}

func (b *CIFBlock) RFReferenceFrequencyHz() (float64, bool) {
	return fieldValue[float64](b, FieldRFReferenceFrequency)
}

func (b *CIFBlock) SetRFReferenceFrequencyHz(hz float64) {
	b.mustSet(FieldRFReferenceFrequency, hzWords(hz))
}

func (b *CIFBlock) RFFrequencyOffsetHz() (float64, bool) {
	return fieldValue[float64](b, FieldRFFrequencyOffset)
}

func (b *CIFBlock) SetRFFrequencyOffsetHz(hz float64) {
	b.mustSet(FieldRFFrequencyOffset, hzWords(hz))
}

func (b *CIFBlock) IFBandOffsetHz() (float64, bool) {
	return fieldValue[float64](b, FieldIFBandOffset)
}

func (b *CIFBlock) SetIFBandOffsetHz(hz float64) { b.mustSet(FieldIFBandOffset, hzWords(hz)) }

func (b *CIFBlock) ReferenceLevelDBm() (float64, bool) {
	return fieldValue[float64](b, FieldReferenceLevel)
}

func (b *CIFBlock) SetReferenceLevelDBm(dbm float64) {
	b.mustSet(FieldReferenceLevel, dbmWords(dbm))
}

func (b *CIFBlock) Gain() (Gain, bool) { return fieldValue[Gain](b, FieldGain) }

func (b *CIFBlock) SetGain(g Gain) { b.mustSet(FieldGain, []uint32{g.word()}) }

func (b *CIFBlock) OverRangeCount() (uint32, bool) {
	return fieldValue[uint32](b, FieldOverRangeCount)
}

func (b *CIFBlock) SetOverRangeCount(n uint32) { b.mustSet(FieldOverRangeCount, []uint32{n}) }

func (b *CIFBlock) SampleRateHz() (float64, bool) { return fieldValue[float64](b, FieldSampleRate) }

func (b *CIFBlock) SetSampleRateHz(hz float64) { b.mustSet(FieldSampleRate, hzWords(hz)) }

// TimestampAdjustment is in femtoseconds.
func (b *CIFBlock) TimestampAdjustment() (int64, bool) {
	return fieldValue[int64](b, FieldTimestampAdjustment)
}

func (b *CIFBlock) SetTimestampAdjustment(fs int64) {
	b.mustSet(FieldTimestampAdjustment, split64(uint64(fs)))
}

func (b *CIFBlock) TimestampCalibrationTime() (uint32, bool) {
	return fieldValue[uint32](b, FieldTimestampCalibration)
}

func (b *CIFBlock) SetTimestampCalibrationTime(s uint32) {
	b.mustSet(FieldTimestampCalibration, []uint32{s})
}

func (b *CIFBlock) TemperatureC() (float64, bool) {
	return fieldValue[float64](b, FieldTemperature)
}

func (b *CIFBlock) SetTemperatureC(c float64) { b.mustSet(FieldTemperature, celsiusWords(c)) }

func (b *CIFBlock) DeviceID() (DeviceID, bool) { return fieldValue[DeviceID](b, FieldDeviceID) }

func (b *CIFBlock) SetDeviceID(d DeviceID) { b.mustSet(FieldDeviceID, d.words()) }

func (b *CIFBlock) StateEventIndicators() (uint32, bool) {
	return fieldValue[uint32](b, FieldStateEventIndicators)
}

func (b *CIFBlock) SetStateEventIndicators(w uint32) {
	b.mustSet(FieldStateEventIndicators, []uint32{w})
}

func (b *CIFBlock) PayloadFormat() (PayloadFormat, bool) {
	return fieldValue[PayloadFormat](b, FieldPayloadFormat)
}

func (b *CIFBlock) SetPayloadFormat(f PayloadFormat) { b.mustSet(FieldPayloadFormat, f.words()) }

func (b *CIFBlock) FormattedGPS() (Geolocation, bool) {
	return fieldValue[Geolocation](b, FieldFormattedGPS)
}

func (b *CIFBlock) SetFormattedGPS(g Geolocation) { b.mustSet(FieldFormattedGPS, g.words()) }

func (b *CIFBlock) FormattedINS() (Geolocation, bool) {
	return fieldValue[Geolocation](b, FieldFormattedINS)
}

func (b *CIFBlock) SetFormattedINS(g Geolocation) { b.mustSet(FieldFormattedINS, g.words()) }

func (b *CIFBlock) ECEFEphemeris() (Ephemeris, bool) {
	return fieldValue[Ephemeris](b, FieldECEFEphemeris)
}

func (b *CIFBlock) SetECEFEphemeris(e Ephemeris) { b.mustSet(FieldECEFEphemeris, e.words()) }

func (b *CIFBlock) RelativeEphemeris() (Ephemeris, bool) {
	return fieldValue[Ephemeris](b, FieldRelativeEphemeris)
}

func (b *CIFBlock) SetRelativeEphemeris(e Ephemeris) {
	b.mustSet(FieldRelativeEphemeris, e.words())
}

func (b *CIFBlock) GPSASCII() (GPSASCII, bool) { return fieldValue[GPSASCII](b, FieldGPSASCII) }

func (b *CIFBlock) SetGPSASCII(g GPSASCII) { b.mustSet(FieldGPSASCII, g.words()) }

func (b *CIFBlock) AssociationLists() (AssociationLists, bool) {
	return fieldValue[AssociationLists](b, FieldContextAssociationList)
}

// SetAssociationLists fails when a list exceeds the width of its count.
func (b *CIFBlock) SetAssociationLists(a AssociationLists) error {
	if err := a.check(); err != nil {
		return err
	}
	b.mustSet(FieldContextAssociationList, a.words())
	return nil
}

func (b *CIFBlock) PhaseOffsetRad() (float64, bool) {
	return fieldValue[float64](b, FieldPhaseOffset)
}

func (b *CIFBlock) Threshold() (Gain, bool) { return fieldValue[Gain](b, FieldThreshold) }

func (b *CIFBlock) SetThreshold(g Gain) { b.mustSet(FieldThreshold, []uint32{g.word()}) }

func (b *CIFBlock) Spectrum() (Spectrum, bool) { return fieldValue[Spectrum](b, FieldSpectrum) }

func (b *CIFBlock) SetSpectrum(s Spectrum) { b.mustSet(FieldSpectrum, s.words()) }

func (b *CIFBlock) ControlleeUUID() (uuid.UUID, bool) {
	return fieldValue[uuid.UUID](b, FieldControlleeUUID)
}

func (b *CIFBlock) SetControlleeUUID(u uuid.UUID) { b.mustSet(FieldControlleeUUID, uuidWords(u)) }

func (b *CIFBlock) ControllerUUID() (uuid.UUID, bool) {
	return fieldValue[uuid.UUID](b, FieldControllerUUID)
}

func (b *CIFBlock) SetControllerUUID(u uuid.UUID) { b.mustSet(FieldControllerUUID, uuidWords(u)) }
