package vrt

import (
	"fmt"

	"github.com/google/uuid"
)

// CAM is the control/acknowledge mode word that opens every command payload.
type CAM uint32

const (
	CAMControlleeEnabled  = CAM(1) << 31
	CAMControlleeUUID     = CAM(1) << 30
	CAMControllerEnabled  = CAM(1) << 29
	CAMControllerUUID     = CAM(1) << 28
	CAMPartialPermitted   = CAM(1) << 27
	CAMWarningsPermitted  = CAM(1) << 26
	CAMErrorsPermitted    = CAM(1) << 25
	CAMNackOnly           = CAM(1) << 22
	CAMValidation         = CAM(1) << 20
	CAMExecution          = CAM(1) << 19
	CAMState              = CAM(1) << 18
	CAMWarning            = CAM(1) << 17
	CAMError              = CAM(1) << 16
	CAMPartialAction      = CAM(1) << 11
	CAMScheduledOrExecute = CAM(1) << 10

	camShiftActionMode = 23
	camShiftTiming     = 12
)

// ActionMode is CAM bits 24-23.
type ActionMode uint8

const (
	ActionNone ActionMode = iota
	ActionDryRun
	ActionExecute
)

func (c CAM) Has(flag CAM) bool { return c&flag != 0 }

func (c CAM) With(flag CAM, on bool) CAM {
	if on {
		return c | flag
	}
	return c &^ flag
}

func (c CAM) ActionMode() ActionMode { return ActionMode(uint32(c) >> camShiftActionMode & 0x3) }

func (c CAM) WithActionMode(m ActionMode) CAM {
	return CAM(uint32(c)&^(0x3<<camShiftActionMode) | uint32(m&0x3)<<camShiftActionMode)
}

// TimingControl is CAM bits 14-12.
func (c CAM) TimingControl() uint8 { return uint8(uint32(c) >> camShiftTiming & 0x7) }

func (c CAM) WithTimingControl(t uint8) CAM {
	return CAM(uint32(c)&^(0x7<<camShiftTiming) | uint32(t&0x7)<<camShiftTiming)
}

// Identity is a controllee or controller identifier: a 32-bit ID or a UUID.
type Identity struct {
	ID   *uint32
	UUID *uuid.UUID
}

// AckResponse flags (bits 31-21) reported per field in an acknowledge block.
type AckResponse uint32

const (
	AckFieldNotExecuted       = AckResponse(1) << 31
	AckDeviceFailure          = AckResponse(1) << 30
	AckErroneousField         = AckResponse(1) << 29
	AckParameterOutOfRange    = AckResponse(1) << 28
	AckUnsupportedPrecision   = AckResponse(1) << 27
	AckFieldValueInvalid      = AckResponse(1) << 26
	AckTimestampProblem       = AckResponse(1) << 25
	AckHazardousPower         = AckResponse(1) << 24
	AckDistortion             = AckResponse(1) << 23
	AckInBandPowerCompliance  = AckResponse(1) << 22
	AckOutBandPowerCompliance = AckResponse(1) << 21
)

// AckEntry is the response word for one indicated field.
type AckEntry struct {
	ID       FieldID
	Response AckResponse
}

// AckBlock is a warning or error indicator block of a validation or
// execution acknowledgement.
type AckBlock struct {
	Indicators [4]uint32
	Entries    []AckEntry
}

func (a *AckBlock) enabled(cif uint8) bool {
	switch cif {
	case 0:
		return true
	case 1:
		return a.Indicators[0]&cif0EnableCIF1 != 0
	case 2:
		return a.Indicators[0]&cif0EnableCIF2 != 0
	case 3:
		return a.Indicators[0]&cif0EnableCIF3 != 0
	}
	return false
}

// Add records a response for field id and raises its indicator bit.
func (a *AckBlock) Add(id FieldID, r AckResponse) {
	a.Indicators[id.CIF()] |= uint32(1) << id.Bit()
	switch id.CIF() {
	case 1:
		a.Indicators[0] |= cif0EnableCIF1
	case 2:
		a.Indicators[0] |= cif0EnableCIF2
	case 3:
		a.Indicators[0] |= cif0EnableCIF3
	}
	e := AckEntry{ID: id, Response: r}
	for i, cur := range a.Entries {
		if cur.ID == id {
			a.Entries[i] = e
			return
		}
		if fieldBefore(id, cur.ID) {
			a.Entries = append(a.Entries, AckEntry{})
			copy(a.Entries[i+1:], a.Entries[i:])
			a.Entries[i] = e
			return
		}
	}
	a.Entries = append(a.Entries, e)
}

func (a *AckBlock) wordCount() int {
	n := 1
	for c := uint8(1); c <= 3; c++ {
		if a.enabled(c) {
			n++
		}
	}
	return n + len(a.Entries)
}

func readAckBlock(r *wordReader) (*AckBlock, error) {
	a := &AckBlock{}
	var err error
	if a.Indicators[0], err = r.u32("ack CIF0"); err != nil {
		return nil, err
	}
	for c := uint8(1); c <= 3; c++ {
		if a.enabled(c) {
			if a.Indicators[c], err = r.u32(fmt.Sprintf("ack CIF%d", c)); err != nil {
				return nil, err
			}
		}
	}
	tmp := CIFBlock{Indicators: a.Indicators}
	for c := uint8(0); c <= 3; c++ {
		for _, bit := range tmp.setBits(c) {
			w, err := r.u32("ack response")
			if err != nil {
				return nil, err
			}
			a.Entries = append(a.Entries, AckEntry{ID: NewFieldID(c, bit), Response: AckResponse(w)})
		}
	}
	return a, nil
}

func writeAckBlock(w *wordWriter, a *AckBlock) {
	w.u32(a.Indicators[0])
	for c := uint8(1); c <= 3; c++ {
		if a.enabled(c) {
			w.u32(a.Indicators[c])
		}
	}
	for _, e := range a.Entries {
		w.u32(uint32(e.Response))
	}
}

// CommandPayload is the payload of command and extension command packets.
// Which body is present follows the header and CAM:
//   - control packet: Fields;
//   - cancellation packet: Fields with indicator words only;
//   - query-state acknowledgement (CAM state bit): Fields;
//   - validation or execution acknowledgement: Warnings and/or Errors.
type CommandPayload struct {
	CAM        CAM
	MessageID  uint32
	Controllee Identity
	Controller Identity
	Fields     *CIFBlock
	Warnings   *AckBlock
	Errors     *AckBlock
}

func (*CommandPayload) payloadKind() string { return "command" }

// SetControllee stores a 32-bit controllee ID and updates the CAM.
func (c *CommandPayload) SetControllee(id uint32) {
	c.Controllee = Identity{ID: &id}
	c.CAM = c.CAM.With(CAMControlleeEnabled, true).With(CAMControlleeUUID, false)
}

// SetControlleeUUID stores a 128-bit controllee UUID and updates the CAM.
func (c *CommandPayload) SetControlleeUUID(u uuid.UUID) {
	c.Controllee = Identity{UUID: &u}
	c.CAM = c.CAM.With(CAMControlleeEnabled, true).With(CAMControlleeUUID, true)
}

func (c *CommandPayload) SetController(id uint32) {
	c.Controller = Identity{ID: &id}
	c.CAM = c.CAM.With(CAMControllerEnabled, true).With(CAMControllerUUID, false)
}

func (c *CommandPayload) SetControllerUUID(u uuid.UUID) {
	c.Controller = Identity{UUID: &u}
	c.CAM = c.CAM.With(CAMControllerEnabled, true).With(CAMControllerUUID, true)
}

// SetWarnings attaches a warning block and sets the CAM warning bit.
func (c *CommandPayload) SetWarnings(a *AckBlock) {
	c.Warnings = a
	c.CAM = c.CAM.With(CAMWarning, a != nil)
}

// SetErrors attaches an error block and sets the CAM error bit.
func (c *CommandPayload) SetErrors(a *AckBlock) {
	c.Errors = a
	c.CAM = c.CAM.With(CAMError, a != nil)
}

func readIdentity(r *wordReader, enabled, isUUID bool, field string) (Identity, error) {
	var id Identity
	if !enabled {
		return id, nil
	}
	if isUUID {
		ws, err := r.words(field+" UUID", 4)
		if err != nil {
			return id, err
		}
		u := uuidFromWords(ws)
		id.UUID = &u
		return id, nil
	}
	v, err := r.u32(field + " ID")
	if err != nil {
		return id, err
	}
	id.ID = &v
	return id, nil
}

func writeIdentity(w *wordWriter, id Identity) {
	switch {
	case id.UUID != nil:
		w.words(uuidWords(*id.UUID))
	case id.ID != nil:
		w.u32(*id.ID)
	}
}

func identityWords(id Identity) int {
	switch {
	case id.UUID != nil:
		return 4
	case id.ID != nil:
		return 1
	}
	return 0
}

func readCommand(r *wordReader, h Header, sc sizeCtx) (*CommandPayload, error) {
	c := &CommandPayload{}
	w, err := r.u32("CAM")
	if err != nil {
		return nil, err
	}
	c.CAM = CAM(w)
	if c.MessageID, err = r.u32("message ID"); err != nil {
		return nil, err
	}
	if c.Controllee, err = readIdentity(r, c.CAM.Has(CAMControlleeEnabled), c.CAM.Has(CAMControlleeUUID), "controllee"); err != nil {
		return nil, err
	}
	if c.Controller, err = readIdentity(r, c.CAM.Has(CAMControllerEnabled), c.CAM.Has(CAMControllerUUID), "controller"); err != nil {
		return nil, err
	}
	switch {
	case h.Cancellation():
		b := &CIFBlock{}
		if err := readIndicators(r, b); err != nil {
			return nil, err
		}
		c.Fields = b
	case h.Acknowledge() && !c.CAM.Has(CAMState):
		if c.CAM.Has(CAMWarning) {
			if c.Warnings, err = readAckBlock(r); err != nil {
				return nil, err
			}
		}
		if c.CAM.Has(CAMError) {
			if c.Errors, err = readAckBlock(r); err != nil {
				return nil, err
			}
		}
	default:
		if c.Fields, err = readCIFBlock(r, sc); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func writeCommand(w *wordWriter, c *CommandPayload, h Header) {
	w.u32(uint32(c.CAM))
	w.u32(c.MessageID)
	writeIdentity(w, c.Controllee)
	writeIdentity(w, c.Controller)
	switch {
	case h.Cancellation():
		if c.Fields != nil {
			writeIndicators(w, c.Fields)
		} else {
			w.u32(0)
		}
	case h.Acknowledge() && !c.CAM.Has(CAMState):
		if c.Warnings != nil {
			writeAckBlock(w, c.Warnings)
		}
		if c.Errors != nil {
			writeAckBlock(w, c.Errors)
		}
	default:
		if c.Fields != nil {
			writeCIFBlock(w, c.Fields)
		} else {
			w.u32(0)
		}
	}
}

func commandWords(c *CommandPayload, h Header) int {
	n := 2 + identityWords(c.Controllee) + identityWords(c.Controller)
	switch {
	case h.Cancellation():
		if c.Fields != nil {
			n += c.Fields.indicatorWords()
		} else {
			n++
		}
	case h.Acknowledge() && !c.CAM.Has(CAMState):
		if c.Warnings != nil {
			n += c.Warnings.wordCount()
		}
		if c.Errors != nil {
			n += c.Errors.wordCount()
		}
	default:
		if c.Fields != nil {
			n += c.Fields.wordCount()
		} else {
			n++
		}
	}
	return n
}
