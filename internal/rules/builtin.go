package rules

import (
	"errors"
	"fmt"
	"time"

	"example.com/vrtgate/internal/vrt"
)

func intPtr(v int) *int { return &v }

func uint64Ptr(v uint64) *uint64 { return &v }

func stringPtr(s string) *string { return &s }

var builtinChecks = map[string]CheckFunc{
	"CheckDecodes":          CheckDecodes,
	"CheckPacketCount":      CheckPacketCount,
	"CheckTimestampOrder":   CheckTimestampOrder,
	"CheckTrailerIndicator": CheckTrailerIndicator,
	"CheckContextPresent":   CheckContextPresent,
	"CheckClassID":          CheckClassID,
}

func (e *Engine) RegisterBuiltins() {
	for name, f := range builtinChecks {
		e.Register(name, f)
	}
}

// Validate rejects a pack with a duplicate rule ID, an unknown severity or a
// check that is not built in.
func (rp RulePack) Validate() error {
	seen := make(map[string]bool, len(rp.Rules))
	for _, r := range rp.Rules {
		switch {
		case r.RuleId == "":
			return errors.New("rule without ruleId")
		case seen[r.RuleId]:
			return fmt.Errorf("duplicate rule %s", r.RuleId)
		case r.Severity != ERROR && r.Severity != WARN && r.Severity != INFO:
			return fmt.Errorf("rule %s: unknown severity %q", r.RuleId, r.Severity)
		case builtinChecks[r.Check] == nil:
			return fmt.Errorf("rule %s: unknown check %q", r.RuleId, r.Check)
		}
		seen[r.RuleId] = true
	}
	return nil
}

// DefaultRulePack is used when no rule pack is given.
func DefaultRulePack() RulePack {
	return RulePack{
		RulePackId: "vrt-baseline",
		Version:    "1.0.0",
		Profile:    "vita49.2",
		Rules: []Rule{
			{RuleId: "RP-VRT-0001", Name: "file decodes", Scope: "file", Severity: ERROR,
				Check: "CheckDecodes", Refs: []string{"VITA 49.2 5.1"},
				Message: "file decodes as back-to-back VRT packets"},
			{RuleId: "RP-VRT-0002", Name: "packet count continuity", Scope: "stream", Severity: WARN,
				Check: "CheckPacketCount", Refs: []string{"VITA 49.2 5.1.1.5"},
				Message: "packet count increments by one modulo 16"},
			{RuleId: "RP-VRT-0003", Name: "timestamp order", Scope: "stream", Severity: ERROR,
				Check: "CheckTimestampOrder", Refs: []string{"VITA 49.2 5.1.4"},
				Message: "timestamps do not go backwards"},
			{RuleId: "RP-VRT-0004", Name: "valid data", Scope: "packet", Severity: WARN,
				Check: "CheckTrailerIndicator", Refs: []string{"VITA 49.2 5.1.6"},
				Params:  map[string]any{"indicator": "valid data", "flagWhen": false},
				Message: "trailer marks data valid"},
			{RuleId: "RP-VRT-0005", Name: "sample loss", Scope: "packet", Severity: ERROR,
				Check: "CheckTrailerIndicator", Refs: []string{"VITA 49.2 5.1.6"},
				Params:  map[string]any{"indicator": "sample loss", "flagWhen": true},
				Message: "no sample loss reported"},
			{RuleId: "RP-VRT-0006", Name: "over-range", Scope: "packet", Severity: WARN,
				Check: "CheckTrailerIndicator", Refs: []string{"VITA 49.2 5.1.6"},
				Params:  map[string]any{"indicator": "over-range", "flagWhen": true},
				Message: "no over-range reported"},
			{RuleId: "RP-VRT-0007", Name: "context present", Scope: "stream", Severity: WARN,
				Check: "CheckContextPresent", Refs: []string{"VITA 49.2 6.1"},
				Message: "every data stream is described by a context packet"},
			{RuleId: "RP-VRT-0008", Name: "class ID", Scope: "stream", Severity: ERROR,
				Check: "CheckClassID", Refs: []string{"VITA 49.2 5.1.3"},
				Message: "class ID is constant within a stream"},
		},
	}
}

func newDiag(ctx *Context, rule Rule) Diagnostic {
	return Diagnostic{
		Ts:       time.Now(),
		File:     ctx.InputFile,
		RuleId:   rule.RuleId,
		Severity: rule.Severity,
		Message:  rule.Message,
		Refs:     rule.Refs,
	}
}

func passDiag(ctx *Context, rule Rule, msg string) []Diagnostic {
	d := newDiag(ctx, rule)
	d.Severity = INFO
	d.Message = msg
	return []Diagnostic{d}
}

// packetDiag is a finding located at the i-th indexed packet.
func packetDiag(ctx *Context, rule Rule, i int, msg string) Diagnostic {
	p := ctx.Index.Packets[i]
	d := newDiag(ctx, rule)
	d.Message = msg
	d.PacketIndex = intPtr(i)
	d.Offset = fmt.Sprintf("0x%X", p.Offset)
	if p.HasStreamID {
		d.StreamId = fmt.Sprintf("0x%08X", p.StreamID)
	}
	if ts, ok := timestampOf(p).Picoseconds(p.TSF); ok {
		d.TimestampPs = uint64Ptr(ts)
		d.TimestampSource = stringPtr(p.TSI.String() + "/" + p.TSF.String())
	}
	return d
}

func timestampOf(p vrt.PacketIndex) vrt.Timestamp {
	var ts vrt.Timestamp
	if p.TSI != vrt.TSINone {
		ts.Integer = &p.Integer
	}
	if p.TSF != vrt.TSFNone {
		ts.Fractional = &p.Fractional
	}
	return ts
}

func formatTimestamp(ts vrt.Timestamp) string {
	var i uint32
	var f uint64
	if ts.Integer != nil {
		i = *ts.Integer
	}
	if ts.Fractional != nil {
		f = *ts.Fractional
	}
	return fmt.Sprintf("%d.%d", i, f)
}

// streamKey separates the counters of one stream's data and context packets.
type streamKey struct {
	id      uint32
	hasID   bool
	context bool
}

func keyOf(p vrt.PacketIndex) (streamKey, bool) {
	switch {
	case p.Type.IsData():
		return streamKey{id: p.StreamID, hasID: p.HasStreamID}, true
	case p.Type.IsContext():
		return streamKey{id: p.StreamID, hasID: p.HasStreamID, context: true}, true
	}
	// Command packets are excluded: acknowledgements reuse the count of the
	// command they answer.
	return streamKey{}, false
}

func paramBool(rule Rule, key string, def bool) bool {
	if v, ok := rule.Params[key].(bool); ok {
		return v
	}
	return def
}

func paramString(rule Rule, key string) string {
	s, _ := rule.Params[key].(string)
	return s
}

func CheckDecodes(ctx *Context, rule Rule) ([]Diagnostic, error) {
	if ctx.ScanErr == nil {
		return passDiag(ctx, rule, fmt.Sprintf("%d packets decoded", len(ctx.Index.Packets))), nil
	}
	d := newDiag(ctx, rule)
	d.Offset = fmt.Sprintf("0x%X", ctx.ScanOffset)
	d.PacketIndex = intPtr(len(ctx.Index.Packets))
	d.Message = fmt.Sprintf("decode stopped after %d packets: %v (%s)",
		len(ctx.Index.Packets), ctx.ScanErr, vrt.KindOf(ctx.ScanErr))
	return []Diagnostic{d}, nil
}

func CheckPacketCount(ctx *Context, rule Rule) ([]Diagnostic, error) {
	var out []Diagnostic
	last := make(map[streamKey]uint8)
	for i, p := range ctx.Index.Packets {
		key, ok := keyOf(p)
		if !ok {
			continue
		}
		prev, seen := last[key]
		last[key] = p.PacketCount
		if !seen {
			continue
		}
		want := (prev + 1) & 0xF
		if p.PacketCount == want {
			continue
		}
		lost := (p.PacketCount - want) & 0xF
		out = append(out, packetDiag(ctx, rule, i,
			fmt.Sprintf("packet count %d, expected %d (%d packets missing mod 16)", p.PacketCount, want, lost)))
	}
	if len(out) == 0 {
		return passDiag(ctx, rule, "packet counts continuous"), nil
	}
	return out, nil
}

// CheckTimestampOrder flags packets whose timestamp precedes the previous
// packet of the same stream. With params.strict equal timestamps are
// flagged too.
func CheckTimestampOrder(ctx *Context, rule Rule) ([]Diagnostic, error) {
	strict := paramBool(rule, "strict", false)
	type last struct {
		tsi vrt.TSI
		tsf vrt.TSF
		ts  vrt.Timestamp
	}
	var out []Diagnostic
	prev := make(map[streamKey]last)
	for i, p := range ctx.Index.Packets {
		key, ok := keyOf(p)
		if !ok || !p.HasTimestamp {
			continue
		}
		cur := last{tsi: p.TSI, tsf: p.TSF, ts: timestampOf(p)}
		before, seen := prev[key]
		prev[key] = cur
		if !seen {
			continue
		}
		if before.tsi != cur.tsi || before.tsf != cur.tsf {
			out = append(out, packetDiag(ctx, rule, i,
				fmt.Sprintf("timestamp format changed from %s/%s to %s/%s",
					before.tsi, before.tsf, cur.tsi, cur.tsf)))
			continue
		}
		if c := cur.ts.Compare(before.ts); c < 0 || (strict && c == 0) {
			out = append(out, packetDiag(ctx, rule, i,
				fmt.Sprintf("timestamp %s not after previous %s", formatTimestamp(cur.ts), formatTimestamp(before.ts))))
		}
	}
	if len(out) == 0 {
		return passDiag(ctx, rule, "timestamps ordered"), nil
	}
	return out, nil
}

// CheckTrailerIndicator flags data packets whose enabled trailer indicator
// params.indicator equals params.flagWhen.
func CheckTrailerIndicator(ctx *Context, rule Rule) ([]Diagnostic, error) {
	name := paramString(rule, "indicator")
	ind, ok := vrt.IndicatorByName(name)
	if !ok {
		return nil, fmt.Errorf("unknown trailer indicator %q", name)
	}
	flagWhen := paramBool(rule, "flagWhen", true)
	var out []Diagnostic
	for i, p := range ctx.Index.Packets {
		if !p.HasTrailer {
			continue
		}
		v, enabled := p.Trailer.Get(ind)
		if enabled && v == flagWhen {
			out = append(out, packetDiag(ctx, rule, i, fmt.Sprintf("trailer %s indicator is %t", ind, v)))
		}
	}
	if len(out) == 0 {
		return passDiag(ctx, rule, fmt.Sprintf("trailer %s indicator ok", ind)), nil
	}
	return out, nil
}

// CheckContextPresent requires a context packet carrying the stream ID of
// every data stream, ahead of the stream's first data packet.
func CheckContextPresent(ctx *Context, rule Rule) ([]Diagnostic, error) {
	firstData := make(map[uint32]int)
	firstContext := make(map[uint32]int)
	for i, p := range ctx.Index.Packets {
		if !p.HasStreamID {
			continue
		}
		if p.Type.IsData() {
			if _, ok := firstData[p.StreamID]; !ok {
				firstData[p.StreamID] = i
			}
		}
		if p.Type.IsContext() {
			if _, ok := firstContext[p.StreamID]; !ok {
				firstContext[p.StreamID] = i
			}
		}
	}
	var out []Diagnostic
	for _, sid := range ctx.Index.Streams() {
		di, ok := firstData[sid]
		if !ok {
			continue
		}
		ci, ok := firstContext[sid]
		switch {
		case !ok:
			out = append(out, packetDiag(ctx, rule, di, fmt.Sprintf("no context packet for stream 0x%08X", sid)))
		case ci > di:
			out = append(out, packetDiag(ctx, rule, di,
				fmt.Sprintf("first context packet for stream 0x%08X follows its data (packet %d)", sid, ci)))
		}
	}
	if len(out) == 0 {
		return passDiag(ctx, rule, "every data stream has context"), nil
	}
	return out, nil
}

func CheckClassID(ctx *Context, rule Rule) ([]Diagnostic, error) {
	var out []Diagnostic
	first := make(map[streamKey]vrt.ClassID)
	for i, p := range ctx.Index.Packets {
		key, ok := keyOf(p)
		if !ok || !p.HasClassID {
			continue
		}
		c, seen := first[key]
		if !seen {
			first[key] = p.ClassID
			continue
		}
		if c != p.ClassID {
			out = append(out, packetDiag(ctx, rule, i,
				fmt.Sprintf("class ID %06X/%04X/%04X differs from %06X/%04X/%04X",
					p.ClassID.OUI, p.ClassID.InformationClassCode, p.ClassID.PacketClassCode,
					c.OUI, c.InformationClassCode, c.PacketClassCode)))
		}
	}
	if len(out) == 0 {
		return passDiag(ctx, rule, "class IDs consistent"), nil
	}
	return out, nil
}
