package rules

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"example.com/vrtgate/internal/common"
	"example.com/vrtgate/internal/vrt"
)

type Severity string

const (
	ERROR Severity = "ERROR"
	WARN  Severity = "WARN"
	INFO  Severity = "INFO"
)

type Rule struct {
	RuleId   string         `json:"ruleId"`
	Name     string         `json:"name,omitempty"`
	Scope    string         `json:"scope"` // file|stream|packet
	Severity Severity       `json:"severity"`
	Check    string         `json:"check"`
	Refs     []string       `json:"refs"`
	Params   map[string]any `json:"params,omitempty"`
	Message  string         `json:"message"`
}

type RulePack struct {
	RulePackId string `json:"rulePackId"`
	Version    string `json:"version"`
	Profile    string `json:"profile"`
	Rules      []Rule `json:"rules"`
}

type Diagnostic struct {
	Ts              time.Time `json:"ts"`
	File            string    `json:"file"`
	StreamId        string    `json:"streamId,omitempty"`
	PacketIndex     *int      `json:"packetIndex,omitempty"`
	Offset          string    `json:"offset,omitempty"`
	RuleId          string    `json:"ruleId"`
	Severity        Severity  `json:"severity"`
	Message         string    `json:"message"`
	Refs            []string  `json:"refs"`
	TimestampPs     *uint64   `json:"timestamp_ps"`
	TimestampSource *string   `json:"timestamp_source"`
}

type AcceptanceReport struct {
	Summary struct {
		Total    int  `json:"total"`
		Errors   int  `json:"errors"`
		Warnings int  `json:"warnings"`
		Pass     bool `json:"pass"`
	} `json:"summary"`
	GateMatrix []map[string]any `json:"gateMatrix"`
	Findings   []Diagnostic     `json:"findings,omitempty"`
}

// Context carries the scanned file the rules run against.
type Context struct {
	InputFile string
	Metrics   *common.Metrics

	Index *vrt.FileIndex
	// ScanErr is the decode error that stopped the scan, if any. Index then
	// covers the packets before it.
	ScanErr    error
	ScanOffset int64
}

func (ctx *Context) EnsureFileIndex() error {
	if ctx == nil {
		return errors.New("nil context")
	}
	if ctx.InputFile == "" || ctx.Index != nil {
		return nil
	}
	reader, err := vrt.NewReader(ctx.InputFile)
	if err != nil {
		return err
	}
	defer reader.Close()
	if ctx.Metrics != nil {
		reader.SetMetrics(ctx.Metrics)
	}
	for {
		_, _, err := reader.Next()
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			ctx.ScanErr = err
			ctx.ScanOffset = reader.Offset()
		}
		break
	}
	idx := reader.Index()
	ctx.Index = &idx
	return nil
}

type Engine struct {
	rulePack               RulePack
	registry               map[string]CheckFunc
	diagnostics            []Diagnostic
	includeTimestampFields bool
}

func NewEngine(rp RulePack) *Engine {
	return &Engine{
		rulePack:               rp,
		registry:               make(map[string]CheckFunc),
		includeTimestampFields: true,
	}
}

// CheckFunc evaluates one rule and returns its findings. A rule that finds
// nothing returns a single INFO diagnostic.
type CheckFunc func(ctx *Context, rule Rule) ([]Diagnostic, error)

func (e *Engine) Register(name string, f CheckFunc) {
	e.registry[name] = f
}

func (e *Engine) Eval(ctx *Context) ([]Diagnostic, error) {
	if ctx == nil {
		return nil, errors.New("nil context")
	}
	if err := ctx.EnsureFileIndex(); err != nil {
		return nil, err
	}
	if ctx.Index == nil {
		ctx.Index = &vrt.FileIndex{}
	}
	var diags []Diagnostic
	for _, r := range e.rulePack.Rules {
		fn, ok := e.registry[r.Check]
		if !ok {
			diags = append(diags, Diagnostic{
				Ts: time.Now(), File: ctx.InputFile, RuleId: r.RuleId, Severity: WARN,
				Message: "no check function for rule", Refs: r.Refs,
			})
			continue
		}
		found, err := fn(ctx, r)
		if err != nil {
			d := newDiag(ctx, r)
			d.Severity = ERROR
			d.Message = r.Message + " (" + err.Error() + ")"
			found = append(found, d)
		}
		diags = append(diags, found...)
	}
	e.diagnostics = diags
	return diags, nil
}

// Diagnostics returns the findings of the last Eval.
func (e *Engine) Diagnostics() []Diagnostic { return e.diagnostics }

func (e *Engine) WriteDiagnosticsNDJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, d := range e.diagnostics {
		var b []byte
		if e.includeTimestampFields {
			b, err = json.Marshal(d)
		} else {
			b, err = json.Marshal(d.toNoTimestamp())
		}
		if err != nil {
			return err
		}
		w.Write(b)
		w.WriteString("\n")
	}
	return w.Flush()
}

type diagnosticNoTimestamp struct {
	Ts          time.Time `json:"ts"`
	File        string    `json:"file"`
	StreamId    string    `json:"streamId,omitempty"`
	PacketIndex *int      `json:"packetIndex,omitempty"`
	Offset      string    `json:"offset,omitempty"`
	RuleId      string    `json:"ruleId"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	Refs        []string  `json:"refs"`
}

func (d Diagnostic) toNoTimestamp() diagnosticNoTimestamp {
	return diagnosticNoTimestamp{
		Ts:          d.Ts,
		File:        d.File,
		StreamId:    d.StreamId,
		PacketIndex: d.PacketIndex,
		Offset:      d.Offset,
		RuleId:      d.RuleId,
		Severity:    d.Severity,
		Message:     d.Message,
		Refs:        d.Refs,
	}
}

func (e *Engine) SetConfigValue(key string, value any) {
	if e == nil {
		return
	}
	switch key {
	case "diag.include_timestamps":
		switch v := value.(type) {
		case bool:
			e.includeTimestampFields = v
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				e.includeTimestampFields = b
			}
		default:
			if s, ok := value.(fmt.Stringer); ok {
				if b, err := strconv.ParseBool(s.String()); err == nil {
					e.includeTimestampFields = b
				}
			}
		}
	}
}

// MakeAcceptance summarizes the last Eval. The file passes when no finding
// is an ERROR. The gate matrix has one row per rule in pack order.
func (e *Engine) MakeAcceptance() AcceptanceReport {
	var rep AcceptanceReport
	var errs, warns int
	type gate struct {
		errors, warnings, infos int
	}
	gates := make(map[string]*gate)
	for _, d := range e.diagnostics {
		g := gates[d.RuleId]
		if g == nil {
			g = &gate{}
			gates[d.RuleId] = g
		}
		switch d.Severity {
		case ERROR:
			errs++
			g.errors++
		case WARN:
			warns++
			g.warnings++
		default:
			g.infos++
		}
	}
	for _, r := range e.rulePack.Rules {
		g := gates[r.RuleId]
		if g == nil {
			g = &gate{}
		}
		rep.GateMatrix = append(rep.GateMatrix, map[string]any{
			"ruleId":   r.RuleId,
			"check":    r.Check,
			"severity": r.Severity,
			"errors":   g.errors,
			"warnings": g.warnings,
			"pass":     g.errors == 0,
		})
	}
	rep.Summary.Total = len(e.diagnostics)
	rep.Summary.Errors = errs
	rep.Summary.Warnings = warns
	rep.Summary.Pass = errs == 0
	rep.Findings = e.diagnostics
	return rep
}

func LoadRulePack(path string) (RulePack, error) {
	var rp RulePack
	b, err := os.ReadFile(path)
	if err != nil {
		return rp, err
	}
	err = json.Unmarshal(b, &rp)
	return rp, err
}
