// Package bridge is the narrow call boundary used by the demo command. It
// exposes one fixed-shape summary and one error code; decode details stay
// inside the vrt package.
package bridge

import (
	"fmt"

	"example.com/vrtgate/internal/vrt"
)

// Code is the boundary failure signal.
type Code int

const (
	CodeOK Code = iota
	CodeDecodeFailed
)

// Error is the only error type returned across the boundary.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

// SignalSummary is the display summary of a signal data packet.
type SignalSummary struct {
	StreamID   uint32
	SignalData []byte
}

// ParseSignalData decodes buf as one packet and summarizes it. A packet
// without a stream ID or without signal data is a failure.
func ParseSignalData(buf []byte) (SignalSummary, error) {
	p, err := vrt.Decode(buf)
	if err != nil {
		return SignalSummary{}, &Error{Code: CodeDecodeFailed, Message: err.Error()}
	}
	s, ok := p.Signal()
	if !ok {
		return SignalSummary{}, &Error{
			Code:    CodeDecodeFailed,
			Message: fmt.Sprintf("%s packet carries no signal data", p.Type()),
		}
	}
	if p.StreamID == nil {
		return SignalSummary{}, &Error{Code: CodeDecodeFailed, Message: "packet has no stream ID"}
	}
	return SignalSummary{StreamID: *p.StreamID, SignalData: s.Data}, nil
}
