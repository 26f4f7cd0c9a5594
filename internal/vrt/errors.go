package vrt

import (
	"errors"
	"fmt"
)

var (
	ErrTruncatedInput          = errors.New("truncated input")
	ErrInvalidPacketType       = errors.New("invalid packet type")
	ErrSizeMismatch            = errors.New("packet size mismatch")
	ErrUnsupportedContextField = errors.New("unsupported context field")
	ErrMalformedTrailer        = errors.New("malformed trailer")
)

// ErrorKind classifies a decode failure.
type ErrorKind int

const (
	TruncatedInput ErrorKind = iota + 1
	InvalidPacketType
	SizeMismatch
	UnsupportedContextField
	MalformedTrailer
)

func (k ErrorKind) String() string {
	switch k {
	case TruncatedInput:
		return "TruncatedInput"
	case InvalidPacketType:
		return "InvalidPacketType"
	case SizeMismatch:
		return "SizeMismatch"
	case UnsupportedContextField:
		return "UnsupportedContextField"
	case MalformedTrailer:
		return "MalformedTrailer"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case TruncatedInput:
		return ErrTruncatedInput
	case InvalidPacketType:
		return ErrInvalidPacketType
	case SizeMismatch:
		return ErrSizeMismatch
	case UnsupportedContextField:
		return ErrUnsupportedContextField
	case MalformedTrailer:
		return ErrMalformedTrailer
	}
	return nil
}

// DecodeError reports why a packet was rejected. Offset is the byte offset
// within the packet where decoding stopped.
type DecodeError struct {
	Kind   ErrorKind
	Offset int
	Field  string
	Detail string
}

func (e *DecodeError) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Field != "" {
		msg += " in " + e.Field
	}
	msg += fmt.Sprintf(" at byte %d", e.Offset)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is matches the sentinel for the error kind. A malformed trailer is also a
// truncated input.
func (e *DecodeError) Is(target error) bool {
	if target == e.Kind.sentinel() {
		return true
	}
	return e.Kind == MalformedTrailer && target == ErrTruncatedInput
}

func newDecodeError(kind ErrorKind, offset int, field, detail string) *DecodeError {
	return &DecodeError{Kind: kind, Offset: offset, Field: field, Detail: detail}
}

// KindOf returns the ErrorKind carried by err, or zero if err is not a
// decode error.
func KindOf(err error) ErrorKind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}
