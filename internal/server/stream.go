package server

import (
	"encoding/json"
	"net/http"
)

// ndjsonStream writes one JSON record per line and flushes after each one so
// a client sees diagnostics as they are produced.
type ndjsonStream struct {
	enc   *json.Encoder
	flush func()
}

func newNDJSONStream(w http.ResponseWriter) *ndjsonStream {
	w.Header().Set("Content-Type", "application/x-ndjson")
	s := &ndjsonStream{enc: json.NewEncoder(w), flush: func() {}}
	if f, ok := w.(http.Flusher); ok {
		s.flush = f.Flush
	}
	return s
}

func (s *ndjsonStream) send(v any) error {
	if err := s.enc.Encode(v); err != nil {
		return err
	}
	s.flush()
	return nil
}
