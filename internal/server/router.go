package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires HTTP routes to the server's handlers.
func NewRouter(s *Server) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/validate", s.handleValidate)
	mux.HandleFunc("/packets", s.handlePackets)
	mux.HandleFunc("/manifest", s.handleManifest)
	mux.HandleFunc("/rulepacks", s.handleRulePacks)
	mux.HandleFunc("/artifacts", s.handleArtifacts)
	mux.HandleFunc("/artifacts/", s.handleArtifactDownload)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.prom.Registry, promhttp.HandlerOpts{}))
	return mux
}
