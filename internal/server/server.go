// Package server exposes capture validation over HTTP for vrtd.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"example.com/vrtgate/internal/common"
	"example.com/vrtgate/internal/rules"
)

// Server coordinates HTTP handlers and manages temporary artifacts produced by
// validation requests.
type Server struct {
	artifacts  *artifactStore
	workDir    string
	uploadsDir string
	repo       *rules.Repository
	profile    string
	sem        chan struct{}

	prom        *common.PromCollectors
	validations *prometheus.CounterVec
}

// Options configures server creation.
type Options struct {
	StorageDir string
	// Repository supplies installed rule packs; nil means only the built-in
	// pack and packs sent with a request are available.
	Repository *rules.Repository
	Profile    string
	// Concurrency bounds simultaneous validations.
	Concurrency int
}

// NewServer constructs a Server rooted at a temporary workspace directory.
func NewServer(opts Options) (*Server, error) {
	storageDir := opts.StorageDir
	if storageDir == "" {
		storageDir = os.TempDir()
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(storageDir, "vrtd-")
	if err != nil {
		return nil, err
	}
	uploadsDir := filepath.Join(workDir, "uploads")
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	profile := strings.TrimSpace(opts.Profile)
	if profile == "" {
		profile = "vita49.2"
	}
	prom := common.NewPromCollectors()
	s := &Server{
		artifacts:  newArtifactStore(),
		workDir:    workDir,
		uploadsDir: uploadsDir,
		repo:       opts.Repository,
		profile:    profile,
		sem:        make(chan struct{}, concurrency),
		prom:       prom,
		validations: promauto.With(prom.Registry).NewCounterVec(prometheus.CounterOpts{
			Name: "vrtgate_validations_total",
			Help: "Completed validation requests by outcome.",
		}, []string{"result"}),
	}
	return s, nil
}

// Close removes any temporary state associated with the server.
func (s *Server) Close() error {
	if s == nil || s.workDir == "" {
		return nil
	}
	return os.RemoveAll(s.workDir)
}

func (s *Server) tempPath(pattern string) (string, error) {
	f, err := os.CreateTemp(s.workDir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return name, nil
}

func (s *Server) addArtifact(path, name, contentType, kind string) (Artifact, error) {
	return s.artifacts.register(path, name, contentType, kind)
}

// resolveInput maps an uploaded artifact ID to its file. Server-side paths
// are not accepted.
func (s *Server) resolveInput(id string) (Artifact, error) {
	if id == "" {
		return Artifact{}, errors.New("empty input")
	}
	art, ok := s.artifacts.get(id)
	if !ok {
		return Artifact{}, fmt.Errorf("unknown artifact %s", id)
	}
	return art, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
