package server

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Artifact is a file held by the daemon: an upload, a capture extracted from
// one, or an output of a validation.
type Artifact struct {
	ID          string
	Path        string
	Name        string
	ContentType string
	Size        int64
	Kind        string
}

// ArtifactRef is what the API returns for an artifact; the path stays private.
type ArtifactRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

func (a Artifact) Ref() ArtifactRef {
	return ArtifactRef{ID: a.ID, Name: a.Name, ContentType: a.ContentType, Size: a.Size, Kind: a.Kind}
}

type artifactStore struct {
	mu      sync.RWMutex
	entries map[string]Artifact
}

func newArtifactStore() *artifactStore {
	return &artifactStore{entries: make(map[string]Artifact)}
}

// register stats path and stores it under a fresh UUID.
func (st *artifactStore) register(path, name, contentType, kind string) (Artifact, error) {
	if path == "" {
		return Artifact{}, errors.New("empty artifact path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, errors.Wrap(err, "stat artifact")
	}
	if name == "" {
		name = filepath.Base(path)
	}
	if contentType == "" {
		contentType = guessContentType(name)
	}
	art := Artifact{
		ID:          uuid.NewString(),
		Path:        path,
		Name:        name,
		ContentType: contentType,
		Size:        info.Size(),
		Kind:        kind,
	}
	st.mu.Lock()
	st.entries[art.ID] = art
	st.mu.Unlock()
	return art, nil
}

func (st *artifactStore) get(id string) (Artifact, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	art, ok := st.entries[id]
	return art, ok
}

// list returns every artifact ordered by ID.
func (st *artifactStore) list() []Artifact {
	st.mu.RLock()
	out := make([]Artifact, 0, len(st.entries))
	for _, art := range st.entries {
		out = append(out, art)
	}
	st.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func guessContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".ndjson", ".jsonl":
		return "application/x-ndjson"
	case ".pdf":
		return "application/pdf"
	case ".pcap", ".pcapng":
		return "application/vnd.tcpdump.pcap"
	default:
		return "application/octet-stream"
	}
}
