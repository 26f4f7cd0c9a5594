package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"example.com/vrtgate/internal/capture"
	"example.com/vrtgate/internal/common"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(512 << 20); err != nil {
		http.Error(w, fmt.Sprintf("parse multipart: %v", err), http.StatusBadRequest)
		return
	}
	if r.MultipartForm == nil {
		http.Error(w, "no files provided", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()
	var port uint16
	if v := r.FormValue("port"); v != "" {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			http.Error(w, "invalid port", http.StatusBadRequest)
			return
		}
		port = uint16(n)
	}
	var refs []ArtifactRef
	for _, files := range r.MultipartForm.File {
		for _, fh := range files {
			art, err := s.saveUploadedFile(fh)
			if err != nil {
				http.Error(w, fmt.Sprintf("save upload %s: %v", fh.Filename, err), http.StatusBadRequest)
				return
			}
			refs = append(refs, art.Ref())
			if art.Kind != "recording" {
				continue
			}
			derived, err := s.extractRecording(art, port)
			if err != nil {
				http.Error(w, fmt.Sprintf("extract %s: %v", fh.Filename, err), http.StatusBadRequest)
				return
			}
			refs = append(refs, derived.Ref())
		}
	}
	if len(refs) == 0 {
		http.Error(w, "no files uploaded", http.StatusBadRequest)
		return
	}
	resp := struct {
		Files []ArtifactRef `json:"files"`
	}{Files: refs}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) saveUploadedFile(fh *multipart.FileHeader) (Artifact, error) {
	if fh == nil {
		return Artifact{}, fmt.Errorf("nil file header")
	}
	src, err := fh.Open()
	if err != nil {
		return Artifact{}, err
	}
	defer src.Close()
	ext := filepath.Ext(fh.Filename)
	pattern := "upload-*"
	if ext != "" {
		pattern = fmt.Sprintf("upload-*%s", ext)
	}
	dest, err := os.CreateTemp(s.uploadsDir, pattern)
	if err != nil {
		return Artifact{}, err
	}
	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		os.Remove(dest.Name())
		return Artifact{}, err
	}
	dest.Close()
	kind := "upload"
	switch strings.ToLower(ext) {
	case ".pcap", ".pcapng":
		kind = "recording"
	}
	return s.addArtifact(dest.Name(), filepath.Base(fh.Filename), "", kind)
}

// extractRecording converts an uploaded pcap into a .vrt artifact.
func (s *Server) extractRecording(rec Artifact, port uint16) (Artifact, error) {
	out, err := s.tempPath("extracted-*.vrt")
	if err != nil {
		return Artifact{}, err
	}
	st, err := capture.ExtractFile(rec.Path, out, capture.Options{Port: port})
	if err != nil {
		return Artifact{}, err
	}
	common.Logf("extracted %d packets from %s (%d datagrams, %d rejected)", st.Packets, rec.Name, st.Datagrams, st.Rejected)
	name := strings.TrimSuffix(rec.Name, filepath.Ext(rec.Name)) + ".vrt"
	return s.addArtifact(out, name, "application/octet-stream", "upload")
}
