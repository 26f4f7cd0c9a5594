// Package manifest records the digests of a set of capture files and their
// derived artifacts.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/vrtgate/internal/common"
	"example.com/vrtgate/internal/vrt"
)

type Item struct {
	Path    string   `json:"path"`
	Size    int64    `json:"size"`
	Sha256  string   `json:"sha256"`
	Type    string   `json:"type"`
	Packets int      `json:"packets,omitempty"`
	Streams []string `json:"streams,omitempty"`
	// ScanError is set when a .vrt item stops decoding before its end.
	ScanError string `json:"scanError,omitempty"`
}

type Manifest struct {
	CreatedAt time.Time `json:"createdAt"`
	ShaAlgo   string    `json:"shaAlgo"`
	Items     []Item    `json:"items"`
}

// Build hashes every path. Captures are scanned as well, so the manifest
// lists their packet and stream counts.
func Build(paths []string) (Manifest, error) {
	m := Manifest{CreatedAt: time.Now().UTC(), ShaAlgo: "sha256"}
	for _, p := range paths {
		sum, sz, err := common.Sha256OfFile(p)
		if err != nil {
			return m, err
		}
		item := Item{Path: p, Size: sz, Sha256: sum, Type: itemType(p)}
		if item.Type == "vrt" {
			idx, err := vrt.ScanFile(p)
			if err != nil {
				item.ScanError = err.Error()
			}
			item.Packets = len(idx.Packets)
			for _, id := range idx.Streams() {
				item.Streams = append(item.Streams, fmt.Sprintf("0x%08X", id))
			}
		}
		m.Items = append(m.Items, item)
	}
	return m, nil
}

func itemType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".vrt":
		return "vrt"
	case ".pcap", ".pcapng":
		return "pcap"
	case ".yaml", ".yml":
		return "description"
	case ".json", ".jsonl", ".ndjson":
		return "json"
	case ".pdf":
		return "pdf"
	}
	return "other"
}

func Save(m Manifest, out string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0o644)
}
