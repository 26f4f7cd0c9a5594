package report

import (
	"encoding/json"
	"os"
	"sort"
	"time"

	"example.com/vrtgate/internal/common"
	"example.com/vrtgate/internal/rules"
	"example.com/vrtgate/internal/vrt"
)

func SaveAcceptanceJSON(rep rules.AcceptanceReport, out string) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, append(b, '\n'), 0644)
}

func LoadAcceptanceJSON(path string) (rules.AcceptanceReport, error) {
	var rep rules.AcceptanceReport
	b, err := os.ReadFile(path)
	if err != nil {
		return rep, err
	}
	err = json.Unmarshal(b, &rep)
	return rep, err
}

// FileSummary describes the scanned capture on the report cover.
type FileSummary struct {
	File     string           `json:"file"`
	SHA256   string           `json:"sha256"`
	Size     int64            `json:"size"`
	Packets  int              `json:"packets"`
	Streams  []uint32         `json:"streams"`
	ByType   map[string]int64 `json:"byType"`
	Duration time.Duration    `json:"duration"`
}

// SummarizeFile hashes the file at path and combines it with the scan index.
func SummarizeFile(path string, idx vrt.FileIndex, snap common.MetricsSnapshot) (FileSummary, error) {
	sum, size, err := common.Sha256OfFile(path)
	if err != nil {
		return FileSummary{}, err
	}
	fs := FileSummary{
		File:     path,
		SHA256:   sum,
		Size:     size,
		Packets:  len(idx.Packets),
		Streams:  idx.Streams(),
		ByType:   make(map[string]int64),
		Duration: snap.Duration,
	}
	for _, p := range idx.Packets {
		fs.ByType[p.Type.String()]++
	}
	return fs, nil
}

func (fs FileSummary) typeNames() []string {
	names := make([]string, 0, len(fs.ByType))
	for k := range fs.ByType {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
