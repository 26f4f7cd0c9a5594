package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/vrtgate/internal/vrt"
)

func TestBuildScansCaptures(t *testing.T) {
	dir := t.TempDir()
	capture := filepath.Join(dir, "a.vrt")
	var data []byte
	for _, sid := range []uint32{0x10, 0x20, 0x10} {
		p := vrt.NewSignalData(sid)
		require.NoError(t, p.SetPayloadData(make([]byte, 8)))
		data = append(data, vrt.Encode(p)...)
	}
	require.NoError(t, os.WriteFile(capture, data, 0o644))
	broken := filepath.Join(dir, "b.vrt")
	require.NoError(t, os.WriteFile(broken, data[:len(data)-2], 0o644))
	report := filepath.Join(dir, "acceptance.json")
	require.NoError(t, os.WriteFile(report, []byte("{}"), 0o644))

	m, err := Build([]string{capture, broken, report})
	require.NoError(t, err)
	require.Len(t, m.Items, 3)

	a := m.Items[0]
	assert.Equal(t, "vrt", a.Type)
	assert.EqualValues(t, len(data), a.Size)
	assert.Len(t, a.Sha256, 64)
	assert.Equal(t, 3, a.Packets)
	assert.Equal(t, []string{"0x00000010", "0x00000020"}, a.Streams)
	assert.Empty(t, a.ScanError)

	b := m.Items[1]
	assert.Equal(t, 2, b.Packets)
	assert.Contains(t, b.ScanError, "truncated input")
	assert.NotEqual(t, a.Sha256, b.Sha256)

	assert.Equal(t, "json", m.Items[2].Type)
	assert.Zero(t, m.Items[2].Packets)

	out := filepath.Join(dir, "manifest.json")
	require.NoError(t, Save(m, out))
	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	var back Manifest
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, m.Items, back.Items)
}

func TestBuildMissingFile(t *testing.T) {
	_, err := Build([]string{filepath.Join(t.TempDir(), "missing.vrt")})
	assert.Error(t, err)
}
