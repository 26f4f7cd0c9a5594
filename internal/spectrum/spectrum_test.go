package spectrum

import (
	"bytes"
	"math"
	"math/cmplx"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/vrtgate/internal/vrt"
)

const (
	frameLen   = 64
	amplitude  = 8000.0
	sampleRate = 1.024e6
)

func tonePacket(t *testing.T, sid uint32, bin int, start int) *vrt.Packet {
	t.Helper()
	iq := make([]complex128, frameLen)
	for n := range iq {
		iq[n] = cmplx.Rect(amplitude, 2*math.Pi*float64(bin)*float64(start+n)/frameLen)
	}
	p := vrt.NewSignalData(sid)
	require.NoError(t, p.SetPayloadData(vrt.PackIQ16(iq)))
	return p
}

func rateContext(t *testing.T, sid uint32) *vrt.Packet {
	t.Helper()
	p := vrt.NewContext(sid)
	c, _ := p.Context()
	c.SetSampleRateHz(sampleRate)
	require.NoError(t, p.Resize())
	return p
}

func TestAnalyzerFindsTone(t *testing.T) {
	for _, name := range []string{"hann", "rectangular", "FlatTop"} {
		t.Run(name, func(t *testing.T) {
			a, err := NewAnalyzer(name)
			require.NoError(t, err)
			_, err = a.Add(rateContext(t, 1))
			require.NoError(t, err)
			for i := 0; i < 4; i++ {
				used, err := a.Add(tonePacket(t, 1, 8, i*frameLen))
				require.NoError(t, err)
				assert.True(t, used)
			}
			s, err := a.Summary()
			require.NoError(t, err)
			assert.Equal(t, 4, s.Frames)
			assert.Equal(t, frameLen, s.Bins)
			assert.Equal(t, 8, s.PeakBin)
			assert.InDelta(t, 128000.0, s.PeakFrequencyHz, 1e-6)
			assert.InDelta(t, 20*math.Log10(amplitude), s.PeakPowerDB, 0.1)
			assert.Less(t, s.MeanPowerDB, s.PeakPowerDB)
			assert.Greater(t, s.StdDevPowerDB, 0.0)
		})
	}
}

func TestAnalyzerNegativeFrequency(t *testing.T) {
	a, err := NewAnalyzer("")
	require.NoError(t, err)
	a.SetSampleRate(sampleRate)
	_, err = a.Add(tonePacket(t, 1, -4, 0))
	require.NoError(t, err)
	s, err := a.Summary()
	require.NoError(t, err)
	assert.Equal(t, frameLen-4, s.PeakBin)
	assert.InDelta(t, -64000.0, s.PeakFrequencyHz, 1e-6)
}

func TestAnalyzerSkipsOtherPackets(t *testing.T) {
	a, err := NewAnalyzer("hann")
	require.NoError(t, err)
	a.OnlyStream(1)

	used, err := a.Add(tonePacket(t, 2, 8, 0))
	require.NoError(t, err)
	assert.False(t, used, "other stream")

	spectral := tonePacket(t, 1, 8, 0)
	spectral.SetSpectral(true)
	used, err = a.Add(spectral)
	require.NoError(t, err)
	assert.False(t, used, "spectral payload")

	used, err = a.Add(vrt.NewCommand(1))
	require.NoError(t, err)
	assert.False(t, used, "command")

	_, err = a.Summary()
	assert.ErrorIs(t, err, ErrNoSignalData)
}

func TestAnalyzerRejectsFrameLengthChange(t *testing.T) {
	a, err := NewAnalyzer("hann")
	require.NoError(t, err)
	_, err = a.Add(tonePacket(t, 1, 8, 0))
	require.NoError(t, err)
	short := vrt.NewSignalData(1)
	require.NoError(t, short.SetPayloadData(make([]byte, 16)))
	_, err = a.Add(short)
	assert.ErrorContains(t, err, "frame of 4 samples, expected 64")
}

func TestNewAnalyzerUnknownWindow(t *testing.T) {
	_, err := NewAnalyzer("kaiser")
	assert.ErrorContains(t, err, `unknown window "kaiser"`)
}

func TestBinFrequency(t *testing.T) {
	tests := []struct {
		bin, n int
		want   float64
	}{
		{0, 8, 0},
		{3, 8, 3},
		{4, 8, -4},
		{7, 8, -1},
		{2, 5, 2},
		{3, 5, -2},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, BinFrequency(tc.bin, tc.n, float64(tc.n)), "bin %d of %d", tc.bin, tc.n)
	}
}

func TestAnalyzeFile(t *testing.T) {
	var buf bytes.Buffer
	w := vrt.NewWriter(&buf)
	require.NoError(t, w.WritePacket(rateContext(t, 1)))
	for i := 0; i < 3; i++ {
		require.NoError(t, w.WritePacket(tonePacket(t, 1, 8, i*frameLen)))
	}
	path := filepath.Join(t.TempDir(), "tone.vrt")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	a, err := NewAnalyzer("hann")
	require.NoError(t, err)
	s, err := AnalyzeFile(path, a)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Frames)
	assert.Equal(t, 8, s.PeakBin)
	assert.Equal(t, sampleRate, s.SampleRateHz)

	require.NoError(t, os.WriteFile(path, append(buf.Bytes(), 0x10), 0o644))
	a, err = NewAnalyzer("hann")
	require.NoError(t, err)
	_, err = AnalyzeFile(path, a)
	assert.ErrorIs(t, err, vrt.ErrTruncatedInput)
}
