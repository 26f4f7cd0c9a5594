// Package spectrum averages power spectra over the IQ16 signal data payloads
// of a VRT capture.
package spectrum

import (
	"io"
	"math"
	"strings"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"example.com/vrtgate/internal/vrt"
)

// powerFloorDB keeps empty bins finite in the dB statistics.
const powerFloorDB = -200.0

var ErrNoSignalData = errors.New("no IQ signal data")

var windows = map[string]func(int) []float64{
	"hann":        window.Hann,
	"hamming":     window.Hamming,
	"blackman":    window.Blackman,
	"flattop":     window.FlatTop,
	"rectangular": window.Rectangular,
}

// Summary is the averaged spectrum of every analyzed frame. Power is linear,
// in FFT bin order, normalized so a full-scale tone on a bin reads its
// squared amplitude.
type Summary struct {
	Frames          int
	Bins            int
	SampleRateHz    float64
	PeakBin         int
	PeakFrequencyHz float64
	PeakPowerDB     float64
	MeanPowerDB     float64
	StdDevPowerDB   float64
	Power           []float64
}

// Analyzer accumulates frames. A context packet carrying a sample rate sets
// the frequency axis for the bins.
type Analyzer struct {
	win          func(int) []float64
	coeffs       []float64
	gain         float64
	sum          []float64
	frames       int
	sampleRateHz float64
	streamID     *uint32
}

// NewAnalyzer returns an analyzer applying the named window.
func NewAnalyzer(windowName string) (*Analyzer, error) {
	if windowName == "" {
		windowName = "hann"
	}
	win, ok := windows[strings.ToLower(windowName)]
	if !ok {
		return nil, errors.Errorf("unknown window %q", windowName)
	}
	return &Analyzer{win: win}, nil
}

// OnlyStream restricts the analyzer to packets of one stream.
func (a *Analyzer) OnlyStream(id uint32) { a.streamID = &id }

// SetSampleRate overrides the sample rate taken from context packets.
func (a *Analyzer) SetSampleRate(hz float64) { a.sampleRateHz = hz }

// Add feeds one packet and reports whether it contributed a frame. Every
// frame must have the length of the first.
func (a *Analyzer) Add(p *vrt.Packet) (bool, error) {
	if a.streamID != nil && (p.StreamID == nil || *p.StreamID != *a.streamID) {
		return false, nil
	}
	if c, ok := p.Context(); ok {
		if hz, ok := c.SampleRateHz(); ok && hz > 0 {
			a.sampleRateHz = hz
		}
		return false, nil
	}
	s, ok := p.Signal()
	if !ok || p.Header.Spectral() {
		return false, nil
	}
	iq := s.IQ16()
	if len(iq) == 0 {
		return false, nil
	}
	if a.sum == nil {
		a.sum = make([]float64, len(iq))
		a.coeffs = a.win(len(iq))
		a.gain = floats.Sum(a.coeffs)
	}
	if len(iq) != len(a.sum) {
		return false, errors.Errorf("frame of %d samples, expected %d", len(iq), len(a.sum))
	}
	floats.Add(a.sum, PowerSpectrum(iq, a.coeffs, a.gain))
	a.frames++
	return true, nil
}

// PowerSpectrum windows one frame and returns |X[k]|^2 normalized by the
// squared coherent gain of the window.
func PowerSpectrum(iq []complex128, coeffs []float64, gain float64) []float64 {
	x := make([]complex128, len(iq))
	for i, v := range iq {
		x[i] = v * complex(coeffs[i], 0)
	}
	spec := fft.FFT(x)
	out := make([]float64, len(spec))
	for k, v := range spec {
		out[k] = cmplxAbs2(v) / (gain * gain)
	}
	return out
}

func cmplxAbs2(v complex128) float64 { return real(v)*real(v) + imag(v)*imag(v) }

// BinFrequency maps an FFT bin to a signed baseband frequency.
func BinFrequency(bin, n int, sampleRateHz float64) float64 {
	if bin >= (n+1)/2 {
		bin -= n
	}
	return float64(bin) * sampleRateHz / float64(n)
}

func toDB(p float64) float64 {
	if p <= 0 {
		return powerFloorDB
	}
	return math.Max(10*math.Log10(p), powerFloorDB)
}

// Summary returns the average over all frames added so far.
func (a *Analyzer) Summary() (Summary, error) {
	if a.frames == 0 {
		return Summary{}, ErrNoSignalData
	}
	n := len(a.sum)
	avg := make([]float64, n)
	floats.ScaleTo(avg, 1/float64(a.frames), a.sum)
	db := make([]float64, n)
	for i, p := range avg {
		db[i] = toDB(p)
	}
	peak := floats.MaxIdx(avg)
	mean, std := stat.MeanStdDev(db, nil)
	s := Summary{
		Frames:        a.frames,
		Bins:          n,
		SampleRateHz:  a.sampleRateHz,
		PeakBin:       peak,
		PeakPowerDB:   db[peak],
		MeanPowerDB:   mean,
		StdDevPowerDB: std,
		Power:         avg,
	}
	if n == 1 {
		s.StdDevPowerDB = 0
	}
	if a.sampleRateHz > 0 {
		s.PeakFrequencyHz = BinFrequency(peak, n, a.sampleRateHz)
	}
	return s, nil
}

// AnalyzeFile runs an analyzer over every packet of a .vrt file.
func AnalyzeFile(path string, a *Analyzer) (Summary, error) {
	r, err := vrt.NewReader(path)
	if err != nil {
		return Summary{}, errors.Wrap(err, "open capture")
	}
	defer r.Close()
	for {
		p, _, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Summary{}, errors.Wrap(err, "scan capture")
		}
		if _, err := a.Add(p); err != nil {
			return Summary{}, errors.Wrapf(err, "packet at offset %d", r.Offset()-int64(p.WordCount()*4))
		}
	}
	return a.Summary()
}
