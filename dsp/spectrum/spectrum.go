// Package spectrum provides magnitude-spectrum analysis used to verify
// oscillator band-limiting and rendered audio content.
package spectrum

import (
	"fmt"
	"math"
	"sync"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-synth/dsp/window"
)

// scratchBuf holds pooled scratch memory for complex-to-real unpacking.
type scratchBuf struct {
	data []float64
}

var scratchPool = sync.Pool{
	New: func() any { return &scratchBuf{} },
}

func getScratch(n int) (re, im []float64, buf *scratchBuf) {
	buf = scratchPool.Get().(*scratchBuf)
	need := 2 * n
	if cap(buf.data) < need {
		buf.data = make([]float64, need)
	} else {
		buf.data = buf.data[:need]
	}
	return buf.data[:n], buf.data[n:need], buf
}

func putScratch(buf *scratchBuf) {
	scratchPool.Put(buf)
}

// Magnitude returns |X[k]| for each complex spectrum bin.
func Magnitude(in []complex128) []float64 {
	if len(in) == 0 {
		return nil
	}

	out := make([]float64, len(in))
	re, im, buf := getScratch(len(in))

	for i, c := range in {
		re[i] = real(c)
		im[i] = imag(c)
	}

	vecmath.Magnitude(out, re, im)
	putScratch(buf)
	return out
}

// fftPlan is the part of the algo-fft plan API this package relies on.
type fftPlan interface {
	Forward(dst, src []complex128) error
}

// Analyzer computes single-sided amplitude spectra of real signals.
// It owns an FFT plan and a periodic Hann window of the configured size.
type Analyzer struct {
	fftSize    int
	sampleRate float64
	plan       fftPlan
	win        []float64
	winGain    float64
	in         []complex128
	out        []complex128
}

// NewAnalyzer creates an analyzer for the given FFT size and sample rate.
// fftSize must be a power of two >= 16.
func NewAnalyzer(fftSize int, sampleRate float64) (*Analyzer, error) {
	if fftSize < 16 || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("analyzer fft size must be a power of two >= 16: %d", fftSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("analyzer sample rate must be > 0: %f", sampleRate)
	}

	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, fmt.Errorf("analyzer fft plan: %w", err)
	}

	win := window.Generate(window.TypeHann, fftSize, window.WithPeriodic())

	return &Analyzer{
		fftSize:    fftSize,
		sampleRate: sampleRate,
		plan:       plan,
		win:        win,
		winGain:    window.CoherentGain(win),
		in:         make([]complex128, fftSize),
		out:        make([]complex128, fftSize),
	}, nil
}

// FFTSize returns the configured FFT size.
func (a *Analyzer) FFTSize() int { return a.fftSize }

// BinWidth returns the frequency spacing between adjacent bins in Hz.
func (a *Analyzer) BinWidth() float64 { return a.sampleRate / float64(a.fftSize) }

// AmplitudeSpectrum returns the single-sided amplitude spectrum of the
// first fftSize samples of sig. Bin values approximate the amplitudes of
// sinusoidal components (window gain compensated). sig must hold at least
// fftSize samples.
func (a *Analyzer) AmplitudeSpectrum(sig []float64) ([]float64, error) {
	if len(sig) < a.fftSize {
		return nil, fmt.Errorf("signal too short for analysis: %d < %d", len(sig), a.fftSize)
	}

	for i := 0; i < a.fftSize; i++ {
		a.in[i] = complex(sig[i]*a.win[i], 0)
	}

	if err := a.plan.Forward(a.out, a.in); err != nil {
		return nil, fmt.Errorf("analyzer forward fft: %w", err)
	}

	bins := a.fftSize/2 + 1
	mag := Magnitude(a.out[:bins])

	norm := float64(a.fftSize) * a.winGain
	for k := range mag {
		mag[k] /= norm
		if k > 0 && k < bins-1 {
			mag[k] *= 2
		}
	}

	return mag, nil
}

// PeakFrequency returns the frequency and amplitude of the strongest
// spectral component of sig, refined by parabolic interpolation on the
// log-magnitude around the peak bin. The interpolated vertex also
// corrects the amplitude for window scalloping, so a tone between bins
// reports close to its true level.
func (a *Analyzer) PeakFrequency(sig []float64) (freqHz, amplitude float64, err error) {
	mag, err := a.AmplitudeSpectrum(sig)
	if err != nil {
		return 0, 0, err
	}

	peakBin := 0
	for k, m := range mag {
		if m > mag[peakBin] {
			peakBin = k
		}
	}

	offset := 0.0
	amplitude = mag[peakBin]
	if peakBin > 0 && peakBin < len(mag)-1 && mag[peakBin-1] > 0 && mag[peakBin+1] > 0 {
		la := math.Log(mag[peakBin-1])
		lb := math.Log(mag[peakBin])
		lg := math.Log(mag[peakBin+1])
		den := la - 2*lb + lg
		if den != 0 {
			offset = 0.5 * (la - lg) / den
			amplitude = math.Exp(lb - 0.25*(la-lg)*offset)
		}
	}

	return (float64(peakBin) + offset) * a.BinWidth(), amplitude, nil
}

// BandEnergy sums squared bin amplitudes between loHz and hiHz (inclusive).
func (a *Analyzer) BandEnergy(sig []float64, loHz, hiHz float64) (float64, error) {
	mag, err := a.AmplitudeSpectrum(sig)
	if err != nil {
		return 0, err
	}

	bw := a.BinWidth()
	sum := 0.0
	for k, m := range mag {
		f := float64(k) * bw
		if f >= loHz && f <= hiHz {
			sum += m * m
		}
	}

	return sum, nil
}
