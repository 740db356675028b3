// Package features turns a raw audio frame into the three scalar features the
// anomaly classifier is trained on: low band energy, high band energy and the
// dominant frequency of the magnitude spectrum.
package features

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

const (
	SampleRate = 16000 // Hz, must match the device microphone
	FrameSize  = 1024  // samples per frame

	LowBandMin  = 0.0    // Hz, inclusive
	LowBandMax  = 800.0  // Hz, exclusive
	HighBandMin = 2000.0 // Hz, inclusive
	HighBandMax = 8000.0 // Hz, exclusive
)

// Positions inside a Vector.
const (
	LowEnergy = iota
	HighEnergy
	DominantFreq

	Count
)

// Names lists the feature names in Vector order.
var Names = [Count]string{"low_energy", "high_energy", "dominant_freq"}

var (
	ErrShortSample = errors.New("features: sample must hold at least 2 values")
	ErrSampleRate  = errors.New("features: sample rate must be positive")
)

// Vector is an ordered (low_energy, high_energy, dominant_freq) triple.
type Vector [Count]float64

// Slice returns the vector as a slice backed by a copy.
func (v Vector) Slice() []float64 {
	out := make([]float64, Count)
	copy(out, v[:])
	return out
}

// Float32 returns the vector converted to single precision, the layout the
// exported C routine expects.
func (v Vector) Float32() []float32 {
	out := make([]float32, Count)
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// IsFinite reports whether no component is NaN or infinite.
func (v Vector) IsFinite() bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func (v Vector) String() string {
	return fmt.Sprintf("low=%.4f high=%.4f dom=%.2fHz", v[LowEnergy], v[HighEnergy], v[DominantFreq])
}

// Extractor computes feature vectors and reuses its FFT plan and scratch
// buffers between calls. It is not safe for concurrent use.
type Extractor struct {
	fft    *fourier.FFT
	coeffs []complex128
	mags   []float64
}

// NewExtractor returns an Extractor planned for frames of length n.
func NewExtractor(n int) *Extractor {
	e := &Extractor{}
	if n >= 2 {
		e.plan(n)
	}
	return e
}

func (e *Extractor) plan(n int) {
	if e.fft == nil {
		e.fft = fourier.NewFFT(n)
	} else {
		e.fft.Reset(n)
	}
	e.coeffs = make([]complex128, n/2+1)
	e.mags = make([]float64, n/2+1)
}

// Spectrum returns the magnitude of the real-input DFT of samples together with
// the frequency in Hz of every bin. The returned slices are owned by the
// Extractor and are overwritten by the next call.
func (e *Extractor) Spectrum(samples []float64, sampleRate int) (mags, freqs []float64, err error) {
	if len(samples) < 2 {
		return nil, nil, ErrShortSample
	}
	if sampleRate <= 0 {
		return nil, nil, ErrSampleRate
	}
	if e.fft == nil || e.fft.Len() != len(samples) {
		e.plan(len(samples))
	}

	e.coeffs = e.fft.Coefficients(e.coeffs, samples)
	freqs = make([]float64, len(e.coeffs))
	for i, c := range e.coeffs {
		e.mags[i] = cmplx.Abs(c)
		freqs[i] = e.fft.Freq(i) * float64(sampleRate)
	}
	return e.mags, freqs, nil
}

// Extract reduces samples to a feature Vector.
//
// The dominant frequency skips the zero-frequency bin and takes the first
// maximum, so a silent frame reports the frequency of bin 1.
func (e *Extractor) Extract(samples []float64, sampleRate int) (Vector, error) {
	mags, freqs, err := e.Spectrum(samples, sampleRate)
	if err != nil {
		return Vector{}, err
	}

	var low, high float64
	for i, f := range freqs {
		switch {
		case f >= LowBandMin && f < LowBandMax:
			low += mags[i]
		case f >= HighBandMin && f < HighBandMax:
			high += mags[i]
		}
	}

	dom := floats.MaxIdx(mags[1:]) + 1

	return Vector{
		LowEnergy:    math.Log1p(low),
		HighEnergy:   math.Log1p(high),
		DominantFreq: freqs[dom],
	}, nil
}

// Extract is a convenience wrapper that plans a fresh Extractor.
func Extract(samples []float64, sampleRate int) (Vector, error) {
	return NewExtractor(len(samples)).Extract(samples, sampleRate)
}
