// Package synth builds the labeled training set: synthetic "normal" captures
// (quiet background and high-frequency mechanical noise) and "fault" captures
// (a low-frequency tone buried in noise), each reduced to a feature vector.
package synth

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"iot-anomaly/internal/features"
)

// Config describes the waveforms drawn for each class.
type Config struct {
	SampleRate       int
	FrameSize        int
	// Each normal round emits one quiet and one mechanical example. Setting
	// NormalIterations to 300 reproduces the older 900-example mix of 600
	// normal and 300 fault captures (see ImbalancedConfig).
	NormalIterations int
	FaultIterations  int

	QuietSigma float64 // pure background noise
	NoiseSigma float64 // noise under a tone

	// Normal high-frequency tone: integer Hz in [HighFreqMin, HighFreqMax),
	// amplitude in [HighAmpMin, HighAmpMax).
	HighFreqMin int
	HighFreqMax int
	HighAmpMin  float64
	HighAmpMax  float64

	// Fault low-frequency tone. Amplitudes go down to very faint tones so the
	// classifier leans toward recall.
	FaultFreqMin int
	FaultFreqMax int
	FaultAmpMin  float64
	FaultAmpMax  float64
}

// DefaultConfig returns the balanced recipe: 150 normal rounds of two
// examples and 300 fault rounds, 600 examples in total.
func DefaultConfig() Config {
	return Config{
		SampleRate:       features.SampleRate,
		FrameSize:        features.FrameSize,
		NormalIterations: 150,
		FaultIterations:  300,
		QuietSigma:       0.005,
		NoiseSigma:       0.01,
		HighFreqMin:      2000,
		HighFreqMax:      6000,
		HighAmpMin:       0.1,
		HighAmpMax:       0.4,
		FaultFreqMin:     50,
		FaultFreqMax:     600,
		FaultAmpMin:      0.05,
		FaultAmpMax:      0.4,
	}
}

// ImbalancedConfig returns the older recipe with 300 normal rounds: 600 normal
// and 300 fault examples, 900 in total.
func ImbalancedConfig() Config {
	c := DefaultConfig()
	c.NormalIterations = 300
	return c
}

func (c Config) validate() error {
	switch {
	case c.FrameSize < 2:
		return fmt.Errorf("frame size %d too small", c.FrameSize)
	case c.SampleRate <= 0:
		return fmt.Errorf("sample rate %d must be positive", c.SampleRate)
	case c.NormalIterations < 0 || c.FaultIterations < 0:
		return fmt.Errorf("iterations (%d, %d) must not be negative", c.NormalIterations, c.FaultIterations)
	case c.HighFreqMax <= c.HighFreqMin:
		return fmt.Errorf("empty high tone range [%d, %d)", c.HighFreqMin, c.HighFreqMax)
	case c.FaultFreqMax <= c.FaultFreqMin:
		return fmt.Errorf("empty fault tone range [%d, %d)", c.FaultFreqMin, c.FaultFreqMax)
	}
	return nil
}

// Generator draws waveforms from its own seeded source, so the same seed and
// Config always produce the same Dataset.
type Generator struct {
	cfg       Config
	src       rand.Source
	rng       *rand.Rand
	timeAxis  []float64
	extractor *features.Extractor
}

// NewGenerator returns a Generator seeded with seed.
func NewGenerator(seed uint64, cfg Config) (*Generator, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid generator config: %w", err)
	}

	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &Generator{
		cfg:       cfg,
		src:       src,
		rng:       rand.New(src),
		timeAxis:  TimeAxis(cfg.FrameSize, cfg.SampleRate),
		extractor: features.NewExtractor(cfg.FrameSize),
	}, nil
}

// Config returns the generator recipe.
func (g *Generator) Config() Config {
	return g.cfg
}

// TimeAxis returns n evenly spaced instants from 0 to n/sampleRate seconds,
// both ends included.
func TimeAxis(n, sampleRate int) []float64 {
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	stop := float64(n) / float64(sampleRate)
	if n == 1 {
		return out
	}
	step := stop / float64(n-1)
	for i := range out {
		out[i] = float64(i) * step
	}
	out[n-1] = stop
	return out
}

// AddTone adds amp*sin(2*pi*freq*t) to dst in place.
func AddTone(dst, timeAxis []float64, freq, amp float64) {
	for i := range dst {
		dst[i] += amp * math.Sin(2*math.Pi*freq*timeAxis[i])
	}
}

// Noise returns a frame of zero-mean Gaussian noise.
func (g *Generator) Noise(sigma float64) []float64 {
	dist := distuv.Normal{Mu: 0, Sigma: sigma, Src: g.src}
	out := make([]float64, g.cfg.FrameSize)
	for i := range out {
		out[i] = dist.Rand()
	}
	return out
}

func (g *Generator) intBetween(lo, hi int) int {
	return lo + g.rng.IntN(hi-lo)
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return distuv.Uniform{Min: lo, Max: hi, Src: g.src}.Rand()
}

// QuietWaveform is background noise only.
func (g *Generator) QuietWaveform() []float64 {
	return g.Noise(g.cfg.QuietSigma)
}

// MechanicalWaveform is noise plus a loud high-frequency tone that must not be
// flagged.
func (g *Generator) MechanicalWaveform() []float64 {
	audio := g.Noise(g.cfg.NoiseSigma)
	freq := g.intBetween(g.cfg.HighFreqMin, g.cfg.HighFreqMax)
	amp := g.uniform(g.cfg.HighAmpMin, g.cfg.HighAmpMax)
	AddTone(audio, g.timeAxis, float64(freq), amp)
	return audio
}

// FaultWaveform is noise plus a low-frequency tone of possibly tiny amplitude.
func (g *Generator) FaultWaveform() []float64 {
	audio := g.Noise(g.cfg.NoiseSigma)
	freq := g.intBetween(g.cfg.FaultFreqMin, g.cfg.FaultFreqMax)
	amp := g.uniform(g.cfg.FaultAmpMin, g.cfg.FaultAmpMax)
	AddTone(audio, g.timeAxis, float64(freq), amp)
	return audio
}

func (g *Generator) emit(ds *Dataset, audio []float64, label Label) error {
	v, err := g.extractor.Extract(audio, g.cfg.SampleRate)
	if err != nil {
		return fmt.Errorf("failed to extract features for example %d: %w", ds.Len(), err)
	}
	ds.Append(v, label)
	return nil
}

// Size returns the number of examples Generate produces.
func (c Config) Size() int {
	return 2*c.NormalIterations + c.FaultIterations
}

// Generate builds the dataset: NormalIterations rounds of one quiet and one
// mechanical example, then FaultIterations fault examples.
func (g *Generator) Generate() (*Dataset, error) {
	ds := NewDataset(g.cfg.Size())

	for i := 0; i < g.cfg.NormalIterations; i++ {
		if err := g.emit(ds, g.QuietWaveform(), Normal); err != nil {
			return nil, err
		}
		if err := g.emit(ds, g.MechanicalWaveform(), Normal); err != nil {
			return nil, err
		}
	}

	for i := 0; i < g.cfg.FaultIterations; i++ {
		if err := g.emit(ds, g.FaultWaveform(), Fault); err != nil {
			return nil, err
		}
	}

	return ds, nil
}
