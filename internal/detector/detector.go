// Package detector turns a stream of audio frames from one device into
// debounced anomaly verdicts. It learns a background baseline during a
// calibration phase, scores each later frame with a Classifier and smooths the
// results over a sliding window before raising an alarm.
package detector

import (
	"errors"
	"fmt"
	"math"

	"iot-anomaly/internal/aggregator"
	"iot-anomaly/internal/features"
)

var ErrConfig = errors.New("detector: invalid config")

// State is the verdict reported for a processed frame.
type State string

const (
	StateCalibrating State = "calibrating"
	StateNormal      State = "normal"
	StateObserving   State = "observing"
	StateAlarm       State = "alarm"
)

const (
	LabelNormal = 0
	LabelFault  = 1
)

// Classifier scores a feature vector, returning the label and its probability.
type Classifier interface {
	Predict(v features.Vector) (int, float64, error)
}

// Config holds the tuning of a Detector
type Config struct {
	SampleRate        int
	CalibrationFrames int     // frames averaged into the baseline, 0 disables calibration
	LowAmplifier      float64 // multiplier on baseline-subtracted low energy
	SafetyThreshold   float64 // amplified low energy above this is always a fault, needs calibration
	WindowSize        int     // number of recent results kept
	AlarmThreshold    int     // faults in the window that raise an alarm
}

// DefaultConfig returns the tuning used by the deployed firmware
func DefaultConfig() Config {
	return Config{
		SampleRate:        features.SampleRate,
		CalibrationFrames: 100,
		LowAmplifier:      7.0,
		SafetyThreshold:   0.6,
		WindowSize:        6,
		AlarmThreshold:    2,
	}
}

func (c Config) validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrConfig, c.SampleRate)
	case c.CalibrationFrames < 0:
		return fmt.Errorf("%w: calibration frames %d", ErrConfig, c.CalibrationFrames)
	case c.WindowSize <= 0:
		return fmt.Errorf("%w: window size %d", ErrConfig, c.WindowSize)
	case c.AlarmThreshold <= 0 || c.AlarmThreshold > c.WindowSize:
		return fmt.Errorf("%w: alarm threshold %d for window %d", ErrConfig, c.AlarmThreshold, c.WindowSize)
	case c.LowAmplifier <= 0:
		return fmt.Errorf("%w: low amplifier %g", ErrConfig, c.LowAmplifier)
	}
	return nil
}

// Decision describes the outcome of one frame.
type Decision struct {
	State        State
	Raw          features.Vector // features before baseline correction
	Features     features.Vector // features handed to the classifier
	Prediction   int
	Confidence   float64
	Forced       bool // the safety net overrode the classifier
	WindowFaults int
	WindowFill   int
	Calibration  int // frames accumulated so far while calibrating
}

// Detector is the per-device state machine. It is not safe for concurrent use.
type Detector struct {
	cfg       Config
	clf       Classifier
	extractor *features.Extractor

	calibrated      int
	sumLow, sumHigh float64
	baseLow         float64
	baseHigh        float64
	window          []int
	next, fill      int
	frame           []float64
}

// New creates a detector. A nil classifier is rejected.
func New(cfg Config, clf Classifier) (*Detector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if clf == nil {
		return nil, fmt.Errorf("%w: nil classifier", ErrConfig)
	}
	return &Detector{
		cfg:       cfg,
		clf:       clf,
		extractor: features.NewExtractor(features.FrameSize),
		window:    make([]int, cfg.WindowSize),
	}, nil
}

// Calibrated reports whether the baseline is established.
func (d *Detector) Calibrated() bool {
	return d.calibrated >= d.cfg.CalibrationFrames
}

// Baseline returns the mean low and high band energy learned during calibration.
func (d *Detector) Baseline() (low, high float64) {
	return d.baseLow, d.baseHigh
}

// Reset forgets the baseline and the window.
func (d *Detector) Reset() {
	d.calibrated = 0
	d.sumLow, d.sumHigh = 0, 0
	d.baseLow, d.baseHigh = 0, 0
	clear(d.window)
	d.next, d.fill = 0, 0
}

// Process runs one frame through the detector. The frame is not modified.
func (d *Detector) Process(frame []float64) (Decision, error) {
	d.frame = append(d.frame[:0], frame...)
	aggregator.RemoveDC(d.frame)

	raw, err := d.extractor.Extract(d.frame, d.cfg.SampleRate)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to extract features: %w", err)
	}

	if !d.Calibrated() {
		d.sumLow += raw[features.LowEnergy]
		d.sumHigh += raw[features.HighEnergy]
		d.calibrated++
		if d.Calibrated() {
			n := float64(d.cfg.CalibrationFrames)
			d.baseLow = d.sumLow / n
			d.baseHigh = d.sumHigh / n
		}
		return Decision{State: StateCalibrating, Raw: raw, Calibration: d.calibrated}, nil
	}

	adj := d.adjust(raw)

	label, conf, err := d.clf.Predict(adj)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to classify frame: %w", err)
	}

	dec := Decision{
		Raw:        raw,
		Features:   adj,
		Prediction: label,
		Confidence: conf,
	}
	if d.cfg.CalibrationFrames > 0 && label != LabelFault && adj[features.LowEnergy] > d.cfg.SafetyThreshold {
		dec.Prediction = LabelFault
		dec.Forced = true
	}

	dec.WindowFaults = d.push(dec.Prediction)
	dec.WindowFill = d.fill

	switch {
	case dec.WindowFaults >= d.cfg.AlarmThreshold:
		dec.State = StateAlarm
	case dec.WindowFaults > 0:
		dec.State = StateObserving
	default:
		dec.State = StateNormal
	}
	return dec, nil
}

// adjust subtracts the baseline and amplifies the low band. Without a
// calibration phase the raw features are used as is.
func (d *Detector) adjust(raw features.Vector) features.Vector {
	if d.cfg.CalibrationFrames == 0 {
		return raw
	}
	return features.Vector{
		features.LowEnergy:    math.Max(0, raw[features.LowEnergy]-d.baseLow) * d.cfg.LowAmplifier,
		features.HighEnergy:   math.Max(0, raw[features.HighEnergy]-d.baseHigh),
		features.DominantFreq: raw[features.DominantFreq],
	}
}

// push records a result in the ring and returns the faults currently held.
func (d *Detector) push(label int) int {
	d.window[d.next] = label
	d.next = (d.next + 1) % len(d.window)
	if d.fill < len(d.window) {
		d.fill++
	}

	faults := 0
	for _, l := range d.window[:d.fill] {
		if l == LabelFault {
			faults++
		}
	}
	return faults
}
