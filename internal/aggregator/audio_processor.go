package aggregator

import (
	"encoding/binary"
	"math"

	"github.com/rs/zerolog/log"
)

// AudioConfig holds configuration for audio processing
type AudioConfig struct {
	Gain           float64 // software gain applied after normalization
	ReferenceLevel float64 // full scale for dB calculation
	MinimumRMS     float64 // silence floor, avoids log(0)
	ClipLevel      float64 // absolute sample value treated as clipping
}

// DefaultAudioConfig returns default audio processing configuration
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		Gain:           1.0,
		ReferenceLevel: 1.0,
		MinimumRMS:     1e-4, // -80 dBFS
		ClipLevel:      32000.0 / 32768.0,
	}
}

// DecodePCM16 converts 16-bit little-endian PCM to floats in [-1, 1)
// scaled by gain. A trailing odd byte is ignored.
func DecodePCM16(data []byte, gain float64) []float64 {
	if len(data)%2 != 0 {
		log.Warn().Int("bytes", len(data)).Msg("Audio data not aligned to 16-bit samples, truncating")
	}

	out := make([]float64, len(data)/2)
	for i := range out {
		sample := int16(binary.LittleEndian.Uint16(data[2*i : 2*i+2]))
		out[i] = float64(sample) / 32768.0 * gain
	}
	return out
}

// FrameMetrics provides basic level metrics of a frame
type FrameMetrics struct {
	RMS        float64
	VolumeDB   float64
	Peak       float64
	IsClipping bool
	IsSilent   bool
}

// AnalyzeFrame computes level metrics of normalized samples
func AnalyzeFrame(samples []float64, config AudioConfig) FrameMetrics {
	metrics := FrameMetrics{}
	if len(samples) == 0 {
		metrics.IsSilent = true
		metrics.RMS = config.MinimumRMS
		metrics.VolumeDB = calculateDecibels(metrics.RMS, config.ReferenceLevel)
		return metrics
	}

	var sumSquares float64
	for _, s := range samples {
		abs := math.Abs(s)
		if abs > metrics.Peak {
			metrics.Peak = abs
		}
		if abs > config.ClipLevel {
			metrics.IsClipping = true
		}
		sumSquares += s * s
	}

	metrics.RMS = math.Sqrt(sumSquares / float64(len(samples)))
	if metrics.RMS < config.MinimumRMS {
		metrics.IsSilent = true
		metrics.RMS = config.MinimumRMS
	}
	metrics.VolumeDB = calculateDecibels(metrics.RMS, config.ReferenceLevel)

	return metrics
}

// RemoveDC subtracts the mean so the frame is centered at zero
func RemoveDC(samples []float64) {
	if len(samples) == 0 {
		return
	}
	var mean float64
	for _, s := range samples {
		mean += s
	}
	mean /= float64(len(samples))
	for i := range samples {
		samples[i] -= mean
	}
}

// calculateDecibels converts RMS value to decibels
// Formula: dB = 20 * log10(RMS / reference)
func calculateDecibels(rms float64, reference float64) float64 {
	if rms <= 0 || reference <= 0 {
		return -80.0
	}

	db := 20.0 * math.Log10(rms/reference)

	// Clamp to reasonable bounds
	if db < -80.0 {
		db = -80.0
	}
	if db > 0.0 {
		db = 0.0
	}

	return db
}
