package models

import "time"

// Detection represents the detector verdict for one audio frame
type Detection struct {
	Timestamp    time.Time `json:"timestamp"`
	DeviceID     string    `json:"device_id"`
	State        string    `json:"state"`      // calibrating, normal, observing, alarm
	Prediction   int       `json:"prediction"` // 0 = normal, 1 = fault
	Confidence   float64   `json:"confidence"` // 0-1
	Forced       bool      `json:"forced"`     // safety net overrode the model
	LowEnergy    float64   `json:"low_energy"`
	HighEnergy   float64   `json:"high_energy"`
	DominantFreq float64   `json:"dominant_freq"`
	WindowFaults int       `json:"window_faults"`
	WindowSize   int       `json:"window_size"`
	VolumeDB     float64   `json:"volume_db"`
	ModelVersion string    `json:"model_version"`
}
