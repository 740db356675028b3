package models

import "time"

// TrainingRun records one execution of the training pipeline
type TrainingRun struct {
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	DurationMs    float64   `json:"duration_ms"`
	Seed          uint64    `json:"seed"`
	NEstimators   int       `json:"n_estimators"`
	MaxDepth      int       `json:"max_depth"`
	RandomState   uint64    `json:"random_state"`
	Samples       int       `json:"samples"`
	NormalCount   int       `json:"normal_count"`
	FaultCount    int       `json:"fault_count"`
	TrainAccuracy float64   `json:"train_accuracy"` // training-set fit, not a held-out estimate
	HeaderPath    string    `json:"header_path"`
	ModelPath     string    `json:"model_path"`
}

// TrainingSample is one generated feature vector with its label
type TrainingSample struct {
	RunID        string  `json:"run_id"`
	Index        int     `json:"index"`
	Label        int     `json:"label"`
	LowEnergy    float64 `json:"low_energy"`
	HighEnergy   float64 `json:"high_energy"`
	DominantFreq float64 `json:"dominant_freq"`
}
