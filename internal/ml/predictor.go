package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"iot-anomaly/internal/features"
	"iot-anomaly/internal/forest"
)

var ErrFeatureCount = errors.New("ml: model feature count does not match extractor")

// Model is the on-disk form of a trained classifier
type Model struct {
	Version       string         `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	FeatureNames  []string       `json:"feature_names"`
	SampleRate    int            `json:"sample_rate"`
	FrameSize     int            `json:"frame_size"`
	Seed          uint64         `json:"seed"`
	TrainAccuracy float64        `json:"train_accuracy"` // measured on the training set
	Forest        *forest.Forest `json:"forest"`
}

// Predictor handles ML predictions
type Predictor struct {
	model *Model
}

// NewPredictor creates a new predictor by loading the model from file
func NewPredictor(modelPath string) (*Predictor, error) {
	model, err := LoadModel(modelPath)
	if err != nil {
		return nil, err
	}

	p, err := NewPredictorFromModel(model)
	if err != nil {
		return nil, fmt.Errorf("invalid model %s: %w", modelPath, err)
	}

	log.Info().
		Str("path", modelPath).
		Str("version", model.Version).
		Int("trees", len(model.Forest.Trees)).
		Float64("train_accuracy", model.TrainAccuracy).
		Msg("Loaded anomaly model")

	return p, nil
}

// NewPredictorFromModel wraps an in-memory model
func NewPredictorFromModel(model *Model) (*Predictor, error) {
	if model == nil || model.Forest == nil || !model.Forest.Fitted() {
		return nil, forest.ErrNotFitted
	}
	if model.Forest.NFeatures != features.Count {
		return nil, fmt.Errorf("%w: model has %d, extractor produces %d",
			ErrFeatureCount, model.Forest.NFeatures, features.Count)
	}
	if err := model.Forest.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate forest: %w", err)
	}
	return &Predictor{model: model}, nil
}

// Predict classifies one feature vector. It returns the label and the
// probability the forest assigns to it.
func (p *Predictor) Predict(v features.Vector) (int, float64, error) {
	proba, err := p.model.Forest.PredictProba(v[:])
	if err != nil {
		return 0, 0, fmt.Errorf("failed to predict: %w", err)
	}

	label := 0
	for i := range proba {
		if proba[i] > proba[label] {
			label = i
		}
	}
	return label, proba[label], nil
}

// Version returns the model version string
func (p *Predictor) Version() string {
	return p.model.Version
}

// Model returns the underlying model
func (p *Predictor) Model() *Model {
	return p.model
}

// LoadModel reads a model written by SaveModel
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}

	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model: %w", err)
	}
	if model.Forest == nil {
		return nil, fmt.Errorf("model file %s has no forest: %w", path, forest.ErrNotFitted)
	}

	return &model, nil
}

// SaveModel writes the model as indented JSON
func SaveModel(path string, model *Model) error {
	data, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write model file: %w", err)
	}

	log.Info().Str("path", path).Msg("Saved anomaly model")
	return nil
}
