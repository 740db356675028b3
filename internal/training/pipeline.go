// Package training runs the offline pipeline: generate the synthetic dataset,
// fit the forest, report its fit on the training data and write the C header
// and JSON model.
package training

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"iot-anomaly/internal/export"
	"iot-anomaly/internal/features"
	"iot-anomaly/internal/forest"
	"iot-anomaly/internal/ml"
	"iot-anomaly/internal/models"
	"iot-anomaly/internal/synth"
)

// Recorder persists the outcome of a run
type Recorder interface {
	SaveTrainingRun(ctx context.Context, run *models.TrainingRun) error
	SaveTrainingSamples(ctx context.Context, samples []models.TrainingSample) error
}

// Config holds everything a run needs
type Config struct {
	Seed       uint64 // dataset generator seed
	Generator  synth.Config
	Forest     forest.Params
	Export     export.Options
	HeaderPath string
	ModelPath  string // empty skips the JSON model
}

// DefaultConfig returns the reference configuration
func DefaultConfig() Config {
	return Config{
		Seed:       1,
		Generator:  synth.DefaultConfig(),
		Forest:     forest.DefaultParams(),
		Export:     export.DefaultOptions(),
		HeaderPath: "model.h",
		ModelPath:  "model.json",
	}
}

// Result describes a finished run
type Result struct {
	RunID    string
	Dataset  *synth.Dataset
	Forest   *forest.Forest
	Accuracy float64 // on the training set, not a generalization estimate
	Started  time.Time
	Duration time.Duration
}

// Run executes the pipeline. rec may be nil.
func Run(ctx context.Context, cfg Config, rec Recorder) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), Started: time.Now()}
	logger := log.With().Str("run_id", res.RunID).Logger()

	logger.Info().Uint64("seed", cfg.Seed).Msg("Generating synthetic dataset...")
	gen, err := synth.NewGenerator(cfg.Seed, cfg.Generator)
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}
	ds, err := gen.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate dataset: %w", err)
	}
	res.Dataset = ds

	counts := ds.ClassCounts()
	logger.Info().
		Int("samples", ds.Len()).
		Int("normal", counts[synth.Normal]).
		Int("fault", counts[synth.Fault]).
		Msg("Dataset ready")
	for _, s := range ds.Summary() {
		logger.Debug().
			Str("label", s.Label.String()).
			Int("count", s.Count).
			Str("mean", s.Mean.String()).
			Str("stddev", s.StdDev.String()).
			Msg("Class summary")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Info().
		Int("n_estimators", cfg.Forest.NEstimators).
		Int("max_depth", cfg.Forest.MaxDepth).
		Uint64("random_state", cfg.Forest.RandomState).
		Msg("Training random forest...")
	x, y := ds.Matrix(), ds.Labels()
	f := forest.New(cfg.Forest)
	if err := f.Fit(x, y); err != nil {
		return nil, fmt.Errorf("failed to train forest: %w", err)
	}
	res.Forest = f

	acc, err := f.Score(x, y)
	if err != nil {
		return nil, fmt.Errorf("failed to score forest: %w", err)
	}
	res.Accuracy = acc
	logger.Info().Int("nodes", f.NodeCount()).Msgf("Training accuracy: %.2f%% (measured on the training set)", acc*100)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := export.Save(cfg.HeaderPath, f, cfg.Export); err != nil {
		return nil, fmt.Errorf("failed to export header: %w", err)
	}
	logger.Info().Str("path", cfg.HeaderPath).Str("name", cfg.Export.Name).Msg("Exported C header")

	if cfg.ModelPath != "" {
		model := &ml.Model{
			Version:       res.RunID,
			CreatedAt:     res.Started.UTC(),
			FeatureNames:  features.Names[:],
			SampleRate:    cfg.Generator.SampleRate,
			FrameSize:     cfg.Generator.FrameSize,
			Seed:          cfg.Seed,
			TrainAccuracy: acc,
			Forest:        f,
		}
		if err := ml.SaveModel(cfg.ModelPath, model); err != nil {
			return nil, err
		}
	}

	res.Duration = time.Since(res.Started)

	if rec != nil {
		if err := record(ctx, rec, cfg, res); err != nil {
			return nil, err
		}
	}

	logger.Info().Dur("duration", res.Duration).Msg("Training run complete")
	return res, nil
}

func record(ctx context.Context, rec Recorder, cfg Config, res *Result) error {
	counts := res.Dataset.ClassCounts()
	run := &models.TrainingRun{
		RunID:         res.RunID,
		StartedAt:     res.Started,
		DurationMs:    float64(res.Duration.Microseconds()) / 1000,
		Seed:          cfg.Seed,
		NEstimators:   cfg.Forest.NEstimators,
		MaxDepth:      cfg.Forest.MaxDepth,
		RandomState:   cfg.Forest.RandomState,
		Samples:       res.Dataset.Len(),
		NormalCount:   counts[synth.Normal],
		FaultCount:    counts[synth.Fault],
		TrainAccuracy: res.Accuracy,
		HeaderPath:    cfg.HeaderPath,
		ModelPath:     cfg.ModelPath,
	}
	if err := rec.SaveTrainingRun(ctx, run); err != nil {
		return fmt.Errorf("failed to record training run: %w", err)
	}

	samples := make([]models.TrainingSample, res.Dataset.Len())
	for i, ex := range res.Dataset.Examples {
		samples[i] = models.TrainingSample{
			RunID:        res.RunID,
			Index:        i,
			Label:        int(ex.Label),
			LowEnergy:    ex.Features[features.LowEnergy],
			HighEnergy:   ex.Features[features.HighEnergy],
			DominantFreq: ex.Features[features.DominantFreq],
		}
	}
	if err := rec.SaveTrainingSamples(ctx, samples); err != nil {
		return fmt.Errorf("failed to record training samples: %w", err)
	}
	return nil
}
