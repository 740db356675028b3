package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog/log"

	"iot-anomaly/internal/models"
)

type ClickHouseDB struct {
	conn driver.Conn
}

// Options holds the ClickHouse connection settings
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(ctx context.Context, opts Options) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})

	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	return open(ctx, conn, opts.Addr)
}

// open verifies conn and prepares the schema. conn is closed on failure.
func open(ctx context.Context, conn driver.Conn, addr string) (*ClickHouseDB, error) {
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Info().Str("addr", addr).Msg("Connected to ClickHouse")

	db := &ClickHouseDB{conn: conn}

	// Initialize schema
	if err := db.InitSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// InitSchema creates the necessary tables if they don't exist
func (db *ClickHouseDB) InitSchema(ctx context.Context) error {
	for _, tableSQL := range AllTables() {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	log.Info().Msg("Database schema initialized successfully")
	return nil
}

// SaveDetection saves a detector verdict to the database
func (db *ClickHouseDB) SaveDetection(ctx context.Context, d *models.Detection) error {
	query := `
		INSERT INTO detections (timestamp, device_id, state, prediction, confidence, forced,
			low_energy, high_energy, dominant_freq, window_faults, window_size, volume_db, model_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		d.Timestamp,
		d.DeviceID,
		d.State,
		uint8(d.Prediction),
		d.Confidence,
		d.Forced,
		d.LowEnergy,
		d.HighEnergy,
		d.DominantFreq,
		uint8(d.WindowFaults),
		uint8(d.WindowSize),
		d.VolumeDB,
		d.ModelVersion,
	)

	if err != nil {
		return fmt.Errorf("failed to insert detection: %w", err)
	}

	return nil
}

// SaveTrainingRun saves the summary of a training run
func (db *ClickHouseDB) SaveTrainingRun(ctx context.Context, run *models.TrainingRun) error {
	query := `
		INSERT INTO training_runs (run_id, started_at, duration_ms, seed, n_estimators, max_depth,
			random_state, samples, normal_count, fault_count, train_accuracy, header_path, model_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		run.RunID,
		run.StartedAt,
		run.DurationMs,
		run.Seed,
		uint32(run.NEstimators),
		uint32(run.MaxDepth),
		run.RandomState,
		uint32(run.Samples),
		uint32(run.NormalCount),
		uint32(run.FaultCount),
		run.TrainAccuracy,
		run.HeaderPath,
		run.ModelPath,
	)

	if err != nil {
		return fmt.Errorf("failed to insert training run: %w", err)
	}

	log.Info().Str("run_id", run.RunID).Msg("Saved training run to ClickHouse")
	return nil
}

// SaveTrainingSamples batch-inserts the generated dataset of a run
func (db *ClickHouseDB) SaveTrainingSamples(ctx context.Context, samples []models.TrainingSample) error {
	if len(samples) == 0 {
		return nil
	}

	batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO training_samples")
	if err != nil {
		return fmt.Errorf("failed to prepare training sample batch: %w", err)
	}

	for _, s := range samples {
		if err := batch.Append(
			s.RunID,
			uint32(s.Index),
			uint8(s.Label),
			s.LowEnergy,
			s.HighEnergy,
			s.DominantFreq,
		); err != nil {
			return fmt.Errorf("failed to append training sample %d: %w", s.Index, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send training sample batch: %w", err)
	}

	return nil
}

// UpsertDevice inserts or updates a device in the registry
func (db *ClickHouseDB) UpsertDevice(ctx context.Context, device *models.Device) error {
	query := `
		INSERT INTO device_registry (device_id, name, location, registered_at, last_seen, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		device.DeviceID,
		device.Name,
		device.Location,
		device.RegisteredAt,
		device.LastSeen,
		device.IsActive,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}

	return nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		if err := db.conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
		log.Info().Msg("ClickHouse connection closed")
	}
	return nil
}
