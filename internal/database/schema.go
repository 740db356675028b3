package database

// SQL schemas for all ClickHouse tables

const (
	// DetectionsTableSQL creates the detections table
	DetectionsTableSQL = `
		CREATE TABLE IF NOT EXISTS detections (
			timestamp DateTime64(3),
			device_id String,
			state LowCardinality(String),
			prediction UInt8,
			confidence Float64,
			forced Bool,
			low_energy Float64,
			high_energy Float64,
			dominant_freq Float64,
			window_faults UInt8,
			window_size UInt8,
			volume_db Float64,
			model_version String
		) ENGINE = MergeTree()
		ORDER BY (device_id, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`

	// TrainingRunsTableSQL creates the training_runs table
	TrainingRunsTableSQL = `
		CREATE TABLE IF NOT EXISTS training_runs (
			run_id String,
			started_at DateTime64(3),
			duration_ms Float64,
			seed UInt64,
			n_estimators UInt32,
			max_depth UInt32,
			random_state UInt64,
			samples UInt32,
			normal_count UInt32,
			fault_count UInt32,
			train_accuracy Float64,
			header_path String,
			model_path String
		) ENGINE = MergeTree()
		ORDER BY (started_at, run_id)
	`

	// TrainingSamplesTableSQL creates the training_samples table
	TrainingSamplesTableSQL = `
		CREATE TABLE IF NOT EXISTS training_samples (
			run_id String,
			idx UInt32,
			label UInt8,
			low_energy Float64,
			high_energy Float64,
			dominant_freq Float64
		) ENGINE = MergeTree()
		ORDER BY (run_id, idx)
	`

	// DeviceRegistryTableSQL creates the device_registry table
	DeviceRegistryTableSQL = `
		CREATE TABLE IF NOT EXISTS device_registry (
			device_id String,
			name String,
			location String,
			registered_at DateTime64(3),
			last_seen DateTime64(3),
			is_active Bool
		) ENGINE = ReplacingMergeTree(last_seen)
		ORDER BY device_id
	`
)

// AllTables returns the CREATE statements in creation order
func AllTables() []string {
	return []string{
		DetectionsTableSQL,
		TrainingRunsTableSQL,
		TrainingSamplesTableSQL,
		DeviceRegistryTableSQL,
	}
}
