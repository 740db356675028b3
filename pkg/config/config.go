package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// MQTT Configuration
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	// MQTT topics
	MQTTTopicAudio     string // devices publish PCM frames here
	MQTTTopicDetection string // detector verdicts, {device_id} is replaced

	// ClickHouse Configuration
	ClickHouseAddr string
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string

	// Model artifacts
	ModelPath       string
	ModelHeaderPath string
	ModelName       string

	// Training
	TrainSeed uint64
	TrainJobs int

	// Detector tuning
	DetectorGain              float64
	DetectorCalibrationFrames int
	DetectorLowAmplifier      float64
	DetectorSafetyThreshold   float64
	DetectorWindowSize        int
	DetectorAlarmThreshold    int

	// Server
	MetricsAddr string
	LogLevel    string
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		// MQTT Configuration
		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "anomaly-detector"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),

		// MQTT topics
		MQTTTopicAudio:     getEnv("MQTT_TOPIC_AUDIO", "sensor/+/audio"),
		MQTTTopicDetection: getEnv("MQTT_TOPIC_DETECTION", "anomaly/{device_id}/state"),

		// ClickHouse Configuration
		ClickHouseAddr: getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "iot"),
		ClickHouseUser: getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePass: getEnv("CLICKHOUSE_PASS", ""),

		// Model artifacts
		ModelPath:       getEnv("MODEL_PATH", "./model.json"),
		ModelHeaderPath: getEnv("MODEL_HEADER_PATH", "./model.h"),
		ModelName:       getEnv("MODEL_NAME", "anomaly_detector"),

		// Training
		TrainSeed: getEnvUint64("TRAIN_SEED", 1),
		TrainJobs: getEnvInt("TRAIN_JOBS", 0),

		// Detector tuning
		DetectorGain:              getEnvFloat("DETECTOR_GAIN", 1.0),
		DetectorCalibrationFrames: getEnvInt("DETECTOR_CALIBRATION_FRAMES", 100),
		DetectorLowAmplifier:      getEnvFloat("DETECTOR_LOW_AMPLIFIER", 7.0),
		DetectorSafetyThreshold:   getEnvFloat("DETECTOR_SAFETY_THRESHOLD", 0.6),
		DetectorWindowSize:        getEnvInt("DETECTOR_WINDOW_SIZE", 6),
		DetectorAlarmThreshold:    getEnvInt("DETECTOR_ALARM_THRESHOLD", 2),

		// Server
		MetricsAddr: getEnv("METRICS_ADDR", ":9102"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to parse float, using default")
		return defaultValue
	}
	return floatValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to parse int, using default")
		return defaultValue
	}
	return intValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	uintValue, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to parse uint64, using default")
		return defaultValue
	}
	return uintValue
}
