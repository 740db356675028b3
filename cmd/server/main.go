package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"iot-anomaly/internal/database"
	"iot-anomaly/internal/metrics"
	"iot-anomaly/internal/ml"
	"iot-anomaly/internal/mqtt"
	"iot-anomaly/internal/services"
	"iot-anomaly/pkg/config"
)

func main() {
	// Load configuration
	cfg := config.Load()
	config.SetupLogging(cfg.LogLevel)

	log.Info().Msg("Starting audio anomaly detection server...")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === Load model ===
	predictor, err := ml.NewPredictor(cfg.ModelPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.ModelPath).Msg("Failed to load model, run the train command first")
	}

	// === Initialize ClickHouse database ===
	var store services.Store
	db, err := openClickHouse(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("ClickHouse unavailable, continuing without persistence")
	} else {
		defer db.Close()
		store = db
	}

	// === Metrics ===
	m := metrics.New()
	startMetricsServer(ctx, cfg.MetricsAddr)

	// === Initialize Detection Service ===
	serviceConfig := services.DefaultDetectionServiceConfig()
	serviceConfig.Audio.Gain = cfg.DetectorGain
	serviceConfig.Detector.CalibrationFrames = cfg.DetectorCalibrationFrames
	serviceConfig.Detector.LowAmplifier = cfg.DetectorLowAmplifier
	serviceConfig.Detector.SafetyThreshold = cfg.DetectorSafetyThreshold
	serviceConfig.Detector.WindowSize = cfg.DetectorWindowSize
	serviceConfig.Detector.AlarmThreshold = cfg.DetectorAlarmThreshold
	serviceConfig.ModelVersion = predictor.Version()

	detectionService := services.NewDetectionService(predictor, store, m, serviceConfig)

	// === Initialize MQTT Client ===
	log.Info().Msg("Connecting to MQTT broker...")
	mqttClient, err := mqtt.NewClient(mqtt.ClientConfig{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize MQTT client")
	}
	defer mqttClient.Close()

	// === Initialize MQTT Subscriber (MQTT → DetectionService) ===
	subscriber := mqtt.NewSubscriber(
		mqttClient.GetNativeClient(),
		mqtt.SubscriberConfig{AudioTopic: cfg.MQTTTopicAudio},
		detectionService.AudioChan,
	)
	if err := subscriber.SubscribeAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to MQTT topics")
	}

	// === Initialize MQTT Publisher (DetectionService → MQTT) ===
	publisher := mqtt.NewPublisher(
		mqttClient.GetNativeClient(),
		mqtt.PublisherConfig{DetectionTopic: cfg.MQTTTopicDetection},
		detectionService.DetectionChan,
	)

	go publisher.Start(ctx)
	go detectionService.Start(ctx)

	log.Info().
		Str("audio_topic", cfg.MQTTTopicAudio).
		Str("detection_topic", cfg.MQTTTopicDetection).
		Str("model_version", predictor.Version()).
		Str("metrics_addr", cfg.MetricsAddr).
		Msg("=== Anomaly detection server is running ===")

	// === Wait for interrupt signal ===
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// === Graceful shutdown ===
	log.Info().Msg("Shutdown signal received, stopping services...")
	cancel()

	// Give services time to finish processing
	time.Sleep(2 * time.Second)

	log.Info().Msg("Shutdown complete")
}

func openClickHouse(ctx context.Context, cfg *config.Config) (*database.ClickHouseDB, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return database.NewClickHouseDB(ctx, database.Options{
		Addr:     cfg.ClickHouseAddr,
		Database: cfg.ClickHouseDB,
		Username: cfg.ClickHouseUser,
		Password: cfg.ClickHousePass,
	})
}

// startMetricsServer serves Prometheus metrics and a health check until ctx is done
func startMetricsServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		if err := server.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown metrics server")
		}
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}
