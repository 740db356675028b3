package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"iot-anomaly/internal/aggregator"
	"iot-anomaly/internal/detector"
	"iot-anomaly/internal/features"
	"iot-anomaly/internal/metrics"
	"iot-anomaly/internal/models"
)

const audioFormatPCM16 = "pcm16le"

// Store persists detections and keeps the device registry current
type Store interface {
	SaveDetection(ctx context.Context, d *models.Detection) error
	UpsertDevice(ctx context.Context, device *models.Device) error
}

// DetectionServiceConfig holds configuration for the detection service
type DetectionServiceConfig struct {
	Detector         detector.Config
	Audio            aggregator.AudioConfig
	FrameSize        int
	ChannelSize      int
	PublishTimeout   time.Duration // wait on a full publisher channel before dropping
	DeviceRefresh    time.Duration // minimum interval between last_seen updates
	StaleAfter       time.Duration // audio further apart is not joined into one frame
	RecalibrateAfter time.Duration // a device silent this long calibrates again
	ModelVersion     string
}

// DefaultDetectionServiceConfig returns default configuration
func DefaultDetectionServiceConfig() DetectionServiceConfig {
	return DetectionServiceConfig{
		Detector:         detector.DefaultConfig(),
		Audio:            aggregator.DefaultAudioConfig(),
		FrameSize:        features.FrameSize,
		ChannelSize:      50,
		PublishTimeout:   time.Second,
		DeviceRefresh:    time.Minute,
		StaleAfter:       5 * time.Second,
		RecalibrateAfter: 10 * time.Minute,
	}
}

// deviceState is everything the service tracks per device
type deviceState struct {
	detector  *detector.Detector
	lastState detector.State
	firstSeen time.Time
	savedSeen time.Time
	lastAudio time.Time
}

// DetectionService turns audio recordings into detector verdicts
type DetectionService struct {
	clf     detector.Classifier
	store   Store
	metrics *metrics.Metrics
	config  DetectionServiceConfig

	// Input channel from the MQTT subscriber
	AudioChan chan *models.AudioRecording
	// Output channel to the MQTT publisher
	DetectionChan chan *models.Detection

	frames *aggregator.FrameBuffer

	mu      sync.Mutex
	devices map[string]*deviceState
}

// NewDetectionService creates a new detection service. store may be nil, in
// which case nothing is persisted.
func NewDetectionService(
	clf detector.Classifier,
	store Store,
	m *metrics.Metrics,
	config DetectionServiceConfig,
) *DetectionService {
	return &DetectionService{
		clf:           clf,
		store:         store,
		metrics:       m,
		config:        config,
		AudioChan:     make(chan *models.AudioRecording, config.ChannelSize),
		DetectionChan: make(chan *models.Detection, config.ChannelSize),
		frames:        aggregator.NewFrameBuffer(config.FrameSize),
		devices:       make(map[string]*deviceState),
	}
}

// Start processes audio until the context is cancelled or AudioChan is closed.
// DetectionChan is closed on return.
func (s *DetectionService) Start(ctx context.Context) {
	log.Info().
		Int("frame_size", s.config.FrameSize).
		Int("calibration_frames", s.config.Detector.CalibrationFrames).
		Int("window", s.config.Detector.WindowSize).
		Int("alarm_threshold", s.config.Detector.AlarmThreshold).
		Msg("DetectionService: Starting...")

	defer func() {
		close(s.DetectionChan)
		log.Info().Msg("DetectionService: Shutdown complete")
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("DetectionService: Shutting down...")
			return
		case recording, ok := <-s.AudioChan:
			if !ok {
				log.Info().Msg("DetectionService: Audio channel closed, shutting down...")
				return
			}
			s.processAudio(ctx, recording)
		}
	}
}

// processAudio handles a single audio recording
func (s *DetectionService) processAudio(ctx context.Context, rec *models.AudioRecording) {
	s.metrics.MessagesReceived.Inc()

	sampleRate := rec.SampleRate
	if sampleRate == 0 {
		sampleRate = s.config.Detector.SampleRate
	}
	if sampleRate != s.config.Detector.SampleRate {
		s.metrics.DecodeErrors.Inc()
		log.Warn().
			Str("device_id", rec.DeviceID).
			Int("sample_rate", rec.SampleRate).
			Int("expected", s.config.Detector.SampleRate).
			Msg("Unsupported sample rate, dropping audio")
		return
	}
	if rec.Format != "" && rec.Format != audioFormatPCM16 {
		s.metrics.DecodeErrors.Inc()
		log.Warn().Str("device_id", rec.DeviceID).Str("format", rec.Format).Msg("Unsupported audio format, dropping audio")
		return
	}

	state, err := s.device(rec.DeviceID, rec.Timestamp)
	if err != nil {
		s.metrics.DecodeErrors.Inc()
		log.Error().Err(err).Str("device_id", rec.DeviceID).Msg("Failed to create detector")
		return
	}
	s.registerDevice(ctx, rec.DeviceID, state, rec.Timestamp)
	s.checkGap(rec.DeviceID, state, rec.Timestamp)

	samples := aggregator.DecodePCM16(rec.Data, s.config.Audio.Gain)
	for _, frame := range s.frames.Push(rec.DeviceID, samples) {
		s.processFrame(ctx, rec, state, frame)
	}
}

// processFrame runs one complete frame through the device detector
func (s *DetectionService) processFrame(ctx context.Context, rec *models.AudioRecording, state *deviceState, frame []float64) {
	level := aggregator.AnalyzeFrame(frame, s.config.Audio)
	wasCalibrated := state.detector.Calibrated()

	start := time.Now()
	dec, err := state.detector.Process(frame)
	s.metrics.InferenceLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Error().Err(err).Str("device_id", rec.DeviceID).Msg("Failed to process frame")
		return
	}

	s.metrics.FramesProcessed.Inc()
	s.metrics.FrameVolume.Observe(level.VolumeDB)
	s.metrics.ObserveDetection(string(dec.State), dec.Forced, dec.Confidence)

	if !wasCalibrated && state.detector.Calibrated() {
		s.metrics.CalibratingDevs.Dec()
		low, high := state.detector.Baseline()
		log.Info().
			Str("device_id", rec.DeviceID).
			Float64("base_low", low).
			Float64("base_high", high).
			Msg("Calibration complete")
	}

	if dec.State == detector.StateAlarm && state.lastState != detector.StateAlarm {
		s.metrics.Alarms.Inc()
		log.Warn().
			Str("device_id", rec.DeviceID).
			Int("faults", dec.WindowFaults).
			Float64("dominant_freq", dec.Raw[features.DominantFreq]).
			Msg("Anomaly alarm raised")
	} else if dec.State != detector.StateAlarm && state.lastState == detector.StateAlarm {
		log.Info().Str("device_id", rec.DeviceID).Str("state", string(dec.State)).Msg("Anomaly alarm cleared")
	}
	state.lastState = dec.State

	v := dec.Features
	if dec.State == detector.StateCalibrating {
		v = dec.Raw
	}
	detection := &models.Detection{
		Timestamp:    rec.Timestamp,
		DeviceID:     rec.DeviceID,
		State:        string(dec.State),
		Prediction:   dec.Prediction,
		Confidence:   dec.Confidence,
		Forced:       dec.Forced,
		LowEnergy:    v[features.LowEnergy],
		HighEnergy:   v[features.HighEnergy],
		DominantFreq: v[features.DominantFreq],
		WindowFaults: dec.WindowFaults,
		WindowSize:   dec.WindowFill,
		VolumeDB:     level.VolumeDB,
		ModelVersion: s.config.ModelVersion,
	}

	s.publish(detection)
	s.save(ctx, detection)
}

// publish hands a detection to the publisher, dropping it if the channel stays full
func (s *DetectionService) publish(d *models.Detection) {
	select {
	case s.DetectionChan <- d:
	case <-time.After(s.config.PublishTimeout):
		s.metrics.PublishDrops.Inc()
		log.Warn().Str("device_id", d.DeviceID).Msg("Detection channel full, dropping message")
	}
}

func (s *DetectionService) save(ctx context.Context, d *models.Detection) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveDetection(ctx, d); err != nil {
		s.metrics.StoreErrors.Inc()
		log.Error().Err(err).Str("device_id", d.DeviceID).Msg("Error saving detection")
	}
}

// device returns the tracked state of a device, creating it on first sight
func (s *DetectionService) device(deviceID string, now time.Time) (*deviceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.devices[deviceID]; ok {
		return state, nil
	}

	det, err := detector.New(s.config.Detector, s.clf)
	if err != nil {
		return nil, err
	}
	state := &deviceState{detector: det, firstSeen: now}
	s.devices[deviceID] = state

	if !det.Calibrated() {
		s.metrics.CalibratingDevs.Inc()
	}
	log.Info().Str("device_id", deviceID).Msg("New device, starting calibration")
	return state, nil
}

// registerDevice upserts the device on first sight and refreshes last_seen
// at most once per DeviceRefresh
func (s *DetectionService) registerDevice(ctx context.Context, deviceID string, state *deviceState, now time.Time) {
	if s.store == nil {
		return
	}
	if !state.savedSeen.IsZero() && now.Sub(state.savedSeen) < s.config.DeviceRefresh {
		return
	}

	device := &models.Device{
		DeviceID:     deviceID,
		Name:         deviceID,
		Location:     "Unknown",
		RegisteredAt: state.firstSeen,
		LastSeen:     now,
		IsActive:     true,
	}
	if err := s.store.UpsertDevice(ctx, device); err != nil {
		s.metrics.StoreErrors.Inc()
		log.Error().Err(err).Str("device_id", deviceID).Msg("Error registering device")
		return
	}
	state.savedSeen = now
}

// checkGap drops partial frames after a pause in the stream and starts a new
// calibration after a long one
func (s *DetectionService) checkGap(deviceID string, state *deviceState, now time.Time) {
	last := state.lastAudio
	state.lastAudio = now
	if last.IsZero() {
		return
	}

	gap := now.Sub(last)
	if s.config.StaleAfter > 0 && gap > s.config.StaleAfter {
		s.frames.Reset(deviceID)
	}
	if s.config.RecalibrateAfter > 0 && gap > s.config.RecalibrateAfter {
		if state.detector.Calibrated() && s.config.Detector.CalibrationFrames > 0 {
			s.metrics.CalibratingDevs.Inc()
		}
		state.detector.Reset()
		state.lastState = ""
		log.Info().Str("device_id", deviceID).Dur("gap", gap).Msg("Device was silent, recalibrating")
	}
}

// Devices returns the IDs of every device seen so far
func (s *DetectionService) Devices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	return ids
}
