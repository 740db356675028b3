package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"iot-anomaly/internal/models"
)

const defaultAudioFormat = "pcm16le"

// Subscriber handles MQTT subscriptions and writes messages to channels
type Subscriber struct {
	client subscribeClient

	// Output channel (written by subscriber, read by the detection service)
	AudioChan chan *models.AudioRecording

	audioTopic  string
	sendTimeout time.Duration
}

// SubscriberConfig holds configuration for MQTT subscriber
type SubscriberConfig struct {
	AudioTopic  string        // e.g., "sensor/+/audio"
	SendTimeout time.Duration // how long to wait on a full channel before dropping
}

// NewSubscriber creates a new MQTT subscriber writing to audioChan
func NewSubscriber(
	client subscribeClient,
	config SubscriberConfig,
	audioChan chan *models.AudioRecording,
) *Subscriber {
	timeout := config.SendTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Subscriber{
		client:      client,
		AudioChan:   audioChan,
		audioTopic:  config.AudioTopic,
		sendTimeout: timeout,
	}
}

// SubscribeAll subscribes to all configured topics
func (s *Subscriber) SubscribeAll() error {
	if s.audioTopic == "" {
		return fmt.Errorf("failed to subscribe: no audio topic configured")
	}

	token := s.client.Subscribe(s.audioTopic, 1, s.handleAudio)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to audio topic: %w", token.Error())
	}

	log.Info().Str("topic", s.audioTopic).Msg("Subscribed to audio topic")
	return nil
}

// handleAudio processes audio messages and writes them to the channel
func (s *Subscriber) handleAudio(_ mqtt.Client, msg mqtt.Message) {
	var payload models.AudioPayload

	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic()).Msg("Error unmarshaling audio data")
		return
	}

	// Extract device ID from topic (sensor/{device_id}/audio)
	deviceID := extractDeviceID(msg.Topic())
	if deviceID == "" {
		log.Warn().Str("topic", msg.Topic()).Msg("Could not extract device ID from topic")
		return
	}

	if len(payload.Data) == 0 {
		log.Warn().Str("device_id", deviceID).Msg("Empty audio payload, dropping")
		return
	}

	format := payload.Format
	if format == "" {
		format = defaultAudioFormat
	}

	// payload.Data is already decoded from base64 by json.Unmarshal
	recording := &models.AudioRecording{
		Timestamp:  time.Now(),
		DeviceID:   deviceID,
		Data:       payload.Data,
		SampleRate: payload.SampleRate,
		Format:     format,
	}

	log.Debug().
		Str("device_id", deviceID).
		Int("bytes", len(payload.Data)).
		Int("sample_rate", payload.SampleRate).
		Msg("Received audio")

	// Write to channel (non-blocking with timeout)
	select {
	case s.AudioChan <- recording:
	case <-time.After(s.sendTimeout):
		log.Warn().Str("device_id", deviceID).Msg("Audio channel full, dropping message")
	}
}

// extractDeviceID extracts device ID from MQTT topic
// Example: "sensor/esp32-01/audio" -> "esp32-01"
func extractDeviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
