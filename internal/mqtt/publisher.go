package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"iot-anomaly/internal/models"
)

// Publisher handles MQTT publishing from channels
type Publisher struct {
	client publishClient

	// Input channel (read by publisher, written by the detection service)
	DetectionChan chan *models.Detection

	detectionTopic string // e.g., "anomaly/{device_id}/state"
	retained       bool
}

// PublisherConfig holds configuration for MQTT publisher
type PublisherConfig struct {
	DetectionTopic string // e.g., "anomaly/{device_id}/state"
	Retained       bool   // keep the last verdict on the broker for late subscribers
}

// NewPublisher creates a new MQTT publisher reading from detectionChan
func NewPublisher(
	client publishClient,
	config PublisherConfig,
	detectionChan chan *models.Detection,
) *Publisher {
	return &Publisher{
		client:         client,
		DetectionChan:  detectionChan,
		detectionTopic: config.DetectionTopic,
		retained:       config.Retained,
	}
}

// Start begins publishing detections from the channel
// Runs until context is cancelled or channel is closed
func (p *Publisher) Start(ctx context.Context) {
	log.Info().Msg("MQTT Publisher: Starting...")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("MQTT Publisher: Context cancelled, shutting down...")
			return

		case detection, ok := <-p.DetectionChan:
			if !ok {
				log.Info().Msg("MQTT Publisher: Detection channel closed, shutting down...")
				return
			}

			if err := p.publishDetection(detection); err != nil {
				log.Error().Err(err).Str("device_id", detection.DeviceID).Msg("Error publishing detection")
			}
		}
	}
}

// publishDetection publishes one detector verdict
func (p *Publisher) publishDetection(d *models.Detection) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal detection: %w", err)
	}

	topic := formatTopic(p.detectionTopic, d.DeviceID)

	token := p.client.Publish(topic, 1, p.retained, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish detection: %w", token.Error())
	}

	log.Debug().Str("device_id", d.DeviceID).Str("state", d.State).Str("topic", topic).Msg("Published detection")
	return nil
}

// formatTopic replaces {device_id} placeholder with actual device ID
func formatTopic(topicPattern, deviceID string) string {
	return strings.ReplaceAll(topicPattern, "{device_id}", deviceID)
}
