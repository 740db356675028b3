package models

import "time"

// AudioPayload represents the incoming audio MQTT message structure
type AudioPayload struct {
	Data       []byte `json:"data"`        // base64 encoded PCM16LE in JSON
	SampleRate int    `json:"sample_rate"` // Hz
	Format     string `json:"format"`      // "pcm16le" when empty
}

// AudioRecording represents one chunk of audio received from a device
type AudioRecording struct {
	Timestamp  time.Time `json:"timestamp"`
	DeviceID   string    `json:"device_id"`
	Data       []byte    `json:"-"`
	SampleRate int       `json:"sample_rate"`
	Format     string    `json:"format"`
}
