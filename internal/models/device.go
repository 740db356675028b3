package models

import "time"

// Device represents a listening device seen on the audio topic
type Device struct {
	DeviceID     string    `json:"device_id"`
	Name         string    `json:"name"`
	Location     string    `json:"location"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
	IsActive     bool      `json:"is_active"`
}
