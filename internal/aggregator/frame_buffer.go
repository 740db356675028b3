package aggregator

import (
	"sync"
)

// deviceBuffer holds the not yet framed samples of one device
type deviceBuffer struct {
	mu      sync.Mutex
	pending []float64
}

// FrameBuffer slices per-device sample streams into fixed-size frames
type FrameBuffer struct {
	frameSize int
	devices   map[string]*deviceBuffer
	mu        sync.RWMutex
}

// NewFrameBuffer creates a new frame buffer emitting frames of frameSize samples
func NewFrameBuffer(frameSize int) *FrameBuffer {
	return &FrameBuffer{
		frameSize: frameSize,
		devices:   make(map[string]*deviceBuffer),
	}
}

// getOrCreateDevice gets or creates a device buffer
func (fb *FrameBuffer) getOrCreateDevice(deviceID string) *deviceBuffer {
	fb.mu.RLock()
	device, exists := fb.devices[deviceID]
	fb.mu.RUnlock()
	if exists {
		return device
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if device, exists := fb.devices[deviceID]; exists {
		return device
	}
	device = &deviceBuffer{pending: make([]float64, 0, fb.frameSize)}
	fb.devices[deviceID] = device
	return device
}

// Push appends samples for a device and returns every frame completed by them.
// Leftover samples stay buffered for the next call.
func (fb *FrameBuffer) Push(deviceID string, samples []float64) [][]float64 {
	device := fb.getOrCreateDevice(deviceID)

	device.mu.Lock()
	defer device.mu.Unlock()

	device.pending = append(device.pending, samples...)

	var frames [][]float64
	for len(device.pending) >= fb.frameSize {
		frame := make([]float64, fb.frameSize)
		copy(frame, device.pending[:fb.frameSize])
		frames = append(frames, frame)
		device.pending = device.pending[fb.frameSize:]
	}

	// Compact so the backing array does not grow without bound
	if len(device.pending) > 0 {
		rest := make([]float64, len(device.pending), fb.frameSize)
		copy(rest, device.pending)
		device.pending = rest
	} else {
		device.pending = device.pending[:0:0]
	}

	return frames
}

// Pending returns the number of buffered samples for a device
func (fb *FrameBuffer) Pending(deviceID string) int {
	fb.mu.RLock()
	device, exists := fb.devices[deviceID]
	fb.mu.RUnlock()
	if !exists {
		return 0
	}

	device.mu.Lock()
	defer device.mu.Unlock()
	return len(device.pending)
}

// Reset drops buffered samples for a device
func (fb *FrameBuffer) Reset(deviceID string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	delete(fb.devices, deviceID)
}
