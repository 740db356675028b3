package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iot-anomaly/internal/models"
)

type fakeToken struct {
	mqtt.Token
	err error
}

func (t *fakeToken) Wait() bool   { return true }
func (t *fakeToken) Error() error { return t.err }

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeBroker struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published []published
	err       error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBroker) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.handlers[topic] = callback
	}
	return &fakeToken{err: b.err}
}

func (b *fakeBroker) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.published = append(b.published, published{topic: topic, retained: retained, payload: payload.([]byte)})
	}
	return &fakeToken{err: b.err}
}

func (b *fakeBroker) messages() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}

func TestSubscriber_DeliversAudio(t *testing.T) {
	broker := newFakeBroker()
	audio := make(chan *models.AudioRecording, 1)
	sub := NewSubscriber(broker, SubscriberConfig{AudioTopic: "sensor/+/audio"}, audio)
	require.NoError(t, sub.SubscribeAll())

	handler := broker.handlers["sensor/+/audio"]
	require.NotNil(t, handler)

	// {"data": base64(0x01 0x02 0x03 0x04)}
	handler(nil, &fakeMessage{
		topic:   "sensor/esp32-01/audio",
		payload: []byte(`{"data":"AQIDBA==","sample_rate":16000}`),
	})

	select {
	case rec := <-audio:
		assert.Equal(t, "esp32-01", rec.DeviceID)
		assert.Equal(t, []byte{1, 2, 3, 4}, rec.Data)
		assert.Equal(t, 16000, rec.SampleRate)
		assert.Equal(t, "pcm16le", rec.Format)
		assert.False(t, rec.Timestamp.IsZero())
	default:
		t.Fatal("no recording delivered")
	}
}

func TestSubscriber_DropsMalformed(t *testing.T) {
	audio := make(chan *models.AudioRecording, 4)
	sub := NewSubscriber(newFakeBroker(), SubscriberConfig{AudioTopic: "sensor/+/audio"}, audio)

	sub.handleAudio(nil, &fakeMessage{topic: "sensor/dev/audio", payload: []byte("not json")})
	sub.handleAudio(nil, &fakeMessage{topic: "audio", payload: []byte(`{"data":"AQI="}`)})
	sub.handleAudio(nil, &fakeMessage{topic: "sensor/dev/audio", payload: []byte(`{"sample_rate":16000}`)})

	assert.Empty(t, audio)
}

func TestSubscriber_DropsWhenChannelFull(t *testing.T) {
	audio := make(chan *models.AudioRecording)
	sub := NewSubscriber(newFakeBroker(), SubscriberConfig{
		AudioTopic:  "sensor/+/audio",
		SendTimeout: 10 * time.Millisecond,
	}, audio)

	done := make(chan struct{})
	go func() {
		sub.handleAudio(nil, &fakeMessage{topic: "sensor/dev/audio", payload: []byte(`{"data":"AQI="}`)})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler blocked on a full channel")
	}
}

func TestSubscriber_Errors(t *testing.T) {
	audio := make(chan *models.AudioRecording)

	err := NewSubscriber(newFakeBroker(), SubscriberConfig{}, audio).SubscribeAll()
	assert.Error(t, err)

	broker := newFakeBroker()
	broker.err = errors.New("not authorized")
	err = NewSubscriber(broker, SubscriberConfig{AudioTopic: "sensor/+/audio"}, audio).SubscribeAll()
	assert.ErrorContains(t, err, "not authorized")
}

func TestPublisher_PublishesDetections(t *testing.T) {
	broker := newFakeBroker()
	detections := make(chan *models.Detection, 2)
	pub := NewPublisher(broker, PublisherConfig{DetectionTopic: "anomaly/{device_id}/state"}, detections)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		pub.Start(ctx)
		close(done)
	}()

	detections <- &models.Detection{DeviceID: "esp32-01", State: "alarm", Prediction: 1, Confidence: 0.8}
	detections <- &models.Detection{DeviceID: "esp32-02", State: "normal"}
	close(detections)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop after the channel closed")
	}

	msgs := broker.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "anomaly/esp32-01/state", msgs[0].topic)
	assert.Equal(t, "anomaly/esp32-02/state", msgs[1].topic)
	assert.False(t, msgs[0].retained)

	var got models.Detection
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, "alarm", got.State)
	assert.Equal(t, 1, got.Prediction)
	assert.InDelta(t, 0.8, got.Confidence, 1e-12)
}

func TestPublisher_PublishError(t *testing.T) {
	broker := newFakeBroker()
	broker.err = errors.New("broker gone")
	pub := NewPublisher(broker, PublisherConfig{DetectionTopic: "anomaly/{device_id}/state"}, nil)

	err := pub.publishDetection(&models.Detection{DeviceID: "dev"})
	assert.ErrorContains(t, err, "broker gone")
}

func TestFormatTopic(t *testing.T) {
	assert.Equal(t, "anomaly/dev-1/state", formatTopic("anomaly/{device_id}/state", "dev-1"))
	assert.Equal(t, "static", formatTopic("static", "dev-1"))
}

func TestExtractDeviceID(t *testing.T) {
	assert.Equal(t, "esp32-01", extractDeviceID("sensor/esp32-01/audio"))
	assert.Equal(t, "", extractDeviceID("audio"))
}
