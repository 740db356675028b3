package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientOptions_PersistentSession(t *testing.T) {
	opts := clientOptions(ClientConfig{
		Broker:   "tcp://broker:1883",
		ClientID: "anomaly-server",
		Username: "user",
		Password: "secret",
	})

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker:1883", opts.Servers[0].Host)
	assert.Equal(t, "anomaly-server", opts.ClientID)
	assert.Equal(t, "user", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.False(t, opts.CleanSession)
	assert.True(t, opts.ResumeSubs)
	assert.True(t, opts.AutoReconnect)
	assert.True(t, opts.ConnectRetry)
	assert.Equal(t, int64(60), opts.KeepAlive) // seconds
}

func TestNewClient_TimesOut(t *testing.T) {
	if testing.Short() {
		t.Skip("dials a closed local port")
	}

	start := time.Now()
	c, err := NewClient(ClientConfig{
		Broker:      "tcp://127.0.0.1:1",
		ClientID:    "anomaly-test",
		ConnectWait: 100 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Nil(t, c)
	assert.Contains(t, err.Error(), "timed out after 100ms")
	assert.Less(t, time.Since(start), 5*time.Second)
}
