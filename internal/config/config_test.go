package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, ":5001", c.Server.Listen)
	assert.Equal(t, 2, c.Server.MaxRoomSize)
	assert.Equal(t, []string{"stun:stun1.l.google.com:19302", "stun:stun2.l.google.com:19302"}, c.Peer.ICEServers)
	assert.Equal(t, 30*time.Second, c.Peer.NegotiationTimeout)
	assert.True(t, c.Peer.AutoRejoin)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medsignal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen: ":7000"
  maxRoomSize: 4
  shutdownTimeout: 2s
peer:
  autoRejoin: false
log:
  format: json
`), 0o600))

	t.Setenv("MEDSIGNAL_LISTEN", ":8000")
	t.Setenv("MEDSIGNAL_ICE_SERVERS", "stun:a.example:3478, stun:b.example:3478")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8000", c.Server.Listen)
	assert.Equal(t, 4, c.Server.MaxRoomSize)
	assert.Equal(t, 2*time.Second, c.Server.ShutdownTimeout)
	assert.False(t, c.Peer.AutoRejoin)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, []string{"stun:a.example:3478", "stun:b.example:3478"}, c.Peer.ICEServers)
	// untouched keys keep their defaults
	assert.Equal(t, 256, c.Server.SendBuffer)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv_EveryTunable(t *testing.T) {
	c := Default()
	require.NoError(t, c.ApplyEnv(map[string]string{
		"MEDSIGNAL_MAX_MESSAGE_BYTES": "1024",
		"MEDSIGNAL_PING_PERIOD":       "5s",
		"MEDSIGNAL_PONG_WAIT":         "6s",
		"MEDSIGNAL_SEND_BUFFER":       "8",
		"MEDSIGNAL_RECONNECT_MIN":     "100ms",
		"MEDSIGNAL_RECONNECT_MAX":     "2s",
		"MEDSIGNAL_ALLOWED_ORIGINS":   "https://a.example, https://b.example",
		"MEDSIGNAL_METRICS":           "false",
	}))
	assert.Equal(t, int64(1024), c.Server.MaxMessageBytes)
	assert.Equal(t, 5*time.Second, c.Server.PingPeriod)
	assert.Equal(t, 6*time.Second, c.Server.PongWait)
	assert.Equal(t, 8, c.Server.SendBuffer)
	assert.Equal(t, 100*time.Millisecond, c.Peer.ReconnectMin)
	assert.Equal(t, 2*time.Second, c.Peer.ReconnectMax)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.Server.AllowedOrigins)
	assert.False(t, c.Server.Metrics)
	assert.NoError(t, c.Validate())
}

func TestApplyEnv_BadValues(t *testing.T) {
	c := Default()
	err := c.ApplyEnv(map[string]string{
		"MEDSIGNAL_MAX_ROOM_SIZE":       "two",
		"MEDSIGNAL_NEGOTIATION_TIMEOUT": "soon",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MaxRoomSize")
	assert.Contains(t, err.Error(), "NegotiationTimeout")
	assert.Equal(t, 2, c.Server.MaxRoomSize)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty listen":     func(c *Config) { c.Server.Listen = "" },
		"negative room":    func(c *Config) { c.Server.MaxRoomSize = -1 },
		"ping after pong":  func(c *Config) { c.Server.PingPeriod = c.Server.PongWait },
		"http signaling":   func(c *Config) { c.Peer.SignalingURL = "http://localhost:5001/ws" },
		"zero timeout":     func(c *Config) { c.Peer.NegotiationTimeout = 0 },
		"inverted backoff": func(c *Config) { c.Peer.ReconnectMax = time.Millisecond },
		"log format":       func(c *Config) { c.Log.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	c := Default()
	c.Server.MaxRoomSize = 0
	assert.NoError(t, c.Validate(), "zero means unbounded")
}
