package api

import (
	"testing"

	"github.com/nerrad567/nsm-core/internal/infrastructure/config"
	"github.com/nerrad567/nsm-core/internal/infrastructure/logging"
)

func newHubClient(h *Hub, buffer int, channels []string, devices ...string) *WSClient {
	c := &WSClient{
		hub:      h,
		send:     make(chan []byte, buffer),
		channels: make(map[string]struct{}),
		devices:  make(map[string]struct{}),
	}
	for _, ch := range channels {
		c.channels[ch] = struct{}{}
	}
	for _, d := range devices {
		c.devices[d] = struct{}{}
	}
	h.Register(c)
	return c
}

func TestHubBroadcastFiltering(t *testing.T) {
	h := NewHub(config.WebSocketConfig{}, logging.Default())
	all := newHubClient(h, 8, []string{ChannelSensorReading})
	gpu1 := newHubClient(h, 8, []string{ChannelSensorReading}, "gpu-1")
	events := newHubClient(h, 8, []string{ChannelDeviceEvent})

	h.Broadcast(ChannelSensorReading, "gpu-0", "r0")
	h.Broadcast(ChannelSensorReading, "gpu-1", "r1")
	h.Broadcast(ChannelSensorReading, "", "r-any")

	tests := []struct {
		name   string
		client *WSClient
		want   int
	}{
		{"unfiltered", all, 3},
		{"device filter", gpu1, 2},
		{"other channel", events, 0},
	}
	for _, tt := range tests {
		if got := len(tt.client.send); got != tt.want {
			t.Errorf("%s: queued %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestHubDropsForSlowClient(t *testing.T) {
	h := NewHub(config.WebSocketConfig{}, logging.Default())
	c := newHubClient(h, 1, []string{ChannelAsyncStatus})

	h.Broadcast(ChannelAsyncStatus, "gpu-0", "first")
	h.Broadcast(ChannelAsyncStatus, "gpu-0", "second")

	if len(c.send) != 1 {
		t.Errorf("queued = %d, want 1", len(c.send))
	}
	if h.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", h.Dropped())
	}
}

func TestHubUnregisterThenBroadcast(t *testing.T) {
	h := NewHub(config.WebSocketConfig{}, logging.Default())
	c := newHubClient(h, 1, []string{ChannelAsyncStatus})

	h.Unregister(c)
	h.Unregister(c)
	c.trySend([]byte("late"))

	if h.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", h.ClientCount())
	}
}

func TestNewHubDefaults(t *testing.T) {
	h := NewHub(config.WebSocketConfig{}, logging.Default())
	if h.cfg.MaxMessageSize != defaultWSMaxMessageSize || h.cfg.PingInterval != defaultWSPingInterval || h.cfg.PongTimeout != defaultWSPongTimeout {
		t.Errorf("cfg = %+v", h.cfg)
	}
}
