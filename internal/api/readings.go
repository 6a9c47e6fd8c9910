package api

import (
	"sort"
	"sync"

	"github.com/nerrad567/nsm-core/internal/asyncop"
	"github.com/nerrad567/nsm-core/internal/event"
	"github.com/nerrad567/nsm-core/internal/sensor"
)

// WebSocket channels.
const (
	ChannelSensorReading = "sensor.reading"
	ChannelDeviceEvent   = "device.event"
	ChannelAsyncStatus   = "async.status"
)

// readingCache keeps the latest reading per device and sensor.
type readingCache struct {
	mu     sync.RWMutex
	latest map[string]map[string]sensor.Reading
}

func newReadingCache() *readingCache {
	return &readingCache{latest: make(map[string]map[string]sensor.Reading)}
}

func (c *readingCache) put(r sensor.Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byName, ok := c.latest[r.Device]
	if !ok {
		byName = make(map[string]sensor.Reading)
		c.latest[r.Device] = byName
	}
	byName[r.Sensor] = r
}

// forDevice returns the latest readings of device, sorted by sensor name.
func (c *readingCache) forDevice(device string) []sensor.Reading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]sensor.Reading, 0, len(c.latest[device]))
	for _, r := range c.latest[device] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sensor < out[j].Sensor })
	return out
}

// Publish records r as the latest value and streams it to WebSocket
// subscribers of sensor.reading. It makes the server a sensor.Sink.
func (s *Server) Publish(r sensor.Reading) {
	s.readings.put(r)
	s.hub.Broadcast(ChannelSensorReading, r.Device, r)
}

// ForwardEvent streams a decoded device event. Its signature matches
// event.Forwarder.
func (s *Server) ForwardEvent(n event.Notification) {
	s.hub.Broadcast(ChannelDeviceEvent, n.UUID, n)
}

// NotifyOperation streams a terminal async operation record. Its
// signature matches asyncop.Notifier.
func (s *Server) NotifyOperation(rec asyncop.Record) {
	s.hub.Broadcast(ChannelAsyncStatus, rec.Device, rec)
}

var (
	_ sensor.Sink      = (*Server)(nil)
	_ event.Forwarder  = (*Server)(nil).ForwardEvent
	_ asyncop.Notifier = (*Server)(nil).NotifyOperation
)
