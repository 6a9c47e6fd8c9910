package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/nsm-core/internal/nsm"
	"github.com/nerrad567/nsm-core/internal/requester"
	"github.com/nerrad567/nsm-core/internal/sensor"
)

// Measurement names.
const (
	MeasurementSensor   = "nsm_sensor"
	MeasurementExchange = "nsm_exchange"
	MeasurementStats    = "nsm_exchange_stats"
)

// sensorPoint converts a reading. Non-numeric values (inventory strings,
// power mode structs) are recorded only as availability.
func sensorPoint(r sensor.Reading) *write.Point {
	fields := map[string]any{"unavailable": r.Unavailable}
	if v, ok := r.Number(); ok {
		fields["value"] = v
	}
	tags := map[string]string{
		"device": r.Device,
		"sensor": r.Sensor,
		"kind":   string(r.Kind),
	}
	if r.CC != "" {
		tags["cc"] = r.CC
	}
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(MeasurementSensor, tags, fields, ts)
}

func exchangePoint(eid uint8, msgType nsm.MessageType, command uint8, elapsed time.Duration, outcome string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementExchange,
		map[string]string{
			"eid":      strconv.Itoa(int(eid)),
			"msg_type": msgType.String(),
			"command":  strconv.Itoa(int(command)),
			"outcome":  outcome,
		},
		map[string]any{"elapsed_ms": float64(elapsed) / float64(time.Millisecond)},
		at,
	)
}

func statsPoint(eid uint8, s requester.Stats, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementStats,
		map[string]string{"eid": strconv.Itoa(int(eid))},
		map[string]any{
			"sent":               s.Sent,
			"resolved":           s.Resolved,
			"timed_out":          s.TimedOut,
			"transport_failures": s.TransportFailures,
			"retries":            s.Retries,
			"unmatched":          s.Unmatched,
		},
		at,
	)
}

// Publish implements sensor.Sink.
func (c *Client) Publish(r sensor.Reading) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(sensorPoint(r))
}

// ObserveExchange implements requester.Observer, recording one point per
// finished exchange.
func (c *Client) ObserveExchange(eid uint8, msgType nsm.MessageType, command uint8, elapsed time.Duration, outcome string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(exchangePoint(eid, msgType, command, elapsed, outcome, time.Now()))
}

// WriteStats records the cumulative per-device exchange counters. The
// health reporter calls it on every tick.
func (c *Client) WriteStats(stats map[uint8]requester.Stats) {
	if !c.IsConnected() {
		return
	}
	now := time.Now()
	for eid, s := range stats {
		c.writeAPI.WritePoint(statsPoint(eid, s, now))
	}
}

var (
	_ sensor.Sink        = (*Client)(nil)
	_ requester.Observer = (*Client)(nil)
)
