// Package influxdb records nsmd telemetry in InfluxDB v2.
//
// Client is a sensor.Sink (measurement nsm_sensor, tagged by device,
// sensor and kind) and a requester.Observer (nsm_exchange, one point per
// finished exchange with its outcome and latency). The health reporter
// adds cumulative exchange counters as nsm_exchange_stats.
//
// Writes go through the library's non-blocking write API and are batched
// according to batch_size and flush_interval. Write errors surface
// asynchronously through SetOnError.
//
// Usage:
//
//	influx, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer influx.Close()
//
//	req.SetObserver(influx)
//	sinks := sensor.Sinks{publisher, influx}
package influxdb
