// Package sensor provides the polled units of work attached to a device.
//
// Every sensor is one of a closed set of kinds, one per wire command
// family. A Sensor builds exactly one request per invocation and turns the
// matching response into a Reading: the decoded value on success, or an
// unavailable reading carrying the completion code or error otherwise.
// Readings are handed to a Sink (MQTT, InfluxDB, the API hub) and the last
// one is kept for snapshots.
//
//	kind          command                               value
//	temperature   platform-environmental 0x01           float64 (°C)
//	power         platform-environmental 0x02           uint32 (mW)
//	voltage       platform-environmental 0x15           uint32 (µV)
//	clock_limit   platform-environmental 0x0B           nsm.ClockLimit
//	inventory     platform-environmental 0x07           string
//	wp_settings   device-configuration 0x64 index 0x00  nsm.WPSettings
//	wp_jumper     device-configuration 0x64 index 0x02  bool
//	power_mode    network-port 0x0B                     nsm.PowerModeData
//
// Failures never stop polling: an unavailable reading replaces the last
// value and the next invocation may recover it.
package sensor
