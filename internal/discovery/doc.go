// Package discovery brings configured endpoints under management.
//
// For each endpoint in the static table:
//
//	ping
//	  └─► supported message types
//	        └─► supported command codes (per type)
//	              └─► device identification
//	                    └─► registry update + SQLite save
//	                          └─► event subscription (when supported)
//	                                └─► attach sensors (unsupported ones skipped)
//	                                      └─► start poller
//
// Rediscover repeats the capability steps for a known endpoint. Sensors
// and pollers are attached once per device and never duplicated.
package discovery
