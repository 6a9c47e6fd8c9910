// Package api implements the nsmd HTTP REST API and WebSocket stream.
//
// Routes (all under /api/v1):
//
//	GET    /health                         health report
//	GET    /metrics                        runtime and pipeline counters
//	GET    /devices                        registry listing
//	GET    /devices/{uuid}                 detail, latest readings, exchange stats
//	POST   /devices/{uuid}/write-protect   async, device:configure
//	POST   /devices/{uuid}/power-mode      async, device:configure
//	POST   /devices/{uuid}/mode            async, device:configure
//	POST   /devices/{uuid}/passthrough     raw command, device:passthrough
//	GET    /operations/{id}                async operation record
//	DELETE /operations/{id}                discard, operation:manage
//	GET    /ws                             live stream
//
// Async endpoints answer 202 with the operation id. A request rejected by
// validation or a target conflict still allocates a terminal record; its
// id is returned in the error body's operation_id.
//
// # WebSocket
//
// Clients send {"type":"subscribe","payload":{"channels":[...]}} with any
// of sensor.reading, device.event and async.status, optionally narrowed
// by "devices". The Server is itself a sensor.Sink, an event forwarder and
// an asyncop notifier, so readings, events and finished operations reach
// subscribers as they happen.
//
// # Security
//
// Write routes need an HS256 bearer token (see package auth). Reads and
// the stream are open. With no JWT secret configured the write routes
// answer 503.
package api
