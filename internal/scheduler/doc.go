// Package scheduler drives the sensor polling cycle of each device.
//
// One Poller runs per device. Each cycle:
//
//	┌─────────────────────────────────────────────┐
//	│ 1. static sensors not yet run (once ever)   │
//	│ 2. every priority sensor, in order          │
//	│ 3. front round-robin sensor → back, invoke  │
//	└─────────────────────────────────────────────┘
//	         wait Interval, repeat until ctx done
//
// Each invocation is Command → Exchange → Update. A failure is handed to
// the sensor as an unavailable reading and never stops the cycle. A sensor
// whose request cannot be issued (no free instance id, or a request build
// error) is skipped for the cycle; the round-robin order is unaffected
// because rotation happens before the invocation.
//
// Exchanges for one device are serialized by the requester, so a Poller,
// discovery and async operations on the same device queue behind each
// other rather than overlap.
package scheduler
