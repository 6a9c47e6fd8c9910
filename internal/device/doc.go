// Package device provides the Device Registry for nsmd.
//
// The registry is the catalogue of NSM endpoints the daemon manages. Each
// Device carries its stable UUID, the endpoint id (EID) it is currently
// reachable on, the capability matrix reported during discovery, the event
// generation mode, its per-device event table, and three sensor tiers.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────┐
//	│                      Device Registry                        │
//	│                                                             │
//	│  ┌──────────────────┐           ┌──────────────────┐        │
//	│  │     Registry     │──────────▶│    Repository    │        │
//	│  │  (registry.go)   │           │ (repository.go)  │        │
//	│  │ • Register/Find  │           │ • SQLite upsert  │        │
//	│  │ • EID mapping    │           │ • inventory load │        │
//	│  └────────┬─────────┘           └──────────────────┘        │
//	│           │                                                 │
//	│  ┌────────▼─────────┐                                       │
//	│  │      Device      │  capability matrix, sensor tiers,     │
//	│  │   (device.go)    │  event table, event mode              │
//	│  └──────────────────┘                                       │
//	└────────────────────────────────────────────────────────────┘
//
// # Sensor tiers
//
//   - TierPriority: invoked every polling cycle in registration order
//   - TierRoundRobin: one invoked per cycle, rotated to the back
//   - TierStatic: invoked once after attach, never again
//
// The scheduler owns tier iteration; the device only stores the
// collections and hands them out through PrioritySensors, RotateRoundRobin
// and TakeStatic.
//
// # UUID matching
//
// Endpoint tables may report UUIDs in a form shorter or longer than the
// canonical 36 characters. FindByUUID compares at most the first 36
// characters of each side.
//
// # Thread Safety
//
// Registry and Device are safe for concurrent use.
package device
