package discovery

import "errors"

// Domain errors for discovery.
var (
	// ErrUnknownEndpoint is returned for an EID missing from the endpoint
	// table.
	ErrUnknownEndpoint = errors.New("discovery: unknown endpoint")

	// ErrNotResponding is returned when the endpoint does not answer ping.
	ErrNotResponding = errors.New("discovery: endpoint not responding")

	// ErrCapability is returned when the capability query fails.
	ErrCapability = errors.New("discovery: capability query failed")
)
