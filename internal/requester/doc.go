// Package requester implements the request/response correlator.
//
// Every exchange moves an endpoint through Idle → Sent → {Resolved,
// Failed, TimedOut} → Idle. A request is stamped with a fresh 5-bit
// instance id, handed to the Sender, and the caller blocks until Deliver
// routes a response whose instance id, message type and command match.
//
// # Busy policy
//
// One exchange per endpoint is in flight at a time. Exchange waits for the
// endpoint (scheduler, discovery and async handlers); TryExchange fails
// with ErrBusy (administrative passthrough).
//
// # Long-running commands
//
// A response carrying CCAccepted keeps the exchange open. The completing
// event is decoded by the event dispatcher and handed to
// CompleteLongRunning, which resolves the waiter with the final
// completion code and payload.
//
// # Failures
//
// A Sender error is reported as ErrTransport; an unanswered request is
// re-sent Retries times with the same instance id before ErrTimeout. The
// instance id of a timed-out exchange cools down for InstanceIDExpiry so a
// late reply cannot resolve a newer request.
package requester
