// Package event dispatches unsolicited NSM events.
//
// The transport hands every event frame to Dispatcher.Handle. The frame is
// length-checked against nsm.EventMinSize before anything else, so a short
// frame is rejected with nsm.ErrLength without any handler running. Only
// the fixed prefix is read for routing; data_size is left to the handler.
// The handler is then looked up by (message type, event id):
//
//	frame ──► length check ──► prefix ──► device table ──► globals
//	                                           │              │
//	                                           └── handler ◄──┘
//	                                                 │
//	                               forwarders ◄──────┤
//	                               event ack  ◄──────┘ (if requested)
//
// Unknown events are counted and dropped. An unknown id within a handled
// message type is still acknowledged; an event of a message type with no
// handlers is not. Handlers receive the complete frame and do their own
// payload checks.
//
// Two built-in handlers are provided: LongRunningHandler completes
// commands answered with ACCEPTED, and RediscoveryHandler starts
// discovery for the sending endpoint in the background.
package event
