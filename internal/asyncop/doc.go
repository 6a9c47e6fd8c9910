// Package asyncop tracks caller-visible "set" operations against NSM
// devices.
//
// Begin allocates a record, runs the operation on its own goroutine and
// moves the record to exactly one terminal status:
//
//	not_started ──► in_progress ──► success
//	     │                    ├──► write_failure
//	     │                    └──► unavailable
//	     ├──► invalid_argument   (validation failed, nothing sent)
//	     └──► unavailable        (same target already being written)
//
// The record table has a fixed capacity. When it is full the oldest
// terminal record is recycled; Begin only fails with ErrUnavailable when
// every slot is in progress.
//
// Terminal records are handed to a History (SQLite in production) and to
// an optional Notifier for live publication.
package asyncop
