// Package campaign runs broadcast campaigns.
//
// A campaign sends one piece of content to a fixed list of recipients. The
// Coordinator admits campaigns, persists their durable record and hands each
// one to a Dispatch Worker running on the process supervisor. Start returns as
// soon as the worker is launched; progress is observed through the store.
//
// Lifecycle
//
// Start writes the record as running, registers an in-memory cancellation flag
// and launches the worker, in that order. If the record cannot be written the
// campaign does not exist: nothing is registered and no recipient is contacted.
//
// The worker attempts every recipient once, in order, with a fixed pause after
// each attempt. Counters are checkpointed every CheckpointEvery attempts. When
// the loop ends the record is finalized with the final counters; its status
// becomes completed only if it is still running at that moment, so a cancel
// that reached storage first is never overwritten.
//
// Cancellation
//
// Cancel sets the in-memory flag (the worker stops before its next attempt)
// and moves the durable record from running to cancelled. Both transitions to
// a terminal status are single conditional updates, so exactly one of cancel
// and finalize wins.
//
// Shutdown
//
// When the supervisor context is cancelled the worker stops after the attempt
// in flight, checkpoints its counters and leaves the record running. The
// optional Reconcile call marks such records interrupted on the next start.
package campaign
