// Package engine implements the canvas sync coordinator.
//
// The coordinator owns the session's Element Store and decides when local
// edits are persisted and shown to the partner, and how inbound snapshots
// are reconciled.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Every reaction runs on one goroutine (Run), one event at a time:
//   - caller operations (AddElement, UpdateElement, ... Status)
//   - inbound realtime envelopes
//   - debounce timer firings
//   - load/save completions
//
// I/O is issued through an executor and its result comes back as an event,
// so other events interleave while a request is in flight. A remote
// snapshot arriving during a save is applied immediately.
//
// Session Lifecycle:
//  1. Run issues one load and connects the transport.
//  2. Local mutations submitted before the load completes are parked and
//     applied in order once the loaded snapshot is installed.
//  3. Each local mutation (re)starts a single-slot debounce timer. When it
//     fires, the current elements are saved; on success lastSaved is
//     recorded and, if the partner is present, the snapshot is broadcast.
//  4. Run exit cancels the pending debounce without a final save and
//     disconnects the transport.
//
// Merge Policy:
// canvas_update events authored by the local user are echoes and dropped.
// Any other canvas_update replaces the whole store (last write wins).
// Applying a remote snapshot does not schedule a save.
//
// Failure Policy:
// Load, save and broadcast failures are logged and never end the session.
// A failed save is not retried; the next local mutation schedules another.
package engine
