// Package harness runs deterministic sync-session scenarios.
//
// A scenario drives the real coordinator with in-memory storage and
// realtime fakes, a virtual clock and sequential element ids ("el-1",
// "el-2", ...). I/O runs synchronously on the loop goroutine, so every run
// of a scenario produces the same trace.
//
// # Scenario Format
//
//	name: debounce_burst
//	description: "Edits inside the window coalesce into one save"
//	user_id: me            # default "me"
//	debounce: 2s           # default 2s
//	online: true           # realtime channel connected, default true
//	initial:
//	  - { id: s1, kind: drawing }
//	steps:
//	  - { at: 0s,    op: add, kind: text, content: "hi" }
//	  - { at: 500ms, op: update, id: el-1, content: "hello" }
//	  - { at: 3s,    op: remote, author: partner, elements: [ { id: p1, kind: sticker } ] }
//	assertions:
//	  - { type: save_count, count: 1 }
//	  - { type: final_ids, ids: [p1] }
//
// Steps run in order at their virtual time offset. Between steps the clock
// advances one timer deadline at a time and the session settles after each,
// so trace timestamps are the deadlines themselves. After the last step the
// clock runs for one more debounce window (or to "until" if later).
//
// # Step Ops
//
//   - add, update, remove, clear: local edits (expect_error: not_found | invalid)
//   - save_now, reload: explicit persistence (expect_error: save_failed | load_failed)
//   - remote: canvas_update from author (default "partner")
//   - partner_connected, partner_disconnected
//   - save_fails, load_fails: the next count calls fail (default 1)
//   - offline, online: realtime channel state
//
// # Assertion Types
//
//   - save_count: successful saves
//   - save_attempts: saves including failures
//   - load_count: load requests
//   - broadcast_count: broadcasts, optionally filtered by via (realtime | http)
//   - final_ids: element ids at the end, in paint order
//   - saved_ids: ids in the last successful save
//   - trace_order: trace kinds appear in this order (gaps allowed)
//   - trace_count: trace kind appears exactly count times
//
// Traces render one event per line and compare against golden files in
// testdata/golden.
package harness
