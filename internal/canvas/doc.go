// Package canvas holds the shared-canvas data model and the Element Store.
//
// The Element Store is the working copy of one session's canvas: an ordered
// list of elements where insertion order is paint order (later = on top).
//
// OWNERSHIP:
//
// A Store is not safe for concurrent use. It is owned by the engine's
// single-writer loop; every mutation runs to completion on that goroutine,
// so no partially applied write is ever observable.
//
// INVARIANTS:
//   - Element ids are unique within the store.
//   - Add never returns an id that the store has already seen, including ids
//     that arrived through ReplaceAll and were later removed.
//   - ReplaceAll never reassigns ids.
package canvas
