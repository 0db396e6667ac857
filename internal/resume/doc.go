// Package resume keeps a gateway connection alive across disconnects.
//
// The gateway session never reconnects on its own. A Runner wraps it with
// the reconnect policy: it persists a Cursor (session id, resume endpoint,
// last sequence) per shard in a CursorStore, resumes from it after a drop,
// falls back to a fresh identify when the server invalidates the session,
// and backs off exponentially between failed attempts.
//
// Dispatch events replayed across reconnects are filtered through an
// optional dedupe.Window before reaching the handler. Every dispatch is
// recorded in the window, but only those arriving between a resume and the
// RESUMED dispatch are dropped as replays. A fresh identify clears it.
package resume
