// Package session ties the chat connection, message history, and unread
// tracking together for one logged-in user.
//
// # Concurrency
//
// Every state change in a Controller happens under its mutex. Connection
// events arrive on the connection's read goroutine and are processed in
// transport order. Network calls (history fetch, group listing, invites) run
// on the caller's goroutine without holding the lock, so socket pushes can
// interleave with an outstanding fetch.
//
// Two checks keep late results from corrupting state:
//
//   - every connection event carries a generation, and the Controller drops
//     events whose generation is not the one it currently owns (zero after
//     teardown)
//   - every conversation selection bumps a sequence number, and a history
//     result is applied only if its sequence and conversation are still
//     current
//
// Pushes for the active conversation that arrive while its history is loading
// are shown immediately and replayed on top of the fetched history once it
// lands. Messages that carry an identifier are deduplicated.
//
// # Notices
//
// User-facing outcomes (connected, disconnected with an abnormal code, session
// expired, failed history load) are reported to a Notifier after the lock is
// released.
package session
