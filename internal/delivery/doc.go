// Package delivery implements the primary/secondary channel orchestrator
// used when a challenge code is sent.
//
// The primary call runs in its own goroutine on a context detached from the
// request and bounded by a background timeout. The request waits for it only
// until the primary deadline; after that a mutex-guarded handoff marks the
// call abandoned and the request falls back to the secondary contact. The
// abandoned call still reports through Hooks.Observe and, on success,
// records PRIMARY only if no channel was recorded yet.
//
// # What this package must NOT do
//
//   - Import goOTP or internal/stores; persistence goes through Hooks.
//   - Cancel a primary call that outlived its deadline.
//   - Log codes.
package delivery
