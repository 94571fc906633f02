// Package rate provides the Redis sliding-window primitive used by the OTP
// request throttles.
//
// # Window semantics
//
// Each key is a ZSET of event timestamps (unix ms). A single Lua script
// prunes entries older than now-window, counts the rest and, if the count is
// below the ceiling, records the new event. Denied calls leave the window
// untouched. The clock is injected so tests can move time without sleeping.
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (those live in internal/limiters).
//   - Be imported outside the goOTP module.
package rate
