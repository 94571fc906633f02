// Package limiters provides domain-specific rate limiters built on top of the
// internal/rate primitives.
//
// # Limiters
//
//   - [OTPRequestLimiter]: sliding-window throttle for challenge creation,
//     keyed by purpose and contact, with a separate (larger) resend ceiling
//     over the same window and an optional per-IP ceiling.
//
// All limiters are nil-safe: calling any method on a nil receiver allows.
//
// # What this package must NOT do
//
//   - Import goOTP or any sibling internal package except internal/rate.
//   - Make policy decisions beyond counting; flow functions decide consequences.
package limiters
