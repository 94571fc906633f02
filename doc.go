// Package goOTP issues short-lived, single-use verification codes to guest
// contacts and turns a verified code into a purpose-scoped session token.
// Two purposes exist: CHECKOUT authorizes a guest checkout, ORDER_TRACKING
// authorizes read-only order lookups.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goOTP is the public surface. It exposes [Engine], [Builder], [Config], the
// collaborator interfaces ([Channel], [IdentityRepository],
// [RecordRepository]) and value types. Challenge storage, rate windows,
// delivery racing and flow orchestration live under internal/ and are never
// exported.
//
// # Delivery
//
// The primary channel is raced against Delivery.PrimaryDeadline. A primary
// send that misses it keeps running in the background and its result is
// still written onto the challenge; the request moves on to the secondary
// channel when an email is known. [Engine.Close] waits for those sends.
//
// # What this package must NOT do
//
//   - Store or log a plaintext code.
//   - Accept a session token for a purpose other than the one it was issued for.
//   - Synthesize placeholder contacts for guest identities.
package goOTP
