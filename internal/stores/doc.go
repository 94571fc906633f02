// Package stores provides the Redis-backed OTP challenge store.
//
// # Design
//
// Each challenge is a versioned Redis hash at {prefix}:c:{id} with an
// {prefix}:a:{purpose}:{contact} index naming the one active challenge for
// that pair. Every state transition is a Lua script so it is atomic per
// record: create (supersede previous + write + index), begin attempt
// (ordered gates + attempt increment), mark verified (0 -> 1 exactly once)
// and delivery channel updates. Records outlive their expiry by a retention
// period so late verifications can be told apart from unknown ids.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for challenge
// records. It does NOT generate or hash codes, enforce rate limits or
// compare secrets; those belong to internal/flows.
//
// # What this package must NOT do
//
//   - Import goOTP or any sibling internal package.
//   - Store or log plaintext codes.
package stores
