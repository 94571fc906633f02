// Package internal holds helpers private to goOTP: code and challenge id
// generation, contact normalization and masking.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - delivery: primary/secondary channel racing
//   - flows: pure-function flow orchestrators for every Engine operation
//   - limiters: request and resend throttles
//   - metrics: lock-free counters and latency histograms
//   - rate: Redis sliding-window primitive
//   - security: effective-configuration report
//   - stores: Redis challenge store
//
// # What this package must NOT do
//
//   - Export types that appear in the public goOTP API.
package internal
