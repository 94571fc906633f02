// Package audit implements async event dispatching for OTP challenge operations.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, no-op).
//   - [Dispatcher]: buffered async relay, either dropping or blocking when full.
//   - [Event]: structured audit record.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. Which events are
// emitted is decided by the Engine and the flow functions.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import goOTP or any sibling internal package.
package audit
