// Package flows contains the orchestrators behind every Engine operation.
//
// Each flow function (RunRequestChallenge, RunVerifyChallenge,
// RunResolveIdentity, RunVerifyAndIssue) accepts a typed dependency struct
// and has no side effects beyond those dependencies. The Engine builds the
// dependency sets once and stays thin.
//
// # Architecture boundaries
//
// Flow functions coordinate the challenge store, rate limiter, delivery
// orchestrator, identity repository, token manager, audit and metrics. They
// do not own any of these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goOTP (to avoid import cycles).
//   - Perform I/O directly. All I/O goes through dependency functions.
package flows
