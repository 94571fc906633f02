// Package middleware exposes net/http adapters around goOTP session
// validation.
//
// # Guards
//
//   - [Guard]: requires a bearer session for one purpose.
//   - [RequireCheckout] and [RequireTracking]: Guard bound to a purpose.
//   - [ClientIP]: records the peer address for audit and IP throttling.
//
// Guards read the Authorization header, call Engine.ValidateSession and put
// the validated claims into the request context.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Make authorization decisions beyond pass/reject from ValidateSession.
package middleware
