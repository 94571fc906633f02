// Package jwt issues and validates short-lived, purpose-scoped session tokens
// handed out after a successful code verification. Tokens are stateless:
// validity is signature, expiry and purpose, nothing is stored server-side.
package jwt
