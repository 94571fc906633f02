// Package security summarizes the effective security posture of an engine
// configuration. The root package exposes the result as SecurityReport.
//
// # What this package must NOT do
//
//   - Read secrets back out. Reports carry flags and parameters, never keys
//     or peppers.
package security
