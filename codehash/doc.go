// Package codehash hashes and verifies numeric one-time codes with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format (unpadded base64):
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Parameters are read back from the stored string on verification, so
// changing the configured cost only affects newly issued codes.
//
// # What this package must NOT do
//
//   - Store or retrieve codes; callers supply plaintext and receive hashes.
//   - Import any other goOTP package.
//   - Log plaintext codes.
package codehash
