package flows

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Request  RequestDeps
	Verify   VerifyDeps
	Identity IdentityDeps
	Issue    IssueDeps
}
