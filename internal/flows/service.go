package flows

import "context"

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Request.CreateChallenge != nil && s.deps.Verify.BeginAttempt != nil
}

func (s Service) RequestChallenge(ctx context.Context, req ChallengeRequest) (*ChallengeIssued, error) {
	return RunRequestChallenge(ctx, req, s.deps.Request)
}

func (s Service) VerifyChallenge(ctx context.Context, req VerifyRequest) (*VerifiedChallenge, error) {
	return RunVerifyChallenge(ctx, req, s.deps.Verify)
}

func (s Service) ResolveIdentity(ctx context.Context, target, contact string) (IdentityResult, error) {
	return RunResolveIdentity(ctx, target, contact, s.deps.Identity)
}

func (s Service) VerifyAndIssue(ctx context.Context, req VerifyRequest) (*SessionIssued, error) {
	return RunVerifyAndIssue(ctx, req, s.deps)
}
