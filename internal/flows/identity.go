package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goOTP/internal/stores"
)

// IdentityRecord mirrors the host's guest identity. Phone and Email are
// empty when unknown; nothing is ever synthesized for them.
type IdentityRecord struct {
	ID            string
	Phone         string
	Email         string
	PhoneVerified bool
	EmailVerified bool
	Kind          string
	CreatedAt     time.Time
}

type IdentityResult struct {
	Identity IdentityRecord
	IsNew    bool
}

type IdentityMetrics struct {
	IdentityCreated int
	IdentityReused  int
}

type IdentityEvents struct {
	Created string
}

type IdentityErrors struct {
	EngineNotReady error
	Validation     error
	Unavailable    error
}

type IdentityDeps struct {
	GuestKind string
	Now       func() time.Time

	NewIdentityID func() (string, error)
	Find          func(context.Context, string, string) (IdentityRecord, bool, error)
	Create        func(context.Context, IdentityRecord) (IdentityRecord, error)
	SetVerified   func(context.Context, string, string) error
	IsConflict    func(error) bool

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, string, string, error, func() map[string]string)

	Metrics IdentityMetrics
	Events  IdentityEvents
	Errors  IdentityErrors
}

// RunResolveIdentity finds the identity owning a verified contact, or
// creates a guest holding only that contact.
func RunResolveIdentity(ctx context.Context, target, contact string, deps IdentityDeps) (IdentityResult, error) {
	normalizeIdentityDeps(&deps)

	if deps.Find == nil || deps.Create == nil || deps.SetVerified == nil || deps.NewIdentityID == nil {
		return IdentityResult{}, deps.Errors.EngineNotReady
	}
	if contact == "" || (target != stores.TargetPhone && target != stores.TargetEmail) {
		return IdentityResult{}, deps.Errors.Validation
	}

	existing, found, err := deps.Find(ctx, target, contact)
	if err != nil {
		return IdentityResult{}, identityLookupError(err, deps)
	}
	if found {
		return reuseIdentity(ctx, target, existing, deps)
	}

	id, err := deps.NewIdentityID()
	if err != nil {
		return IdentityResult{}, deps.Errors.Unavailable
	}
	now := deps.Now()
	candidate := IdentityRecord{
		ID:        id,
		Kind:      deps.GuestKind,
		CreatedAt: now,
	}
	if target == stores.TargetPhone {
		candidate.Phone = contact
		candidate.PhoneVerified = true
	} else {
		candidate.Email = contact
		candidate.EmailVerified = true
	}

	created, err := deps.Create(ctx, candidate)
	if err != nil {
		if !deps.IsConflict(err) {
			return IdentityResult{}, identityLookupError(err, deps)
		}
		// Another verification created the identity first.
		existing, found, err := deps.Find(ctx, target, contact)
		if err != nil {
			return IdentityResult{}, identityLookupError(err, deps)
		}
		if !found {
			return IdentityResult{}, deps.Errors.Unavailable
		}
		return reuseIdentity(ctx, target, existing, deps)
	}

	deps.MetricInc(deps.Metrics.IdentityCreated)
	deps.EmitAudit(ctx, deps.Events.Created, true, created.ID, "", nil, func() map[string]string {
		return map[string]string{
			"target": target,
			"kind":   created.Kind,
		}
	})
	return IdentityResult{Identity: created, IsNew: true}, nil
}

func reuseIdentity(ctx context.Context, target string, ident IdentityRecord, deps IdentityDeps) (IdentityResult, error) {
	verified := ident.PhoneVerified
	if target == stores.TargetEmail {
		verified = ident.EmailVerified
	}
	if !verified {
		if err := deps.SetVerified(ctx, ident.ID, target); err != nil {
			return IdentityResult{}, identityLookupError(err, deps)
		}
		if target == stores.TargetPhone {
			ident.PhoneVerified = true
		} else {
			ident.EmailVerified = true
		}
	}
	deps.MetricInc(deps.Metrics.IdentityReused)
	return IdentityResult{Identity: ident, IsNew: false}, nil
}

func identityLookupError(err error, deps IdentityDeps) error {
	if isContextError(err) {
		return err
	}
	return deps.Errors.Unavailable
}

func normalizeIdentityDeps(deps *IdentityDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.GuestKind == "" {
		deps.GuestKind = "GUEST"
	}
	if deps.IsConflict == nil {
		deps.IsConflict = func(error) bool { return false }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
}
