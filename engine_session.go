package goOTP

import (
	"context"
	"errors"

	"github.com/MrEthical07/goOTP/jwt"
)

// ValidateSession describes the validatesession operation and its observable behavior.
//
// ValidateSession verifies signature, expiry, issuer and audience, then
// requires the token's purpose claim to equal purpose. A validly signed
// token for another purpose returns [ErrPurposeMismatch]; every other
// failure returns [ErrTokenInvalid]. There is no revocation list.
func (e *Engine) ValidateSession(ctx context.Context, token string, purpose Purpose) (*SessionClaims, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if !purpose.Valid() {
		return nil, ErrValidation
	}
	if token == "" {
		e.rejectSession(ctx, purpose, ErrTokenInvalid)
		return nil, ErrTokenInvalid
	}

	claims, err := e.jwtManager.ParseSession(token, string(purpose))
	if err != nil {
		mapped := ErrTokenInvalid
		if errors.Is(err, jwt.ErrPurposeMismatch) {
			mapped = ErrPurposeMismatch
		}
		e.rejectSession(ctx, purpose, mapped)
		return nil, mapped
	}

	e.metricInc(MetricSessionValidated)
	out := &SessionClaims{
		SubjectID: claims.Subject,
		Purpose:   Purpose(claims.Purpose),
		Contact:   claims.Contact,
		TokenID:   claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

func (e *Engine) rejectSession(ctx context.Context, purpose Purpose, err error) {
	e.metricInc(MetricSessionRejected)
	if errors.Is(err, ErrPurposeMismatch) {
		e.metricInc(MetricSessionPurposeMismatch)
	}
	e.emitAudit(ctx, auditEventSessionRejected, false, "", "", err, func() map[string]string {
		return map[string]string{
			"purpose": string(purpose),
		}
	})
}
