package goOTP

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goOTP/internal"
	"github.com/MrEthical07/goOTP/internal/stores"
)

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration
}

// Challenge describes the challenge operation and its observable behavior.
//
// Challenge returns a read-only view of a stored challenge without consuming
// an attempt. Records are readable until Challenge.RecordRetention elapses
// after expiry.
func (e *Engine) Challenge(ctx context.Context, id string) (*Challenge, error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	if !internal.ValidChallengeID(id) {
		return nil, ErrChallengeNotFound
	}

	record, err := e.challenges.Get(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return toChallenge(record), nil
}

// ChallengeState returns the derived lifecycle state of a challenge at the
// engine clock's current time.
func (e *Engine) ChallengeState(ctx context.Context, id string) (ChallengeState, error) {
	c, err := e.Challenge(ctx, id)
	if err != nil {
		return "", err
	}
	return c.State(e.now()), nil
}

// ActiveChallengeID returns the id of the newest challenge for
// (purpose, contact), or "" when none was issued within the retention window.
// The returned challenge may already be terminal.
func (e *Engine) ActiveChallengeID(ctx context.Context, purpose Purpose, contact string) (string, error) {
	if e == nil || e.challenges == nil {
		return "", ErrEngineNotReady
	}
	if !purpose.Valid() {
		return "", ErrValidation
	}
	key, err := normalizeContactKey(contact)
	if err != nil {
		return "", err
	}

	id, err := e.challenges.ActiveID(ctx, string(purpose), key)
	if err != nil {
		return "", mapStoreError(err)
	}
	return id, nil
}

// GetRequestCount describes the getrequestcount operation and its observable behavior.
//
// GetRequestCount reports how many challenges were created for
// (purpose, contact) inside the current rate window.
func (e *Engine) GetRequestCount(ctx context.Context, purpose Purpose, contact string) (int, error) {
	if e == nil || e.limiter == nil {
		return 0, ErrEngineNotReady
	}
	if !purpose.Valid() {
		return 0, ErrValidation
	}
	key, err := normalizeContactKey(contact)
	if err != nil {
		return 0, err
	}

	n, err := e.limiter.Recorded(ctx, string(purpose), key)
	if err != nil {
		return 0, ErrUnavailable
	}
	return n, nil
}

// Health describes the health operation and its observable behavior.
//
// Health does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.challenges == nil {
		return HealthStatus{}
	}

	latency, err := e.challenges.Ping(ctx)
	return HealthStatus{
		RedisAvailable: err == nil,
		RedisLatency:   latency,
	}
}

func toChallenge(r *stores.ChallengeRecord) *Challenge {
	return &Challenge{
		ID:                r.ID,
		Purpose:           Purpose(r.Purpose),
		Target:            ContactKind(r.Target),
		Phone:             r.Phone,
		Email:             r.Email,
		Attempts:          r.Attempts,
		MaxAttempts:       r.MaxAttempts,
		CreatedAt:         r.CreatedAt,
		ExpiresAt:         r.ExpiresAt,
		Verified:          r.Verified,
		VerifiedAt:        r.VerifiedAt,
		DeliveryChannel:   DeliveryChannel(r.DeliveryChannel),
		RelatedIdentityID: r.RelatedIdentityID,
		Superseded:        r.Superseded,
	}
}

// normalizeContactKey accepts either a phone or an email.
func normalizeContactKey(contact string) (string, error) {
	if phone, err := internal.NormalizePhone(contact); err == nil {
		return phone, nil
	}
	email, err := internal.NormalizeEmail(contact)
	if err != nil {
		return "", errors.Join(ErrValidation, err)
	}
	return email, nil
}
