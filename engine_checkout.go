package goOTP

import (
	"context"
	"errors"

	internalflows "github.com/MrEthical07/goOTP/internal/flows"
	"github.com/MrEthical07/goOTP/internal/stores"
)

// RequestCheckoutOTP describes the requestcheckoutotp operation and its observable behavior.
//
// RequestCheckoutOTP throttles, supersedes any active checkout challenge for
// the contact and delivers a new code. The phone is the verification target
// unless it is absent or PreferEmail is set and an email is present. With
// Delivery.RequireEmailOwnershipForResend set, a phone challenge only falls
// back to an email the phone's identity has already verified. A
// [*SendError] still names the stored challenge.
func (e *Engine) RequestCheckoutOTP(ctx context.Context, req CheckoutOTPRequest) (*ChallengeIssued, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	phone, email, reason := normalizeContacts(req.Phone, req.Email)
	if reason != "" {
		return nil, e.rejectRequest(ctx, auditEventOTPRequest, PurposeCheckout, reason)
	}
	if phone == "" && email == "" {
		return nil, e.rejectRequest(ctx, auditEventOTPRequest, PurposeCheckout, "missing_contact")
	}

	target := stores.TargetPhone
	if phone == "" || (req.PreferEmail && email != "") {
		target = stores.TargetEmail
	}

	noFallback := false
	if target == stores.TargetPhone && email != "" && e.config.Delivery.RequireEmailOwnershipForResend {
		owned, err := e.ownsEmail(ctx, phone, email)
		if err != nil {
			return nil, err
		}
		noFallback = !owned
	}

	return e.requestChallenge(ctx, internalflows.ChallengeRequest{
		Purpose:    string(PurposeCheckout),
		Phone:      phone,
		Email:      email,
		Target:     target,
		NoFallback: noFallback,
	})
}

// ResendCheckoutOTP describes the resendcheckoutotp operation and its observable behavior.
//
// ResendCheckoutOTP issues a fresh phone challenge under the larger resend
// ceiling. PreferredChannel SECONDARY sends it straight to Email. When
// Delivery.RequireEmailOwnershipForResend is set, Email must already be a
// verified email of the identity owning the phone.
func (e *Engine) ResendCheckoutOTP(ctx context.Context, req ResendCheckoutOTPRequest) (*ChallengeIssued, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	phone, email, reason := normalizeContacts(req.Phone, req.Email)
	switch {
	case reason != "":
		return nil, e.rejectRequest(ctx, auditEventOTPResend, PurposeCheckout, reason)
	case phone == "":
		return nil, e.rejectRequest(ctx, auditEventOTPResend, PurposeCheckout, "missing_phone")
	}

	secondaryOnly := false
	switch req.PreferredChannel {
	case "", ChannelPrimary:
	case ChannelSecondary:
		if email == "" {
			return nil, e.rejectRequest(ctx, auditEventOTPResend, PurposeCheckout, "missing_secondary_contact")
		}
		secondaryOnly = true
	default:
		return nil, e.rejectRequest(ctx, auditEventOTPResend, PurposeCheckout, "invalid_channel")
	}

	if email != "" && e.config.Delivery.RequireEmailOwnershipForResend {
		owned, err := e.ownsEmail(ctx, phone, email)
		if err != nil {
			return nil, err
		}
		if !owned {
			if secondaryOnly {
				return nil, e.rejectRequest(ctx, auditEventOTPResend, PurposeCheckout, "unverified_secondary_contact")
			}
			email = ""
		}
	}

	return e.requestChallenge(ctx, internalflows.ChallengeRequest{
		Purpose:       string(PurposeCheckout),
		Phone:         phone,
		Email:         email,
		Target:        stores.TargetPhone,
		SecondaryOnly: secondaryOnly,
		Resend:        true,
	})
}

// VerifyCheckoutOTP describes the verifycheckoutotp operation and its observable behavior.
//
// VerifyCheckoutOTP consumes one attempt, checks the code and, on success,
// resolves or creates the guest identity and returns a CHECKOUT session.
// Exactly one concurrent caller can succeed for a challenge.
func (e *Engine) VerifyCheckoutOTP(ctx context.Context, req VerifyCheckoutOTPRequest) (*SessionGrant, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	phone, email, reason := normalizeContacts(req.Phone, req.Email)
	if reason != "" {
		e.metricInc(MetricOTPVerifyFailure)
		return nil, ErrValidation
	}

	return e.verifyAndIssue(ctx, internalflows.VerifyRequest{
		Purpose:     string(PurposeCheckout),
		ChallengeID: req.OTPID,
		Code:        req.Code,
		Phone:       phone,
		Email:       email,
	})
}

func (e *Engine) ownsEmail(ctx context.Context, phone, email string) (bool, error) {
	ident, err := e.findIdentity(ctx, stores.TargetPhone, phone)
	switch {
	case errors.Is(err, ErrIdentityNotFound):
		return false, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false, err
	case err != nil:
		return false, ErrUnavailable
	}
	return ident.EmailVerified && ident.Email == email, nil
}
