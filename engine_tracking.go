package goOTP

import (
	"context"
	"strings"

	internalflows "github.com/MrEthical07/goOTP/internal/flows"
	"github.com/MrEthical07/goOTP/internal/stores"
)

// RequestTrackingOTP describes the requesttrackingotp operation and its observable behavior.
//
// RequestTrackingOTP sends a code to phone only. With
// Challenge.RequireRelatedRecords set, a phone with no matching records
// (optionally narrowed by OrderNumber) gets [ErrNoRelatedRecords] after the
// rate limiter has counted the request.
func (e *Engine) RequestTrackingOTP(ctx context.Context, req TrackingOTPRequest) (*ChallengeIssued, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	phone, _, reason := normalizeContacts(req.Phone, "")
	switch {
	case reason != "":
		return nil, e.rejectRequest(ctx, auditEventOTPRequest, PurposeOrderTracking, reason)
	case phone == "":
		return nil, e.rejectRequest(ctx, auditEventOTPRequest, PurposeOrderTracking, "missing_phone")
	}

	return e.requestChallenge(ctx, internalflows.ChallengeRequest{
		Purpose:               string(PurposeOrderTracking),
		Phone:                 phone,
		Target:                stores.TargetPhone,
		RequireRelatedRecords: e.config.Challenge.RequireRelatedRecords,
		OrderNumber:           strings.TrimSpace(req.OrderNumber),
	})
}

// VerifyTrackingOTP describes the verifytrackingotp operation and its observable behavior.
//
// VerifyTrackingOTP returns a read-only ORDER_TRACKING session.
func (e *Engine) VerifyTrackingOTP(ctx context.Context, req VerifyTrackingOTPRequest) (*SessionGrant, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	phone, _, reason := normalizeContacts(req.Phone, "")
	if reason != "" || phone == "" {
		e.metricInc(MetricOTPVerifyFailure)
		return nil, ErrValidation
	}

	return e.verifyAndIssue(ctx, internalflows.VerifyRequest{
		Purpose:     string(PurposeOrderTracking),
		ChallengeID: req.OTPID,
		Code:        req.Code,
		Phone:       phone,
	})
}
