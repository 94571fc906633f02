package internaldefs

import (
	goOTP "github.com/MrEthical07/goOTP"
)

// CounterDef maps an engine counter to its exported name.
type CounterDef struct {
	ID   goOTP.MetricID
	Name string
	Help string
}

// HistogramDef maps an engine latency histogram to its exported name.
type HistogramDef struct {
	ID   goOTP.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goOTP.MetricOTPRequest, Name: "gootp_request_total", Help: "Challenges issued by first-time requests."},
	{ID: goOTP.MetricOTPResend, Name: "gootp_resend_total", Help: "Challenges issued by resends."},
	{ID: goOTP.MetricOTPRequestFailure, Name: "gootp_request_failure_total", Help: "Requests and resends that did not deliver a code."},
	{ID: goOTP.MetricOTPSuperseded, Name: "gootp_superseded_total", Help: "Active challenges replaced by a newer one."},
	{ID: goOTP.MetricDeliveryPrimary, Name: "gootp_delivery_primary_total", Help: "Codes delivered on the primary channel within the deadline."},
	{ID: goOTP.MetricDeliverySecondary, Name: "gootp_delivery_secondary_total", Help: "Codes delivered on the secondary channel."},
	{ID: goOTP.MetricDeliveryFallback, Name: "gootp_delivery_fallback_total", Help: "Secondary deliveries after a primary failure or timeout."},
	{ID: goOTP.MetricDeliveryFailure, Name: "gootp_delivery_failure_total", Help: "Requests where no channel delivered the code."},
	{ID: goOTP.MetricDeliveryPrimaryTimeout, Name: "gootp_delivery_primary_timeout_total", Help: "Primary sends that missed the deadline."},
	{ID: goOTP.MetricDeliveryPrimaryLate, Name: "gootp_delivery_primary_late_total", Help: "Primary sends that finished after the deadline."},
	{ID: goOTP.MetricOTPVerifySuccess, Name: "gootp_verify_success_total", Help: "Successful code verifications."},
	{ID: goOTP.MetricOTPVerifyFailure, Name: "gootp_verify_failure_total", Help: "Failed code verifications."},
	{ID: goOTP.MetricOTPInvalidCode, Name: "gootp_invalid_code_total", Help: "Verifications with a wrong code."},
	{ID: goOTP.MetricOTPAttemptsExceeded, Name: "gootp_attempts_exceeded_total", Help: "Verifications on exhausted challenges."},
	{ID: goOTP.MetricOTPAlreadyUsed, Name: "gootp_already_used_total", Help: "Verifications on already verified challenges."},
	{ID: goOTP.MetricOTPExpired, Name: "gootp_expired_total", Help: "Verifications on expired or superseded challenges."},
	{ID: goOTP.MetricIdentityCreated, Name: "gootp_identity_created_total", Help: "Guest identities created on verification."},
	{ID: goOTP.MetricIdentityReused, Name: "gootp_identity_reused_total", Help: "Existing identities resolved on verification."},
	{ID: goOTP.MetricSessionIssued, Name: "gootp_session_issued_total", Help: "Session tokens issued."},
	{ID: goOTP.MetricSessionIssueFailure, Name: "gootp_session_issue_failure_total", Help: "Verified challenges that did not yield a session."},
	{ID: goOTP.MetricSessionValidated, Name: "gootp_session_validated_total", Help: "Session tokens accepted."},
	{ID: goOTP.MetricSessionRejected, Name: "gootp_session_rejected_total", Help: "Session tokens rejected."},
	{ID: goOTP.MetricSessionPurposeMismatch, Name: "gootp_session_purpose_mismatch_total", Help: "Session tokens presented for the wrong purpose."},
	{ID: goOTP.MetricRateLimitHit, Name: "gootp_rate_limit_hit_total", Help: "Requests denied by the rate limiter."},
}

var HistogramDefs = []HistogramDef{
	{ID: goOTP.MetricPrimaryDeliveryLatency, Name: "gootp_primary_delivery_latency_seconds", Help: "Primary channel send latency."},
	{ID: goOTP.MetricSecondaryDeliveryLatency, Name: "gootp_secondary_delivery_latency_seconds", Help: "Secondary channel send latency."},
	{ID: goOTP.MetricVerifyLatency, Name: "gootp_verify_latency_seconds", Help: "Verify-and-issue latency."},
}

// HistogramBounds are the bucket upper bounds in seconds. The last bucket
// is open.
var HistogramBounds = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 15}

var HistogramBoundSuffix = []string{
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"15",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
