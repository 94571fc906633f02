package goOTP

import (
	"context"
	"errors"
	"testing"
	"time"
)

func issueCheckoutSession(t *testing.T, h *harness) *SessionGrant {
	t.Helper()
	ctx := context.Background()
	issued, err := h.engine.RequestCheckoutOTP(ctx, CheckoutOTPRequest{Phone: testPhone})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	grant, err := h.engine.VerifyCheckoutOTP(ctx, VerifyCheckoutOTPRequest{
		OTPID: issued.OTPID,
		Code:  h.primary.Code(testPhone),
		Phone: testPhone,
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	return grant
}

func TestValidateSessionRejectsTamperedToken(t *testing.T) {
	h := newHarness(t, nil)
	grant := issueCheckoutSession(t, h)

	tampered := grant.AccessToken[:len(grant.AccessToken)-2] + "xx"
	for _, token := range []string{"", "garbage", tampered} {
		_, err := h.engine.ValidateSession(context.Background(), token, PurposeCheckout)
		if !errors.Is(err, ErrTokenInvalid) || ErrorCode(err) != CodeUnauthorized {
			t.Fatalf("token %q: expected UNAUTHORIZED, got %v", token, err)
		}
	}
	if h.engine.MetricsSnapshot().Counters[MetricSessionRejected] != 3 {
		t.Fatal("expected rejected sessions to be counted")
	}
}

func TestValidateSessionExpiry(t *testing.T) {
	h := newHarness(t, nil)
	grant := issueCheckoutSession(t, h)

	h.clock.Advance(24*time.Hour - time.Second)
	if _, err := h.engine.ValidateSession(context.Background(), grant.AccessToken, PurposeCheckout); err != nil {
		t.Fatalf("token should still be valid: %v", err)
	}

	h.clock.Advance(2 * time.Second)
	if _, err := h.engine.ValidateSession(context.Background(), grant.AccessToken, PurposeCheckout); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestValidateSessionRejectsForeignKey(t *testing.T) {
	h := newHarness(t, nil)
	other := newHarness(t, nil)
	grant := issueCheckoutSession(t, other)

	if _, err := h.engine.ValidateSession(context.Background(), grant.AccessToken, PurposeCheckout); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected token signed by another key to be rejected, got %v", err)
	}
}

func TestValidateSessionInvalidPurpose(t *testing.T) {
	h := newHarness(t, nil)
	grant := issueCheckoutSession(t, h)

	if _, err := h.engine.ValidateSession(context.Background(), grant.AccessToken, Purpose("ADMIN")); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSessionHS256(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Session.SigningMethod = "hs256"
		c.Session.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	})
	grant := issueCheckoutSession(t, h)

	claims, err := h.engine.ValidateSession(context.Background(), grant.AccessToken, PurposeCheckout)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Contact != testPhone {
		t.Fatalf("expected contact claim, got %q", claims.Contact)
	}

	found := false
	for _, w := range h.engine.SecurityReport().Warnings {
		if w == "session_tokens_use_shared_secret" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected shared secret warning")
	}
}
