package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goOTP/internal/rate"
)

var (
	ErrOTPRateLimited        = errors.New("otp request rate limited")
	ErrOTPLimiterUnavailable = errors.New("otp limiter unavailable")
)

type OTPRequestConfig struct {
	Window      time.Duration
	MaxRequests int
	// MaxResends is the ceiling applied to resend calls. Resends and first
	// requests share one window per contact.
	MaxResends int

	EnableIPThrottle bool
	MaxPerIP         int
}

// OTPRequestLimiter throttles challenge creation per (purpose, contact) and,
// optionally, per client IP.
type OTPRequestLimiter struct {
	window *rate.Limiter
	config OTPRequestConfig
}

func NewOTPRequestLimiter(window *rate.Limiter, cfg OTPRequestConfig) *OTPRequestLimiter {
	return &OTPRequestLimiter{
		window: window,
		config: cfg,
	}
}

// CheckRequest records a first-time request. On denial it returns
// ErrOTPRateLimited and the duration the caller should wait.
func (l *OTPRequestLimiter) CheckRequest(ctx context.Context, purpose, contact, ip string) (time.Duration, error) {
	if l == nil {
		return 0, nil
	}
	if retry, err := l.enforceIP(ctx, ip); err != nil {
		return retry, err
	}
	return l.enforce(ctx, otpContactKey(purpose, contact), l.config.MaxRequests)
}

// CheckResend records a resend against the same window with the larger
// resend ceiling.
func (l *OTPRequestLimiter) CheckResend(ctx context.Context, purpose, contact, ip string) (time.Duration, error) {
	if l == nil {
		return 0, nil
	}
	if retry, err := l.enforceIP(ctx, ip); err != nil {
		return retry, err
	}
	max := l.config.MaxResends
	if max < l.config.MaxRequests {
		max = l.config.MaxRequests
	}
	return l.enforce(ctx, otpContactKey(purpose, contact), max)
}

// Recorded reports how many challenge creations are inside the current window.
func (l *OTPRequestLimiter) Recorded(ctx context.Context, purpose, contact string) (int, error) {
	if l == nil {
		return 0, nil
	}
	n, err := l.window.Count(ctx, otpContactKey(purpose, contact), l.config.Window)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOTPLimiterUnavailable, err)
	}
	return n, nil
}

func (l *OTPRequestLimiter) enforceIP(ctx context.Context, ip string) (time.Duration, error) {
	if !l.config.EnableIPThrottle || ip == "" || l.config.MaxPerIP <= 0 {
		return 0, nil
	}
	return l.enforce(ctx, otpIPKey(ip), l.config.MaxPerIP)
}

func (l *OTPRequestLimiter) enforce(ctx context.Context, key string, max int) (time.Duration, error) {
	d, err := l.window.CheckAndRecord(ctx, key, l.config.Window, max)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOTPLimiterUnavailable, err)
	}
	if !d.Allowed {
		return d.RetryAfter, ErrOTPRateLimited
	}
	return 0, nil
}

func otpContactKey(purpose, contact string) string {
	return "otpr:" + strings.ToLower(purpose) + ":" + contact
}

func otpIPKey(ip string) string {
	return "otpri:" + ip
}
