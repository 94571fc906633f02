package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goOTP "github.com/MrEthical07/goOTP"
)

// SessionValidator is satisfied by *goOTP.Engine.
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string, purpose goOTP.Purpose) (*goOTP.SessionClaims, error)
}

type claimsContextKey struct{}

func ClaimsFromContext(ctx context.Context) (*goOTP.SessionClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*goOTP.SessionClaims)
	return claims, ok
}

// Guard admits requests carrying a bearer session issued for purpose. A
// valid token for another purpose gets 403; anything else gets 401.
func Guard(validator SessionValidator, purpose goOTP.Purpose) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validator == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateSession(r.Context(), token, purpose)
			if err != nil {
				if errors.Is(err, goOTP.ErrPurposeMismatch) {
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCheckout guards guest checkout routes.
func RequireCheckout(validator SessionValidator) func(http.Handler) http.Handler {
	return Guard(validator, goOTP.PurposeCheckout)
}

// RequireTracking guards read-only order tracking routes.
func RequireTracking(validator SessionValidator) func(http.Handler) http.Handler {
	return Guard(validator, goOTP.PurposeOrderTracking)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
