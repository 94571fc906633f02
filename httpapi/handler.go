package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	goOTP "github.com/MrEthical07/goOTP"
	"github.com/MrEthical07/goOTP/middleware"
)

const maxBodyBytes = 8 << 10

// Service is the engine surface the handlers need. *goOTP.Engine satisfies it.
type Service interface {
	RequestCheckoutOTP(ctx context.Context, req goOTP.CheckoutOTPRequest) (*goOTP.ChallengeIssued, error)
	ResendCheckoutOTP(ctx context.Context, req goOTP.ResendCheckoutOTPRequest) (*goOTP.ChallengeIssued, error)
	VerifyCheckoutOTP(ctx context.Context, req goOTP.VerifyCheckoutOTPRequest) (*goOTP.SessionGrant, error)
	RequestTrackingOTP(ctx context.Context, req goOTP.TrackingOTPRequest) (*goOTP.ChallengeIssued, error)
	VerifyTrackingOTP(ctx context.Context, req goOTP.VerifyTrackingOTPRequest) (*goOTP.SessionGrant, error)
	ValidateSession(ctx context.Context, token string, purpose goOTP.Purpose) (*goOTP.SessionClaims, error)
	Health(ctx context.Context) goOTP.HealthStatus
}

type Handler struct {
	svc    Service
	logger *slog.Logger
}

func NewHandler(svc Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{svc: svc, logger: logger}
}

type requestOTPBody struct {
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	PreferEmail bool   `json:"preferEmail"`
}

type resendOTPBody struct {
	Phone            string `json:"phone"`
	Email            string `json:"email"`
	PreferredChannel string `json:"preferredChannel"`
}

type trackingOTPBody struct {
	Phone       string `json:"phone"`
	OrderNumber string `json:"orderNumber"`
}

type verifyOTPBody struct {
	OTPID string `json:"otpId"`
	Code  string `json:"code"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type issuedResponse struct {
	OTPID              string `json:"otpId"`
	SentVia            string `json:"sentVia"`
	ExpiresInSeconds   int    `json:"expiresInSeconds"`
	MaskedContact      string `json:"maskedContact,omitempty"`
	RelatedRecordCount int    `json:"relatedRecordCount,omitempty"`
}

type grantResponse struct {
	AccessToken      string `json:"accessToken"`
	TokenType        string `json:"tokenType"`
	SubjectID        string `json:"subjectId"`
	IsNewIdentity    bool   `json:"isNewIdentity"`
	Purpose          string `json:"purpose"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
}

type sessionResponse struct {
	SubjectID string `json:"subjectId"`
	Purpose   string `json:"purpose"`
	Contact   string `json:"contact"`
	ExpiresAt string `json:"expiresAt"`
}

func (h *Handler) RequestCheckout(w http.ResponseWriter, r *http.Request) {
	var body requestOTPBody
	if !h.decode(w, r, &body) {
		return
	}

	issued, err := h.svc.RequestCheckoutOTP(r.Context(), goOTP.CheckoutOTPRequest{
		Phone:       body.Phone,
		Email:       body.Email,
		PreferEmail: body.PreferEmail,
	})
	if err != nil {
		h.fail(w, r, "checkout request", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toIssued(issued))
}

func (h *Handler) ResendCheckout(w http.ResponseWriter, r *http.Request) {
	var body resendOTPBody
	if !h.decode(w, r, &body) {
		return
	}

	issued, err := h.svc.ResendCheckoutOTP(r.Context(), goOTP.ResendCheckoutOTPRequest{
		Phone:            body.Phone,
		Email:            body.Email,
		PreferredChannel: goOTP.DeliveryChannel(body.PreferredChannel),
	})
	if err != nil {
		h.fail(w, r, "checkout resend", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toIssued(issued))
}

func (h *Handler) VerifyCheckout(w http.ResponseWriter, r *http.Request) {
	var body verifyOTPBody
	if !h.decode(w, r, &body) {
		return
	}

	grant, err := h.svc.VerifyCheckoutOTP(r.Context(), goOTP.VerifyCheckoutOTPRequest{
		OTPID: body.OTPID,
		Code:  body.Code,
		Phone: body.Phone,
		Email: body.Email,
	})
	if err != nil {
		h.fail(w, r, "checkout verify", err)
		return
	}
	writeJSON(w, r, http.StatusOK, toGrant(grant))
}

func (h *Handler) RequestTracking(w http.ResponseWriter, r *http.Request) {
	var body trackingOTPBody
	if !h.decode(w, r, &body) {
		return
	}

	issued, err := h.svc.RequestTrackingOTP(r.Context(), goOTP.TrackingOTPRequest{
		Phone:       body.Phone,
		OrderNumber: body.OrderNumber,
	})
	if err != nil {
		h.fail(w, r, "tracking request", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toIssued(issued))
}

func (h *Handler) VerifyTracking(w http.ResponseWriter, r *http.Request) {
	var body verifyOTPBody
	if !h.decode(w, r, &body) {
		return
	}

	grant, err := h.svc.VerifyTrackingOTP(r.Context(), goOTP.VerifyTrackingOTPRequest{
		OTPID: body.OTPID,
		Code:  body.Code,
		Phone: body.Phone,
	})
	if err != nil {
		h.fail(w, r, "tracking verify", err)
		return
	}
	writeJSON(w, r, http.StatusOK, toGrant(grant))
}

// Session echoes the claims placed on the context by the purpose guard.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, goOTP.CodeUnauthorized, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, sessionResponse{
		SubjectID: claims.SubjectID,
		Purpose:   string(claims.Purpose),
		Contact:   claims.Contact,
		ExpiresAt: claims.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	status := h.svc.Health(r.Context())
	code := http.StatusOK
	if !status.RedisAvailable {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, map[string]any{
		"redis":          status.RedisAvailable,
		"redisLatencyMs": status.RedisLatency.Milliseconds(),
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		details := map[string]any{"body": "invalid json"}
		if errors.Is(err, io.EOF) {
			details["body"] = "empty"
		}
		writeError(w, r, http.StatusBadRequest, goOTP.CodeValidation, details)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if goOTP.ErrorCode(err) == goOTP.CodeInternal {
		h.logger.ErrorContext(r.Context(), "otp handler failed", "op", op, "error", err)
	}
	writeEngineError(w, r, err)
}

func toIssued(c *goOTP.ChallengeIssued) issuedResponse {
	return issuedResponse{
		OTPID:              c.OTPID,
		SentVia:            string(c.SentVia),
		ExpiresInSeconds:   int(c.ExpiresIn.Seconds()),
		MaskedContact:      c.MaskedContact,
		RelatedRecordCount: c.RelatedRecordCount,
	}
}

func toGrant(g *goOTP.SessionGrant) grantResponse {
	return grantResponse{
		AccessToken:      g.AccessToken,
		TokenType:        "Bearer",
		SubjectID:        g.SubjectID,
		IsNewIdentity:    g.IsNewIdentity,
		Purpose:          string(g.Purpose),
		ExpiresInSeconds: int(g.ExpiresIn.Seconds()),
	}
}
