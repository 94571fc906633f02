package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/MrEthical07/goOTP/middleware"
)

// Options configures NewRouter. Metrics is mounted at /metrics when set.
type Options struct {
	Logger         *slog.Logger
	Metrics        http.Handler
	RequestTimeout time.Duration
}

// NewRouter wires the OTP endpoints onto a chi router.
func NewRouter(svc Service, opts Options) http.Handler {
	h := NewHandler(svc, opts.Logger)
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(opts.RequestTimeout))
	r.Use(middleware.ClientIP)

	r.Get("/healthz", h.Healthz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/checkout", func(r chi.Router) {
		r.Post("/otp/request", h.RequestCheckout)
		r.Post("/otp/resend", h.ResendCheckout)
		r.Post("/otp/verify", h.VerifyCheckout)
		r.With(middleware.RequireCheckout(svc)).Get("/session", h.Session)
	})

	r.Route("/tracking", func(r chi.Router) {
		r.Post("/otp/request", h.RequestTracking)
		r.Post("/otp/verify", h.VerifyTracking)
		r.With(middleware.RequireTracking(svc)).Get("/session", h.Session)
	})

	return r
}
