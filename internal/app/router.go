package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/roamly/roamly-payments/internal/ledger"
	"github.com/roamly/roamly-payments/internal/observability"
	"github.com/roamly/roamly-payments/internal/payments"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	LedgerHandler   *ledger.Handler
	PaymentsHandler *payments.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with Roamly defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(RequestLogger(logger))
	r.Use(chimw.Recoverer)
	if params.Config != nil {
		r.Use(chimw.Timeout(params.Config.AppRequestTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/webhooks", func(r chi.Router) {
			if params.Config != nil && params.Config.WebhookRateLimit > 0 {
				r.Use(httprate.LimitByIP(params.Config.WebhookRateLimit, params.Config.WebhookRateWindow))
			}
			params.PaymentsHandler.MountWebhookRoutes(r)
		})
		r.Route("/bookings", func(r chi.Router) {
			r.Use(RequireOrg)
			params.PaymentsHandler.MountBookingRoutes(r)
		})
		r.Route("/ledger", func(r chi.Router) {
			r.Use(RequireOrg)
			params.LedgerHandler.MountRoutes(r)
		})
	})

	return r
}
