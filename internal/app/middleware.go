package app

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/unrolled/secure"

	"github.com/roamly/roamly-payments/internal/observability"
	"github.com/roamly/roamly-payments/internal/platform/httpx"
	"github.com/roamly/roamly-payments/internal/shared"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the base middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	stack := []func(http.Handler) http.Handler{
		secureMiddleware.Handler,
	}
	if cfg.Metrics != nil {
		stack = append(stack, cfg.Metrics.Middleware)
	}
	return stack
}

// RequestLogger emits one structured log line per completed request, so
// request logs share the handler format chosen by LOG_FORMAT.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", chimw.GetReqID(r.Context())))
		})
	}
}

// orgHeader carries the organization id resolved by the upstream gateway.
const orgHeader = "X-Org-ID"

// RequireOrg resolves the organization header into the request context.
// Tenant authentication itself happens upstream; this core only scopes by
// the id it is handed.
func RequireOrg(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID, err := uuid.Parse(r.Header.Get(orgHeader))
		if err != nil || orgID == uuid.Nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "valid X-Org-ID header required")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithOrg(r.Context(), orgID)))
	})
}
