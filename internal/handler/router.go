package handler

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"contact-service/internal/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RouterOptions holds the HTTP-level settings of the router.
type RouterOptions struct {
	AllowedOrigins []string
	// TrustProxy enables X-Forwarded-For / X-Real-IP handling. Only set it
	// behind a proxy that overwrites those headers.
	TrustProxy bool
	// GlobalRPS caps form submissions across all clients; 0 disables it.
	GlobalRPS   float64
	GlobalBurst int
	// HealthCheck returns the failing dependencies by name. Nil skips the
	// checks and /health always answers healthy.
	HealthCheck func(ctx context.Context) map[string]error
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string   `json:"status"`
	Service string   `json:"service"`
	Failing []string `json:"failing,omitempty"`
}

// NewRouter creates and configures the Chi router with all middleware and routes.
// admin may be nil, in which case no admin routes are mounted.
func NewRouter(form *FormHandler, admin *AdminHandler, opts RouterOptions, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	// Middleware stack
	router.Use(middleware.RequestID)
	if opts.TrustProxy {
		router.Use(middleware.RealIP)
	}
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(SecurityHeaders)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:     opts.AllowedOrigins,
		AllowedMethods:     []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Content-Type", "X-Requested-With"},
		AllowCredentials:   false,
		MaxAge:             300,
		OptionsPassthrough: true,
	}))

	router.Get("/health", healthHandler(opts.HealthCheck, logger))

	form.RegisterRoutes(router, GlobalThrottle(opts.GlobalRPS, opts.GlobalBurst, logger))
	if admin != nil {
		admin.RegisterRoutes(router)
	}

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusNotFound, ErrorResponse{Error: "endpoint not found"})
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusMethodNotAllowed, ErrorResponse{Error: msgNotAllowed})
	})

	return router
}

func healthHandler(check func(context.Context) map[string]error, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "healthy", Service: "contact-service"}
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			for name, err := range check(ctx) {
				logger.Warn("Health check failed", util.String("component", name), util.ErrorField(err))
				resp.Failing = append(resp.Failing, name)
			}
		}
		if len(resp.Failing) > 0 {
			sort.Strings(resp.Failing)
			resp.Status = "unhealthy"
			writeJSON(w, logger, http.StatusServiceUnavailable, resp)
			return
		}
		writeJSON(w, logger, http.StatusOK, resp)
	}
}

// SecurityHeaders sets the hardening headers sent with every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// GlobalThrottle caps the request rate of the wrapped routes for all clients
// together. Per-IP limits are enforced by the contact service.
func GlobalThrottle(rps float64, burst int, logger *zap.Logger) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.Warn("Global submission rate exceeded", util.String("path", r.URL.Path))
				retryAfter := retryAfterSeconds()
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeJSON(w, logger, http.StatusTooManyRequests, ErrorResponse{Error: msgRateLimited, RetryAfter: retryAfter})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.String("request_id", middleware.GetReqID(r.Context())),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
