package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/cart"
	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/registry"
)

const prefix = "/storefront"

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware logs requests at debug level.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self';")
			}
			// session tokens travel in responses
			w.Header().Set("Cache-Control", "no-store")
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Deps are the services the HTTP surface is mounted over.
type Deps struct {
	Identity *identity.Service
	Registry *registry.Service
	Cart     *cart.Service
}

// RegisterRoutes mounts every handler on a chi router.
func RegisterRoutes(logger *zap.SugaredLogger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(logger))
	r.Use(SecurityHeadersMiddleware())

	r.Handle("/metrics", promhttp.Handler())

	r.Route(prefix, func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})

		sessions := identity.NewHandler(deps.Identity, logger)
		r.Route("/session", func(r chi.Router) {
			r.Get("/", sessions.Session)
			r.Post("/", sessions.Login)
			r.Delete("/", sessions.Logout)
			r.Patch("/profile", sessions.UpdateProfile)
		})

		if deps.Registry != nil {
			accounts := registry.NewHandler(deps.Registry, deps.Identity.IsAdmin, logger)
			r.Post("/registry", accounts.Register)
			r.Get("/registry", accounts.List)
		}

		carts := cart.NewHandler(deps.Cart, logger)
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", carts.Cart)
			r.Delete("/", carts.Clear)
			r.Post("/items", carts.AddItem)
			r.Patch("/items/{lineID}", carts.SetQuantity)
			r.Delete("/items/{lineID}", carts.RemoveItem)
		})
		r.Route("/wishlist", func(r chi.Router) {
			r.Get("/", carts.Wishlist)
			r.Delete("/", carts.ClearWishlist)
			r.Post("/toggle", carts.ToggleWishlist)
		})
	})
	return r
}
