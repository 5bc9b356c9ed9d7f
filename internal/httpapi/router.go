// internal/httpapi/router.go
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"libraryapi/internal/apperror"
	"libraryapi/internal/catalog"
	"libraryapi/internal/circulation"
	"libraryapi/internal/httpapi/render"
	"libraryapi/internal/membership"
	"libraryapi/internal/penalty"
)

// Services are the domain services exposed over HTTP.
type Services struct {
	Circulation circulation.Service
	Penalty     penalty.Service
	Catalog     catalog.Service
	Membership  membership.Service
}

// Options tune the router. Ping backs /healthz; a nil Ping always reports ok.
type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
	Ping           func(ctx context.Context) error
}

// NewRouter mounts every resource handler behind the shared middleware stack.
func NewRouter(services Services, opts Options, logger *slog.Logger) http.Handler {
	logger = logger.With("component", "httpapi")

	limit := rate.Inf
	if opts.RateLimitRPS > 0 {
		limit = rate.Limit(opts.RateLimitRPS)
	}
	burst := opts.RateLimitBurst
	if burst < 1 {
		burst = 1
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(logger))
	r.Use(recoverer(logger))
	r.Use(tracing())
	r.Use(rateLimit(rate.NewLimiter(limit, burst)))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		render.Error(w, r, apperror.NotFound("no route for %s %s", r.Method, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, http.StatusMethodNotAllowed, render.ErrorDetails{
			StatusCode: http.StatusMethodNotAllowed,
			Message:    "method not allowed",
		})
	})

	r.Get("/healthz", healthz(opts.Ping))

	r.Route("/loans", circulation.NewHandler(services.Circulation).Routes)
	r.Route("/penalties", penalty.NewHandler(services.Penalty).Routes)

	books := catalog.NewHandler(services.Catalog)
	r.Route("/books", books.BookRoutes)
	r.Route("/book-copies", books.CopyRoutes)

	people := membership.NewHandler(services.Membership)
	r.Route("/members", people.MemberRoutes)
	r.Route("/employees", people.EmployeeRoutes)
	r.Route("/users", people.UserRoutes)

	return r
}

func healthz(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				render.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		render.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
