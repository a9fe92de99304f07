package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"brain2-connections/infrastructure/di"
	"brain2-connections/interfaces/http/rest/handlers"
	"brain2-connections/interfaces/http/rest/middleware"
	"brain2-connections/pkg/auth"
	"brain2-connections/pkg/common"
)

// pinger is implemented by stores that can report their health
type pinger interface {
	Ping(ctx context.Context) error
}

// Router creates and configures the HTTP router
type Router struct {
	container *di.Container
	logger    *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(container *di.Container) *Router {
	return &Router{
		container: container,
		logger:    container.Logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() *chi.Mux {
	c := rt.container
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(c.ErrorHandler.Recover)
	router.Use(middleware.Logger(rt.logger))
	router.Use(middleware.Metrics(c.Metrics))
	router.Use(c.Tracer.Middleware)
	router.Use(versionMiddleware)

	if c.Config.EnableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   c.Config.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.NotFound(c.ErrorHandler.NotFound)
	router.MethodNotAllowed(c.ErrorHandler.MethodNotAllowed)

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if c.Config.EnableMetrics {
		router.Handle("/metrics", c.Metrics.Handler())
	}

	connectionHandler := handlers.NewConnectionHandler(c.Connections, c.ErrorHandler, rt.logger)
	historyHandler := handlers.NewHistoryHandler(c.History, c.ErrorHandler, rt.logger)
	rollbackHandler := handlers.NewRollbackHandler(c.Rollback, c.ErrorHandler, rt.logger)
	adminHandler := handlers.NewAdminHandler(c.Janitor, c.ErrorHandler, rt.logger)

	router.Route("/api/v2", func(r chi.Router) {
		r.Use(middleware.Authenticate(c.JWTValidator, c.ErrorHandler, rt.logger))

		r.Route("/connections", func(r chi.Router) {
			r.Get("/", connectionHandler.FindByPair)
			r.Post("/", connectionHandler.Create)
			r.Put("/{connectionID}", connectionHandler.Update)
			r.Delete("/{connectionID}", connectionHandler.Delete)

			r.Route("/history", func(r chi.Router) {
				r.Get("/", historyHandler.List)
				r.With(middleware.RateLimit(c.RollbackLimiter, c.ErrorHandler, rt.logger)).
					Post("/rollback", rollbackHandler.Rollback)
				r.Get("/{historyID}", historyHandler.Get)
				r.Get("/{historyID}/lineage", historyHandler.Lineage)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(c.ErrorHandler, auth.RoleAdmin))
			r.Post("/history/cleanup", adminHandler.Cleanup)
		})
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	common.RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// readinessCheck reports whether the store answers
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	if p, ok := rt.container.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			rt.logger.Warn("Readiness check failed", zap.Error(err))
			common.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	common.RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// versionMiddleware adds API version headers to all responses
func versionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-API-Version", "v2")
		w.Header().Set("X-API-Latest", "v2")
		next.ServeHTTP(w, r)
	})
}
