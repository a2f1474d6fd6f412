// Package api exposes the storefront over HTTP.
package api

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/grocery-store/internal/auth"
	"github.com/safar/grocery-store/internal/catalog"
	"github.com/safar/grocery-store/internal/chat"
	"github.com/safar/grocery-store/internal/config"
	"github.com/safar/grocery-store/internal/logging"
	"github.com/safar/grocery-store/internal/metrics"
	"github.com/safar/grocery-store/internal/models"
)

type Server struct {
	db        *sql.DB
	catalog   *catalog.Catalog
	assistant *chat.Assistant
	tokens    *auth.Tokens
	logger    *slog.Logger
	router    chi.Router
}

func NewServer(db *sql.DB, cat *catalog.Catalog, assistant *chat.Assistant, tokens *auth.Tokens, logger *slog.Logger) *Server {
	s := &Server{
		db:        db,
		catalog:   cat,
		assistant: assistant,
		tokens:    tokens,
		logger:    logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Get("/categories", s.listCategories)
		api.Get("/categories/{id}", s.getCategory)
		api.Get("/products", s.listProducts)
		api.Get("/products/{id}", s.getProduct)
		api.Post("/chatbot", s.chatbot)

		api.Group(func(user chi.Router) {
			user.Use(s.requireUser)

			user.Get("/auth/user", s.currentUser)
			user.Post("/recommendations", s.recommendations)

			user.Route("/cart", func(cart chi.Router) {
				cart.Get("/", s.getCart)
				cart.Post("/", s.addToCart)
				cart.Delete("/", s.clearCart)
				cart.Put("/{id}", s.updateCartItem)
				cart.Delete("/{id}", s.removeFromCart)
			})

			user.Get("/orders", s.listMyOrders)
			user.Post("/orders", s.checkout)
			user.Get("/orders/{id}", s.getOrder)

			user.Group(func(admin chi.Router) {
				admin.Use(s.requireAdmin)

				admin.Post("/categories", s.createCategory)
				admin.Post("/products", s.createProduct)
				admin.Put("/products/{id}", s.updateProduct)
				admin.Delete("/products/{id}", s.deleteProduct)
				admin.Put("/products/{id}/stock", s.setStock)
				admin.Put("/orders/{id}/status", s.updateOrderStatus)

				admin.Route("/admin", func(ar chi.Router) {
					ar.Get("/orders", s.adminOrders)
					ar.Get("/products", s.adminProducts)
					ar.Get("/customers", s.adminCustomers)
					ar.Get("/analytics", s.adminAnalytics)
				})
			})
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		logging.FromContext(r.Context()).Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFrom(r))
}

// userFrom returns the user stored by requireUser. Only call it from handlers behind that middleware.
func userFrom(r *http.Request) *models.User {
	user, _ := auth.UserFromContext(r.Context())
	return user
}

// HTTPServer wraps http.Server with the configured timeouts.
type HTTPServer struct {
	httpServer *http.Server
}

func NewHTTPServer(handler http.Handler, cfg config.ServerConfig) *HTTPServer {
	return &HTTPServer{
		httpServer: &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Run blocks until the server stops. A graceful Stop is not reported as an error.
func (s *HTTPServer) Run() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
