package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/diegodamacenoo/banban-core/internal/analytics"
	"github.com/diegodamacenoo/banban-core/internal/eca"
	"github.com/diegodamacenoo/banban-core/internal/middleware"
	"github.com/diegodamacenoo/banban-core/internal/repository"
	"github.com/diegodamacenoo/banban-core/internal/webhook"
)

// Server owns the HTTP surface: webhook ingestion, read endpoints,
// analytics and health.
type Server struct {
	webhooks       *webhook.Handler
	registry       *eca.Registry
	analytics      *analytics.Engine
	transactions   repository.TransactionRepository
	entities       repository.EntityRepository
	sharedSecret   string
	allowedOrigins []string
	logger         logrus.FieldLogger
}

func New(
	webhooks *webhook.Handler,
	registry *eca.Registry,
	engine *analytics.Engine,
	transactions repository.TransactionRepository,
	entities repository.EntityRepository,
	sharedSecret string,
	allowedOrigins []string,
	logger logrus.FieldLogger,
) *Server {
	return &Server{
		webhooks:       webhooks,
		registry:       registry,
		analytics:      engine,
		transactions:   transactions,
		entities:       entities,
		sharedSecret:   sharedSecret,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

// Router assembles the full handler chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logging(s.logger))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/webhooks", s.webhooks.Routes)

		r.Group(func(r chi.Router) {
			r.Use(s.requireTenant)
			r.Get("/transactions", s.handleListTransactions)
			r.Get("/entities", s.handleListEntities)
			r.Get("/analytics/rfm", s.handleRFM)
			r.Get("/analytics/performance", s.handlePerformance)
			r.Get("/analytics/rfm/export", s.handleRFMExport)
		})
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})
	return corsHandler.Handler(r)
}
