package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/opensource-finance/docket/internal/billing"
	"github.com/opensource-finance/docket/internal/domain"
	"github.com/opensource-finance/docket/internal/fee"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. cache may be nil, which disables
// Idempotency-Key replay.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *billing.Engine, fees *fee.Computer, version string) *Server {
	handler := NewHandler(repo, cache, bus, engine, fees, version)
	router := chi.NewRouter()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Global middleware stack
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyKeyHeader, RequestIDHeader, TraceIDHeader},
		ExposedHeaders:   []string{RequestIDHeader, TraceIDHeader, IdempotentReplayHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Group(func(r chi.Router) {
		r.Use(IdempotencyMiddleware(cache, DefaultIdempotencyTTL))

		// Case records and the payment ledger
		r.Put("/cases/{caseID}", handler.UpsertCase)
		r.Post("/cases/{caseID}/payments", handler.RecordPayment)
		r.Get("/cases/{caseID}/invoices", handler.ListInvoices)

		// Stage billing
		r.Route("/cases/{caseID}/stage-billing", func(r chi.Router) {
			r.Post("/", handler.CreateStageBilling)
			r.Put("/config", handler.UpdateConfiguration)
			r.Get("/progress", handler.GetProgress)
			r.Get("/suggestions", handler.GetSuggestions)
			r.Post("/automation", handler.ProcessAutomation)
		})

		r.Post("/billing-nodes/{nodeID}/validate", handler.ValidateCompletion)
		r.Post("/billing-nodes/{nodeID}/complete", handler.CompleteMilestone)

		r.Get("/invoices/{id}", handler.GetInvoice)

		// Fee calculations
		r.Post("/fees/calculate", handler.CalculateFee)
		r.Post("/fees/contingency", handler.CalculateContingency)
		r.Post("/fees/retainer", handler.CalculateRetainer)
		r.Post("/fees/convert", handler.ConvertCurrency)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
