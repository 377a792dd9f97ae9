package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"product-media-studio/internal/usecase"
)

// Server exposes the orchestrator facade over HTTP. The UI polls
// GET /jobs/{kind}/{taskID} repeatedly; nothing is pushed.
type Server struct {
	orch   *usecase.OrchestratorUseCase
	ledger *usecase.LedgerUseCase
	auth   *AuthManager
	log    *zerolog.Logger
	server *http.Server
}

func NewServer(orch *usecase.OrchestratorUseCase, ledger *usecase.LedgerUseCase, auth *AuthManager, logger *zerolog.Logger) *Server {
	return &Server{orch: orch, ledger: ledger, auth: auth, log: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/jobs", s.handleSubmit)
		r.Get("/jobs/{kind}/{taskID}", s.handlePoll)
		r.Get("/jobs/{kind}/{taskID}/wait", s.handleAwait)
		r.Delete("/jobs/{kind}/{taskID}", s.handleCancel)
		r.Get("/balance", s.handleBalance)
	})
	return r
}

func (s *Server) Start(port int) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info().Int("port", port).Msg("http server listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
