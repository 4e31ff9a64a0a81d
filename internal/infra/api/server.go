package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"async-inference-ledger/internal/infra/logging"
	"async-inference-ledger/internal/usecase"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Deps collects what the HTTP layer needs. Limiter, Poller and Health are
// optional.
type Deps struct {
	Submitter       usecase.JobSubmitter
	Jobs            usecase.JobQueryUseCase
	Credits         usecase.CreditUseCase
	Reconciler      usecase.WebhookReconciler
	Poller          usecase.Poller
	Limiter         RateLimiter
	Auth            *AuthManager
	WebhookSecret   string
	SubmitPerMinute int
	PollTimeout     time.Duration
	RequestTimeout  time.Duration
	Health          func(ctx context.Context) error
}

type Server struct {
	submitter       usecase.JobSubmitter
	jobs            usecase.JobQueryUseCase
	credits         usecase.CreditUseCase
	reconciler      usecase.WebhookReconciler
	poller          usecase.Poller
	limiter         RateLimiter
	auth            *AuthManager
	webhookSecret   string
	submitPerMinute int
	pollTimeout     time.Duration
	requestTimeout  time.Duration
	health          func(ctx context.Context) error
	log             *zerolog.Logger

	srv *http.Server
}

func NewServer(d Deps, logger *zerolog.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	if d.PollTimeout <= 0 {
		d.PollTimeout = 2 * time.Minute
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 30 * time.Second
	}
	return &Server{
		submitter:       d.Submitter,
		jobs:            d.Jobs,
		credits:         d.Credits,
		reconciler:      d.Reconciler,
		poller:          d.Poller,
		limiter:         d.Limiter,
		auth:            d.Auth,
		webhookSecret:   d.WebhookSecret,
		submitPerMinute: d.SubmitPerMinute,
		pollTimeout:     d.PollTimeout,
		requestTimeout:  d.RequestTimeout,
		health:          d.Health,
		log:             logger,
	}
}

// Routes builds the router. Polled status reads can outlive the request
// timeout, so that route gets the poll budget on top.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(s.log), RequestLog(s.log), Recover(s.log))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.With(Timeout(s.requestTimeout)).Post("/webhooks/predictions", s.handleWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Authenticate(s.auth))
		r.With(Timeout(s.requestTimeout)).Post("/jobs", s.handleSubmitJob)
		r.With(Timeout(s.requestTimeout+s.pollTimeout)).Get("/jobs/{predictionID}", s.handleGetJob)
		r.With(Timeout(s.requestTimeout)).Get("/credits", s.handleCredits)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			logging.With(r.Context(), s.log).Warn().Err(err).Msg("health check failed")
			writeError(w, http.StatusServiceUnavailable, CodeInternal, "unhealthy")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) Start(port int) error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Int("port", port).Msg("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
