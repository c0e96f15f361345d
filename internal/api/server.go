// Package api exposes flow sessions, positions and market data over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Proton-105/himera-lend/internal/aave"
	"github.com/Proton-105/himera-lend/internal/domain"
	apperrors "github.com/Proton-105/himera-lend/internal/errors"
	"github.com/Proton-105/himera-lend/internal/flows"
	"github.com/Proton-105/himera-lend/internal/i18n"
	"github.com/Proton-105/himera-lend/internal/idempotency"
	"github.com/Proton-105/himera-lend/internal/lifecycle"
	"github.com/Proton-105/himera-lend/internal/marketdata"
	"github.com/Proton-105/himera-lend/internal/middleware"
	"github.com/Proton-105/himera-lend/internal/prediction"
	"github.com/Proton-105/himera-lend/internal/ratelimit"
	"github.com/Proton-105/himera-lend/pkg/config"
	"github.com/Proton-105/himera-lend/pkg/logger"
)

const (
	maxBodyBytes   = 1 << 20
	requestTimeout = 30 * time.Second
)

// PositionService reads and refreshes user positions. *marketdata.Tracker
// satisfies it.
type PositionService interface {
	Positions(ctx context.Context, network domain.Network, user string) (*domain.Positions, error)
	Refresh(ctx context.Context, network domain.Network, user string) (*domain.Positions, error)
	Reserves(ctx context.Context, network domain.Network, user string, side marketdata.Side) ([]domain.Reserve, error)
}

// BalanceService reads on-chain balances. *aave.Service satisfies it.
type BalanceService interface {
	Balances(ctx context.Context, network domain.Network, user, asset, symbol string) (*aave.Balances, error)
}

// RateService lists and refreshes USD rates. *marketdata.Rates satisfies it.
type RateService interface {
	List(ctx context.Context, network domain.Network) ([]domain.ExchangeRate, error)
	Refresh(ctx context.Context, network domain.Network) ([]domain.ExchangeRate, error)
}

// Predictor previews an action.
type Predictor interface {
	Predict(ctx context.Context, in prediction.Input) (*prediction.Prediction, error)
}

// HistoryReader lists recorded outcomes of a user.
type HistoryReader interface {
	ListByUser(ctx context.Context, user string, limit int) ([]domain.ActionOutcome, error)
}

// TaskEnqueuer schedules background tasks. jobs.Manager satisfies it.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Deps are the collaborators of the API. Flows, Positions, Balances, Rates and
// Predictor are required; the rest disable their checks, routes or middleware
// when nil.
type Deps struct {
	Flows       *flows.Controller
	Networks    flows.NetworkChecker
	Positions   PositionService
	Balances    BalanceService
	Rates       RateService
	Predictor   Predictor
	History     HistoryReader
	Jobs        TaskEnqueuer
	Probes      *lifecycle.Probes
	Errors      *apperrors.Handler
	Locales     *i18n.Manager
	Limiter     ratelimit.Limiter
	Rules       *ratelimit.Rules
	Idempotency idempotency.Manager
	HTTP        config.HTTPConfig
	Log         *slog.Logger
}

// Server holds the API handlers.
type Server struct {
	flows       *flows.Controller
	networks    flows.NetworkChecker
	positions   PositionService
	balances    BalanceService
	rates       RateService
	predictor   Predictor
	history     HistoryReader
	jobs        TaskEnqueuer
	probes      *lifecycle.Probes
	errors      *apperrors.Handler
	locales     *i18n.Manager
	rateLimit   *middleware.RateLimit
	idempotency idempotency.Manager
	cfg         config.HTTPConfig
	log         *slog.Logger
	upgrader    upgrader

	streamsDone chan struct{}
	closeOnce   sync.Once
}

func NewServer(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	handler := deps.Errors
	if handler == nil {
		handler = apperrors.NewHandler(log, false)
	}
	probes := deps.Probes
	if probes == nil {
		probes = lifecycle.NewProbes(nil, log)
		probes.MarkReady()
	}

	s := &Server{
		flows:       deps.Flows,
		networks:    deps.Networks,
		positions:   deps.Positions,
		balances:    deps.Balances,
		rates:       deps.Rates,
		predictor:   deps.Predictor,
		history:     deps.History,
		jobs:        deps.Jobs,
		probes:      probes,
		errors:      handler,
		locales:     deps.Locales,
		idempotency: deps.Idempotency,
		cfg:         deps.HTTP,
		log:         log.With(slog.String("component", "api")),
		streamsDone: make(chan struct{}),
	}
	s.upgrader = newUpgrader(deps.HTTP.AllowedOrigins)
	s.rateLimit = middleware.NewRateLimit(deps.Limiter, deps.Rules, s.writeError, log)
	return s
}

// Router builds the chi router with the full middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(corsOptions(s.cfg.AllowedOrigins)))
	r.Use(chimw.RealIP)
	r.Use(logger.Middleware)
	r.Use(middleware.Logging(s.log))
	r.Use(middleware.Metrics)
	r.Use(chimw.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, apperrors.NewNotFoundError("Route"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Code: apperrors.CodeValidation, Message: http.StatusText(http.StatusMethodNotAllowed)})
	})

	r.Get("/healthz", s.handleLiveness)
	r.Get("/readyz", s.handleReadiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.rateLimit.Global)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit.PerAddress)

			r.With(middleware.Idempotency(s.idempotency, s.cfg.IdempotencyTTL, s.writeError, s.log)).Post("/flows", s.handleCreateFlow)
			r.Route("/flows/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetFlow)
				r.Delete("/", s.handleDeleteFlow)
				r.Post("/data", s.handleUpdateFlow)
				r.Post("/next", s.handleNext)
				r.Post("/previous", s.handlePrevious)
				r.Post("/goto/{index}", s.handleGoTo)
				r.Post("/open", s.handleOpen)
				r.Post("/close", s.handleClose)
				r.With(s.rateLimit.Submit).Post("/submit", s.handleSubmit)
				r.Get("/events", s.handleEvents)
			})

			r.Get("/positions/{network}/{user}", s.handlePositions)
			r.Post("/positions/{network}/{user}/refresh", s.handleRefreshPositions)
			r.Get("/balances/{network}/{user}/{asset}", s.handleBalances)
			r.Get("/markets/{network}/reserves", s.handleReserves)
			r.Get("/rates/{network}", s.handleRates)
			r.Post("/rates/{network}/refresh", s.handleRefreshRates)
			r.Post("/predictions", s.handlePredict)
			if s.history != nil {
				r.Get("/history/{user}", s.handleHistory)
			}
		})
	})

	return r
}

// CloseStreams ends every open event stream. Hijacked connections are not
// drained by http.Server.Shutdown.
func (s *Server) CloseStreams() {
	s.closeOnce.Do(func() { close(s.streamsDone) })
}

func corsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{
			"Accept", "Accept-Language", "Content-Type",
			logger.CorrelationIDHeader, middleware.IdempotencyHeader, middleware.WalletHeader,
		},
		ExposedHeaders: []string{
			logger.CorrelationIDHeader, middleware.ReplayedHeader,
			"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining",
		},
		AllowCredentials: false,
		MaxAge:           300,
	}
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if err := s.probes.Liveness(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, state := http.StatusOK, "ready"
	if err := s.probes.Readiness(ctx); err != nil {
		status, state = http.StatusServiceUnavailable, "not_ready"
	}
	writeJSON(w, status, map[string]any{
		"status": state,
		"checks": s.probes.Details(ctx),
	})
}

func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}
