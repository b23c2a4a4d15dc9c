package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"yoyaku/internal/config"
	"yoyaku/internal/models"
	"yoyaku/internal/pricing"
	"yoyaku/internal/service"

	"github.com/rs/zerolog"
)

// ReservationService is the lifecycle surface the HTTP layer drives.
type ReservationService interface {
	Slots(ctx context.Context, date, course string) (*service.SlotsResult, error)
	Quote(ctx context.Context, req service.QuoteRequest) (pricing.Quote, error)
	Create(ctx context.Context, req service.CreateRequest) (*models.Reservation, error)
	Confirm(ctx context.Context, id string) (*service.ConfirmResult, error)
	Deny(ctx context.Context, id string) (*service.DenyResult, error)
}

type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// HTTPServer exposes the booking API.
type HTTPServer struct {
	cfg     config.APIConfig
	svc     ReservationService
	health  HealthChecker
	server  *http.Server
	limiter *rateLimiter
	logger  *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc ReservationService, health HealthChecker, logger *zerolog.Logger) *HTTPServer {
	l := logger.With().Str("component", "http").Logger()
	srv := &HTTPServer{
		cfg:     cfg,
		svc:     svc,
		health:  health,
		limiter: newRateLimiter(cfg.RateLimit),
		logger:  &l,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/slots", srv.handleSlots)
	mux.HandleFunc("POST /api/quote", srv.handleQuote)
	mux.HandleFunc("POST /api/reservations", srv.handleCreate)
	mux.HandleFunc("GET /api/confirm", srv.handleConfirmLink)
	mux.HandleFunc("POST /api/confirm", srv.handleConfirm)
	mux.HandleFunc("GET /api/deny", srv.handleDenyLink)
	mux.HandleFunc("POST /api/deny", srv.handleDeny)
	mux.HandleFunc("GET /healthz", srv.handleHealth)

	handler := chain(mux,
		requestIDMiddleware,
		accessLogMiddleware(srv.logger),
		metricsMiddleware,
		srv.limiter.Wrap,
	)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      45 * time.Second,
	}
	return srv
}

// Handler returns the fully wrapped request handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
