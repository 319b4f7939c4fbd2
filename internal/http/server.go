package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/us-weather-agent/internal/observability"
)

// ServerConfig holds transport settings for serve mode.
type ServerConfig struct {
	Addr            string
	RequestTimeout  time.Duration
	RateLimitRPS    int
	RateLimitBurst  int
	ShutdownTimeout time.Duration
}

// NewRouter wires the routes. /health and /metrics bypass the rate limiter and timeout.
func NewRouter(h *Handler, cfg ServerConfig) *mux.Router {
	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(h.deps.Logger))
	router.Use(MetricsMiddleware(h.inFlight))
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(limiter, h.deps.Tracker))
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	api.HandleFunc("/weather/{city}", h.GetWeather).Methods(http.MethodGet)
	api.HandleFunc("/classify", h.GetClassify).Methods(http.MethodGet)
	api.HandleFunc("/ask", h.PostAsk).Methods(http.MethodPost)
	return router
}

// Serve listens on cfg.Addr and serves until ctx is cancelled.
func Serve(ctx context.Context, h *Handler, cfg ServerConfig) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, h, cfg)
}

// ServeListener serves on ln until ctx is cancelled, then flips /health to shutting-down,
// stops accepting connections and waits for in-flight requests up to cfg.ShutdownTimeout.
func ServeListener(ctx context.Context, ln net.Listener, h *Handler, cfg ServerConfig) error {
	logger := h.deps.Logger
	writeTimeout := 10 * time.Second
	if cfg.RequestTimeout+time.Second > writeTimeout {
		writeTimeout = cfg.RequestTimeout + time.Second
	}
	srv := &http.Server{
		Handler:      NewRouter(h, cfg),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("graceful shutdown triggered")
	h.SetShuttingDown(true)
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", h.inFlight.Count()))
	if err := h.inFlight.WaitForZero(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", h.inFlight.Count()))
	}
	logger.Info("shutdown complete")
	return nil
}
