package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"3tcapital/ms_facturacion_pe/internal/infrastructure/config"
	httperrors "3tcapital/ms_facturacion_pe/internal/infrastructure/http"
	"3tcapital/ms_facturacion_pe/internal/infrastructure/http/middleware"
)

// Server hosts the inbound HTTP surface of the gateway.
type Server struct {
	log        *slog.Logger
	cfg        config.AppConfig
	httpServer *http.Server
	auth       *middleware.JWTAuthenticator
}

// Options wires the handlers the server exposes.
type Options struct {
	Config         config.AppConfig
	Logger         *slog.Logger
	HealthHandler  http.Handler
	MetricsHandler http.Handler // nil disables the metrics route
	Authenticator  *middleware.JWTAuthenticator
	// GatewayRoutes mounts the API under /v1. When nil every /v1 route
	// answers 503.
	GatewayRoutes func(chi.Router)
}

func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.HealthHandler == nil {
		return nil, errors.New("health handler is required")
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Correlation)
	r.Use(middleware.Caller)
	r.Use(middleware.RequestLogger(opts.Logger))
	r.Use(chimw.Recoverer)

	r.Method(http.MethodGet, "/health", opts.HealthHandler)

	if opts.MetricsHandler != nil {
		metricsPath := opts.Config.Metrics.Path
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.Method(http.MethodGet, metricsPath, opts.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		if opts.Authenticator != nil {
			r.Use(opts.Authenticator.Middleware)
		}
		if opts.GatewayRoutes != nil {
			opts.GatewayRoutes(r)
			return
		}
		r.HandleFunc("/*", func(w http.ResponseWriter, _ *http.Request) {
			httperrors.WriteError(w, http.StatusServiceUnavailable, "Servicio No Disponible",
				[]string{"gateway no configurado"}, opts.Logger)
		})
	})

	httpCfg := opts.Config.HTTP
	return &Server{
		log: opts.Logger,
		cfg: opts.Config,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", httpCfg.Port),
			Handler:      r,
			ReadTimeout:  httpCfg.ReadTimeout,
			WriteTimeout: httpCfg.WriteTimeout,
			IdleTimeout:  httpCfg.IdleTimeout,
		},
		auth: opts.Authenticator,
	}, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down within the configured
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server started", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx := context.Background()
		if d := s.cfg.HTTP.ShutdownTimeout; d > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(shutdownCtx, d)
			defer cancel()
		}
		s.log.Info("HTTP server shutting down")
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the authenticator's background refreshers.
func (s *Server) Close() {
	if s.auth != nil {
		s.auth.Close()
	}
}
