package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Shugur-Network/lens/internal/constants"
	"github.com/Shugur-Network/lens/internal/health"
	"github.com/Shugur-Network/lens/internal/logger"
)

// Server exposes the status API, the health probe and the Prometheus
// scrape endpoint on a single plain-HTTP listener.
type Server struct {
	log     *zap.Logger
	httpSrv *http.Server
}

// NewServer wires the status routes. The server does not listen until
// Start is called.
func NewServer(addr string, handler *Handler, checker *health.Checker) *Server {
	log := logger.New("web")

	metricsHandler := SecurityMiddleware(DefaultSecurityHeaders())(promhttp.Handler())
	snapshotAPI := SecureValidatedAPIHandlerFunc(handler.HandleSnapshotAPI)
	relaysAPI := SecureValidatedAPIHandlerFunc(handler.HandleRelaysAPI)
	statsAPI := SecureValidatedAPIHandlerFunc(handler.HandleStatsAPI)

	route := func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz":
			// Probes skip input validation so orchestrators always get an answer
			checker.HandleHealth(w, r)
		case "/metrics":
			metricsHandler.ServeHTTP(w, r)
		case "/api/v1/snapshot":
			snapshotAPI(w, r)
		case "/api/v1/relays":
			relaysAPI(w, r)
		case "/api/v1/stats":
			statsAPI(w, r)
		default:
			// Log invalid requests for security monitoring
			log.Warn("Invalid request path",
				zap.String("path", r.URL.Path),
				zap.String("client_ip", r.RemoteAddr),
				zap.String("user_agent", r.Header.Get("User-Agent")))
			http.NotFound(w, r)
		}
	}

	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      http.HandlerFunc(route),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		log:     log,
		httpSrv: httpSrv,
	}
}

// Start serves until the listener fails or the context is canceled. A
// canceled context drains in-flight requests and returns nil.
func (s *Server) Start(ctx context.Context) error {
	// Graceful shutdown when context is canceled
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()

	s.log.Info("Status server listening", zap.String("address", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
