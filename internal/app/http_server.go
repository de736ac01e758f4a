package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/lu-lu-xue/OrderManagement/internal/health"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = time.Minute
)

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
}

// opsRouter отдаёт служебные маршруты: prometheus и пробы оркестратора.
func opsRouter(health *healthcheck.Handler) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Method(http.MethodGet, "/healthz", health)
	r.Get("/readyz", health.ReadinessHandler)
	r.Get("/livez", healthcheck.LivenessHandler)
	return r
}

// startMetricsServer слушает addr в фоне и останавливается вместе с ctx.
// Ошибка bind только логируется: без метрик сага продолжает работать.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, health *healthcheck.Handler) *http.Server {
	srv := newHTTPServer(addr, opsRouter(health))
	logger = logger.WithField("addr", addr)

	go func() {
		logger.Info("metrics and health endpoints listening: /metrics /healthz /readyz /livez")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()
	return srv
}

func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).WithField("addr", srv.Addr).Warn("http shutdown with error")
	}
}
