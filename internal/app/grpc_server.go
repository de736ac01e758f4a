package app

import (
	"context"
	"errors"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/lu-lu-xue/OrderManagement/internal/health"
)

const grpcHealthInterval = 5 * time.Second

// newGRPCServer поднимает служебный gRPC: health для проб и reflection для grpcurl.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	serverMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(serverMetrics); err != nil {
		var already prometheus.AlreadyRegisteredError
		switch {
		case errors.As(err, &already):
			if existing, ok := already.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				serverMetrics = existing
			}
		default:
			logger.WithError(err).Warn("grpc metrics are not registered")
		}
	}

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(serverMetrics.UnaryServerInterceptor()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthServer)
	reflection.Register(srv)
	serverMetrics.InitializeMetrics(srv)
	return srv, healthServer
}

// syncGRPCHealth переносит готовность из критичных проверок в gRPC health,
// пока ctx жив. Первая синхронизация выполняется сразу.
func syncGRPCHealth(ctx context.Context, srv *health.Server, checks *healthcheck.Handler, every time.Duration, logger *log.Entry) {
	last := healthpb.HealthCheckResponse_UNKNOWN
	apply := func() {
		status := healthpb.HealthCheckResponse_SERVING
		failed := checks.NotReady(ctx)
		if len(failed) > 0 {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		if ctx.Err() != nil || status == last {
			return
		}
		srv.SetServingStatus("", status)
		logger.WithField("failed", failed).Infof("grpc health is %s", status)
		last = status
	}

	apply()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			apply()
		}
	}
}

func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("grpc graceful stop timed out, forcing stop")
		srv.Stop()
	}
}
