package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthcheck "github.com/lu-lu-xue/OrderManagement/internal/health"
)

func grpcStatus(t *testing.T, srv *health.Server) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestSyncGRPCHealth_FollowsCriticalChecks(t *testing.T) {
	var storageDown atomic.Bool
	checks := healthcheck.NewHandler("test")
	checks.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", func() error {
		if storageDown.Load() {
			return errors.New("connection refused")
		}
		return nil
	}))
	checks.RegisterOptional("outbox", healthcheck.NewSimpleChecker("outbox", func() error {
		return errors.New("backlog")
	}))

	srv := health.NewServer()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		syncGRPCHealth(ctx, srv, checks, 10*time.Millisecond, log.WithField("test", t.Name()))
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return grpcStatus(t, srv) == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond, "optional failures keep serving")

	storageDown.Store(true)
	assert.Eventually(t, func() bool {
		return grpcStatus(t, srv) == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 5*time.Millisecond)

	storageDown.Store(false)
	assert.Eventually(t, func() bool {
		return grpcStatus(t, srv) == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("syncGRPCHealth did not stop")
	}
}

func TestNewGRPCServer_RegistersHealth(t *testing.T) {
	srv, healthServer := newGRPCServer(log.WithField("test", t.Name()))
	t.Cleanup(srv.Stop)

	info := srv.GetServiceInfo()
	assert.Contains(t, info, healthpb.Health_ServiceDesc.ServiceName)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, grpcStatus(t, healthServer))

	// повторная регистрация метрик во втором сервере не падает
	again, _ := newGRPCServer(log.WithField("test", t.Name()))
	again.Stop()
}
