package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthy() Checker {
	return NewSimpleChecker("ok", func() error { return nil })
}

func failing(msg string) Checker {
	return NewSimpleChecker("failing", func() error { return errors.New(msg) })
}

func serveHealth(t *testing.T, handler *Handler) (int, Response) {
	t.Helper()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return w.Code, response
}

func TestHandler_AggregatesStatus(t *testing.T) {
	tests := []struct {
		name       string
		critical   map[string]Checker
		optional   map[string]Checker
		wantCode   int
		wantStatus Status
	}{
		{name: "no checkers", wantCode: http.StatusOK, wantStatus: StatusHealthy},
		{
			name:       "all healthy",
			critical:   map[string]Checker{"postgres": healthy()},
			optional:   map[string]Checker{"outbox": healthy()},
			wantCode:   http.StatusOK,
			wantStatus: StatusHealthy,
		},
		{
			name:       "optional failure degrades",
			critical:   map[string]Checker{"postgres": healthy()},
			optional:   map[string]Checker{"outbox": failing("backlog is stuck")},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
		},
		{
			name:       "critical failure wins",
			critical:   map[string]Checker{"postgres": failing("connection refused")},
			optional:   map[string]Checker{"outbox": failing("backlog is stuck")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusUnhealthy,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewHandler("v1.0.0")
			for name, c := range tc.critical {
				handler.RegisterChecker(name, c)
			}
			for name, c := range tc.optional {
				handler.RegisterOptional(name, c)
			}

			code, response := serveHealth(t, handler)
			assert.Equal(t, tc.wantCode, code)
			assert.Equal(t, tc.wantStatus, response.Status)
			assert.Equal(t, "v1.0.0", response.Version)
		})
	}
}

func TestHandler_ChecksKeyedByRegisteredName(t *testing.T) {
	handler := NewHandler("dev")
	handler.RegisterChecker("postgres", healthy())
	handler.RegisterOptional("outbox", failing("backlog is stuck"))

	_, response := serveHealth(t, handler)

	assert.Equal(t, Check{Name: "postgres", Status: StatusHealthy, Critical: true}, withoutDuration(response.Checks["postgres"]))
	assert.Equal(t, Check{Name: "outbox", Status: StatusDegraded, Message: "backlog is stuck"}, withoutDuration(response.Checks["outbox"]))
}

func withoutDuration(c Check) Check {
	c.DurationMs = 0
	return c
}

func TestHandler_RunsChecksConcurrently(t *testing.T) {
	var running, peak atomic.Int32
	slow := NewSimpleChecker("slow", func() error {
		n := running.Add(1)
		defer running.Add(-1)
		for p := peak.Load(); n > p && !peak.CompareAndSwap(p, n); p = peak.Load() {
		}
		time.Sleep(30 * time.Millisecond)
		return nil
	})

	handler := NewHandler("dev")
	for _, name := range []string{"a", "b", "c"} {
		handler.RegisterChecker(name, slow)
	}
	serveHealth(t, handler)

	assert.GreaterOrEqual(t, peak.Load(), int32(2), "checks must overlap")
}

func TestHandler_PassesRequestContext(t *testing.T) {
	handler := NewHandler("dev")
	handler.RegisterChecker("db", NewPingChecker("db", time.Minute, func(ctx context.Context) error {
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, []string{"db"}, handler.NotReady(ctx), "cancelled request reports not ready")
	assert.Empty(t, handler.NotReady(context.Background()))
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(h *Handler)
		wantCode int
		wantBody string
	}{
		{
			name:     "ready",
			setup:    func(h *Handler) { h.RegisterChecker("postgres", healthy()) },
			wantCode: http.StatusOK,
			wantBody: "ready",
		},
		{
			name: "optional failure keeps ready",
			setup: func(h *Handler) {
				h.RegisterChecker("postgres", healthy())
				h.RegisterOptional("outbox", failing("stuck"))
			},
			wantCode: http.StatusOK,
			wantBody: "ready",
		},
		{
			name: "critical failures are listed",
			setup: func(h *Handler) {
				h.RegisterChecker("postgres", failing("down"))
				h.RegisterChecker("kafka", failing("down"))
			},
			wantCode: http.StatusServiceUnavailable,
			wantBody: "not ready: kafka, postgres",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewHandler("dev")
			tc.setup(handler)

			w := httptest.NewRecorder()
			handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tc.wantCode, w.Code)
			assert.Equal(t, tc.wantBody, w.Body.String())
		})
	}
}
