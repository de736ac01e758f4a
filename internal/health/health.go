// Package health собирает проверки зависимостей в ответы для /healthz и /readyz.
package health

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check — результат проверки одного компонента.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	Critical   bool   `json:"critical"`
	DurationMs int64  `json:"duration_ms"`
}

// Response — тело /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет один компонент в пределах ctx запроса.
type Checker interface {
	Check(ctx context.Context) Check
}

type registration struct {
	checker  Checker
	critical bool
}

// Handler агрегирует проверки. Критичные решают готовность, optional только
// понижают статус до degraded.
type Handler struct {
	mu      sync.RWMutex
	checks  map[string]registration
	version string
	started time.Time
}

func NewHandler(version string) *Handler {
	return &Handler{
		checks:  make(map[string]registration),
		version: version,
		started: time.Now(),
	}
}

func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.register(name, registration{checker: checker, critical: true})
}

func (h *Handler) RegisterOptional(name string, checker Checker) {
	h.register(name, registration{checker: checker})
}

func (h *Handler) register(name string, reg registration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = reg
}

// Run выполняет все проверки параллельно; результаты лежат по имени регистрации.
func (h *Handler) Run(ctx context.Context) map[string]Check {
	h.mu.RLock()
	regs := maps.Clone(h.checks)
	h.mu.RUnlock()

	var (
		mu      sync.Mutex
		g       errgroup.Group
		results = make(map[string]Check, len(regs))
	)
	for name, reg := range regs {
		g.Go(func() error {
			check := reg.checker.Check(ctx)
			check.Name, check.Critical = name, reg.critical
			if !reg.critical && check.Status == StatusUnhealthy {
				check.Status = StatusDegraded
			}
			mu.Lock()
			results[name] = check
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Report собирает снимок состояния для /healthz.
func (h *Handler) Report(ctx context.Context) Response {
	checks := h.Run(ctx)
	return Response{
		Status:        overall(checks),
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
}

// NotReady возвращает отсортированные имена упавших критичных проверок.
func (h *Handler) NotReady(ctx context.Context) []string {
	var failed []string
	for name, check := range h.Run(ctx) {
		if check.Status == StatusUnhealthy {
			failed = append(failed, name)
		}
	}
	slices.Sort(failed)
	return failed
}

func overall(checks map[string]Check) Status {
	status := StatusHealthy
	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.Report(r.Context())

	code := http.StatusOK
	if response.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(response)
}

// ReadinessHandler отвечает 503 со списком упавших критичных проверок.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if failed := h.NotReady(r.Context()); len(failed) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready: " + strings.Join(failed, ", ")))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// LivenessHandler отвечает 200, пока процесс жив.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
