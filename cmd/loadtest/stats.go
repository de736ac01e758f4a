package main

import (
	"slices"
	"sync"
	"time"
)

const scenarioCall = "scenario"

// latency — распределение задержек в миллисекундах.
type latency struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type callSummary struct {
	Calls     int64            `json:"calls"`
	OK        int64            `json:"ok"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latency          `json:"latency_ms"`
}

type report struct {
	StartedAt time.Time              `json:"started_at"`
	Seconds   float64                `json:"duration_seconds"`
	RPS       float64                `json:"rps"`
	Scenarios callSummary            `json:"scenarios"`
	Calls     map[string]callSummary `json:"calls"`
}

// series — сырые наблюдения одного вида вызова.
type series struct {
	ok, failed int64
	codes      map[string]int64
	samples    []float64
}

func (s *series) summary() callSummary {
	codes := make(map[string]int64, len(s.codes))
	for code, n := range s.codes {
		codes[code] = n
	}
	calls := s.ok + s.failed
	return callSummary{
		Calls:     calls,
		OK:        s.ok,
		Failed:    s.failed,
		ErrorRate: share(s.failed, calls),
		Codes:     codes,
		LatencyMs: summarize(s.samples),
	}
}

// recorder потокобезопасно копит наблюдения по имени вызова.
// code содержит HTTP статус или вид ошибки транспорта.
type recorder struct {
	mu     sync.Mutex
	byCall map[string]*series
}

func newRecorder() *recorder {
	return &recorder{byCall: make(map[string]*series)}
}

func (r *recorder) observe(call string, took time.Duration, code string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.byCall[call]
	if s == nil {
		s = &series{codes: make(map[string]int64)}
		r.byCall[call] = s
	}
	if ok {
		s.ok++
	} else {
		s.failed++
	}
	s.codes[code]++
	s.samples = append(s.samples, float64(took.Microseconds())/1000)
}

func (r *recorder) snapshot(startedAt time.Time, elapsed time.Duration) report {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := report{
		StartedAt: startedAt.UTC(),
		Seconds:   elapsed.Seconds(),
		Calls:     make(map[string]callSummary, len(r.byCall)),
	}
	for call, s := range r.byCall {
		if call == scenarioCall {
			out.Scenarios = s.summary()
			continue
		}
		out.Calls[call] = s.summary()
	}
	if elapsed > 0 {
		out.RPS = float64(out.Scenarios.Calls) / elapsed.Seconds()
	}
	return out
}

func summarize(samples []float64) latency {
	if len(samples) == 0 {
		return latency{}
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	total := 0.0
	for _, v := range sorted {
		total += v
	}
	return latency{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: total / float64(len(sorted)),
		P50: quantile(sorted, 0.50),
		P95: quantile(sorted, 0.95),
		P99: quantile(sorted, 0.99),
	}
}

// quantile интерполирует между соседними рангами отсортированной выборки.
func quantile(sorted []float64, q float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	i := int(pos)
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[i] + (pos-float64(i))*(sorted[i+1]-sorted[i])
}

func share(part, whole int64) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole)
}
