package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := prometheus.CounterOpts{Namespace: namespace, Name: "sample_total", Help: "sample"}

	first := register(reg, prometheus.NewCounter(opts))
	second := register(reg, prometheus.NewCounter(opts))
	assert.Same(t, first, second, "duplicate registration reuses the collector")

	assert.Panics(t, func() {
		register(reg, prometheus.NewCounterVec(opts, []string{"kind"}))
	}, "same name with other labels is a wiring bug")

	assert.Equal(t, prometheus.DefaultRegisterer, orDefault(nil))
	assert.Equal(t, prometheus.Registerer(reg), orDefault(reg))
}
