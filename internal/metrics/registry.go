// Package metrics содержит prometheus-метрики саги и outbox. Все методы безопасны для
// nil-получателя: компонент без метрик просто ничего не считает.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "oms"

// register регистрирует c; при повторной регистрации возвращает уже существующий
// коллектор того же типа. Любой другой конфликт означает ошибку сборки сервиса и приводит к panic.
func register[C prometheus.Collector](r prometheus.Registerer, c C) C {
	err := r.Register(c)
	if err == nil {
		return c
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(fmt.Sprintf("metrics: %v", err))
}

func orDefault(r prometheus.Registerer) prometheus.Registerer {
	if r == nil {
		return prometheus.DefaultRegisterer
	}
	return r
}
