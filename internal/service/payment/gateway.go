package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

// MockGateway реализует конфигурируемый платёжный шлюз для локального запуска и тестов.
// По умолчанию списание успешно и получает новый transaction id.
type MockGateway struct {
	mu sync.Mutex

	// Result, если задан, возвращается вместо успешного списания.
	Result *domain.ChargeResult
	// Платёжные токены, по которым шлюз отказывает с CARD_DECLINED.
	DeclineTokens map[string]bool

	requests []domain.ChargeRequest
}

// NewMockGateway создаёт шлюз с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{DeclineTokens: make(map[string]bool)}
}

func (g *MockGateway) Charge(_ context.Context, req domain.ChargeRequest) domain.ChargeResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.requests = append(g.requests, req)
	if g.Result != nil {
		return *g.Result
	}
	if g.DeclineTokens[req.PaymentToken] {
		return domain.ChargeDecline(domain.DeclineCardDeclined, "card declined by issuer")
	}
	return domain.ChargeSuccess("txn-" + uuid.NewString())
}

// Requests возвращает копию принятых запросов.
func (g *MockGateway) Requests() []domain.ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.ChargeRequest(nil), g.requests...)
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
