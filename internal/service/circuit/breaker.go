package circuit

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrOpen возвращается, пока breaker разомкнут.
var ErrOpen = errors.New("circuit breaker is open")

// State — состояние circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "half-open"
	}
}

// Breaker защищает вызовы соседних сервисов.
// После maxFailures ошибок подряд вызовы отклоняются до истечения resetTimeout,
// затем пропускается пробный вызов.
type Breaker struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration

	failures    int
	lastFailure time.Time
	state       State
	logger      *log.Entry
	now         func() time.Time
}

// NewBreaker создаёт новый circuit breaker.
func NewBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *Breaker {
	if logger == nil {
		logger = log.New().WithField("component", "circuit-breaker")
	}
	if maxFailures <= 0 {
		maxFailures = 1
	}

	return &Breaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		logger:       logger,
		now:          time.Now,
	}
}

// State возвращает текущее состояние.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute выполняет операцию через circuit breaker. Ошибки, для которых isFailure
// возвращает false (например, бизнес-отказ), не размыкают цепь.
func (b *Breaker) Execute(operation string, fn func() error, isFailure ...func(error) bool) error {
	if err := b.before(operation); err != nil {
		return err
	}

	err := fn()
	failed := err != nil
	if failed && len(isFailure) > 0 && isFailure[0] != nil {
		failed = isFailure[0](err)
	}
	b.after(operation, failed)
	return err
}

func (b *Breaker) before(operation string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}
	if b.now().Sub(b.lastFailure) > b.resetTimeout {
		b.state = StateHalfOpen
		b.logger.WithField("operation", operation).Info("circuit breaker half-open")
		return nil
	}
	return ErrOpen
}

func (b *Breaker) after(operation string, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if failed {
		b.failures++
		b.lastFailure = b.now()

		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			if b.state != StateOpen {
				b.logger.WithFields(log.Fields{
					"operation": operation,
					"failures":  b.failures,
				}).Warn("circuit breaker opened")
			}
			b.state = StateOpen
		}
		return
	}

	// Успешное выполнение - сбрасываем счётчик
	if b.state == StateHalfOpen {
		b.logger.WithField("operation", operation).Info("circuit breaker closed")
	}
	b.state = StateClosed
	b.failures = 0
}
