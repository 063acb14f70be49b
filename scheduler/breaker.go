package scheduler

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/michaelpento.lv/backrunner/config"
	"github.com/michaelpento.lv/backrunner/utils/metrics"
)

// CircuitBreaker stops execution after ErrorThreshold consecutive failures
// and lets it resume once CooldownPeriod has passed.
type CircuitBreaker struct {
	config      config.CircuitBreakerConfig
	mu          sync.Mutex
	errorCount  int
	lastTripped time.Time
	tripped     bool
	now         func() time.Time
	logger      *zap.Logger
	metrics     *metrics.SchedulerMetrics
}

func NewCircuitBreaker(cfg config.CircuitBreakerConfig, logger *zap.Logger, m *metrics.SchedulerMetrics) *CircuitBreaker {
	return &CircuitBreaker{
		config:  cfg,
		now:     time.Now,
		logger:  logger,
		metrics: m,
	}
}

// RecordError counts a failure and reports whether it tripped the breaker.
func (cb *CircuitBreaker) RecordError(err error) bool {
	if !cb.config.Enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.errorCount++
	if cb.tripped || cb.errorCount < cb.config.ErrorThreshold {
		return false
	}

	cb.tripped = true
	cb.lastTripped = cb.now()
	cb.metrics.BreakerOpen.Set(1)
	cb.logger.Warn("Circuit breaker tripped",
		zap.Int("error_count", cb.errorCount),
		zap.Duration("cooldown_period", cb.config.CooldownPeriod),
		zap.Error(err),
	)
	return true
}

// RecordSuccess resets the consecutive failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.errorCount = 0
}

func (cb *CircuitBreaker) IsHealthy() bool {
	if !cb.config.Enabled {
		return true
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.tripped {
		return true
	}
	if cb.now().Sub(cb.lastTripped) < cb.config.CooldownPeriod {
		return false
	}

	cb.tripped = false
	cb.errorCount = 0
	cb.metrics.BreakerOpen.Set(0)
	cb.logger.Info("Circuit breaker reset", zap.Duration("cooldown_period", cb.config.CooldownPeriod))
	return true
}
