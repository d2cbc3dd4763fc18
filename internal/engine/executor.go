package engine

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/a2a-guard/internal/connectors"
	"github.com/xela07ax/a2a-guard/internal/domain"
	"github.com/xela07ax/a2a-guard/internal/infra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Delegator: то, что оркестратор знает об исполнителе.
type Delegator interface {
	Execute(ctx context.Context, inv domain.ToolInvocation) domain.ToolOutcome
}

// RetryPolicy: единая политика повторов на границе делегирования.
// MaxAttempts: общее число попыток, включая первую.
type RetryPolicy struct {
	MaxAttempts uint
	CallTimeout time.Duration
	Delay       time.Duration
}

func PolicyFromConfig(cfg infra.EngineConfig) RetryPolicy {
	return RetryPolicy{MaxAttempts: cfg.MaxAttempts, CallTimeout: cfg.CallTimeout, Delay: cfg.RetryDelay}
}

/*
Executor вызывает инструмент провайдера. Обертки снаружи внутрь:
Rate Limiter -> Circuit Breaker -> Retry -> таймаут на попытку.

Повторяется только UpstreamUnavailable, с тем же invocation id. Это безопасно, пока
инструменты — чистое чтение. Для инструментов с побочными эффектами нужен учет
дубликатов по invocation id на стороне провайдера.
*/
type Executor struct {
	conn    connectors.Connector
	policy  RetryPolicy
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	metrics *Metrics
	logger  *zap.Logger
}

func NewExecutor(conn connectors.Connector, cfg infra.EngineConfig, metrics *Metrics, logger *zap.Logger) *Executor {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	e := &Executor{
		conn:    conn,
		policy:  PolicyFromConfig(cfg),
		metrics: metrics,
		logger:  logger.Named("executor"),
	}
	if e.policy.MaxAttempts == 0 {
		e.policy.MaxAttempts = 1
	}

	// Настройка предохранителя
	tripAfter := cfg.CBTripAfter
	e.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "provider",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return tripAfter > 0 && counts.ConsecutiveFailures >= tripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("circuit breaker state changed",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
			e.metrics.setBreakerState(name, to)
		},
	})

	// Настройка лимитера. 0 — без ограничения
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	e.limiter = rate.NewLimiter(limit, burst)

	return e
}

// Execute всегда возвращает исход: отказы транспорта, таймауты и открытый предохранитель
// нормализуются здесь и дальше не уходят.
func (e *Executor) Execute(ctx context.Context, inv domain.ToolInvocation) domain.ToolOutcome {
	start := time.Now()
	out := e.execute(ctx, inv)

	result := resultLabel(out)
	e.metrics.DelegationDuration.WithLabelValues(inv.ToolName, result).Observe(time.Since(start).Seconds())
	if !out.OK {
		e.logger.Warn("delegation failed",
			zap.String("tool", inv.ToolName),
			zap.String("invocation_id", inv.ID),
			zap.String("kind", string(out.Kind)),
			zap.String("message", out.Message),
		)
	}
	return out
}

func (e *Executor) execute(ctx context.Context, inv domain.ToolInvocation) domain.ToolOutcome {
	// 1. Rate Limiter
	if err := e.limiter.Wait(ctx); err != nil {
		return domain.Failure(domain.KindUpstreamUnavailable, "rate limit wait aborted: %v", err)
	}

	// 2. Circuit Breaker. Считаем только транзиентные отказы: кривые аргументы
	// не говорят ничего о здоровье провайдера.
	res, err := e.cb.Execute(func() (interface{}, error) {
		out := e.retry(ctx, inv)
		if out.Retryable() {
			return out, out.Err()
		}
		return out, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		e.metrics.DelegationAttempts.WithLabelValues(inv.ToolName, "circuit_open").Inc()
		return domain.Failure(domain.KindUpstreamUnavailable, "provider circuit is open")
	}
	out, ok := res.(domain.ToolOutcome)
	if !ok {
		return domain.Failure(domain.KindUpstreamUnavailable, "no outcome")
	}
	return out
}

// 3. Retry с таймаутом на каждую попытку
func (e *Executor) retry(ctx context.Context, inv domain.ToolInvocation) domain.ToolOutcome {
	var (
		last    domain.ToolOutcome
		attempt uint
	)

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(e.policy.MaxAttempts),
		retry.Delay(e.policy.Delay),
		retry.LastErrorOnly(true),
		// Умный расчет задержки
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			// Источник сам сказал, когда приходить (Retry-After), но не дольше таймаута попытки
			if last.RetryAfter > 0 {
				if e.policy.CallTimeout > 0 && last.RetryAfter > e.policy.CallTimeout {
					return e.policy.CallTimeout
				}
				return last.RetryAfter
			}
			return retry.BackOffDelay(n, err, config)
		}),
	)

	_ = r.Do(func() error {
		attempt++
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if e.policy.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, e.policy.CallTimeout)
		}
		defer cancel()

		last = e.conn.Invoke(callCtx, inv)
		// Просроченная попытка — то же, что отказ апстрима
		if !last.OK && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			last = domain.Failure(domain.KindUpstreamUnavailable, "call timed out after %s", e.policy.CallTimeout)
		}
		e.metrics.DelegationAttempts.WithLabelValues(inv.ToolName, resultLabel(last)).Inc()

		if last.Retryable() {
			e.logger.Debug("attempt failed",
				zap.String("invocation_id", inv.ID),
				zap.Uint("attempt", attempt),
				zap.Uint("max_attempts", e.policy.MaxAttempts),
			)
			return last.Err()
		}
		return nil
	})

	// Отмена до первой попытки: исход пустой, но терминальный отказ обязателен
	if !last.OK && last.Kind == "" {
		return domain.Failure(domain.KindUpstreamUnavailable, "delegation cancelled before the provider was reached")
	}
	return last
}

func resultLabel(o domain.ToolOutcome) string {
	if o.OK {
		return "ok"
	}
	return string(o.Kind)
}
