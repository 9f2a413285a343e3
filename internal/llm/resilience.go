package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/longregen/promptopt/internal/adapters/circuitbreaker"
	"github.com/longregen/promptopt/internal/adapters/metrics"
	"github.com/longregen/promptopt/internal/adapters/retry"
	"github.com/longregen/promptopt/internal/config"
	"github.com/longregen/promptopt/internal/domain"
	"github.com/longregen/promptopt/internal/logger"
)

var errNoChoices = errors.New("completion returned no choices")

// Resilience guards calls to one endpoint with a rate limiter, a circuit
// breaker and retry with exponential backoff, in that order per attempt.
type Resilience struct {
	endpoint string
	limiter  *rate.Limiter
	breaker  *circuitbreaker.CircuitBreaker
	backoff  retry.Policy
	log      *logger.Logger
}

// NewResilience builds the guard for endpoint from the resilience settings.
func NewResilience(endpoint string, cfg config.ResilienceConfig, log *logger.Logger) *Resilience {
	if log == nil {
		log = logger.Nop()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures < 1 {
		maxFailures = 5
	}
	timeout := cfg.BreakerTimeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := &Resilience{
		endpoint: endpoint,
		limiter:  limiter,
		backoff:  retry.OraclePolicy(cfg.MaxRetries, cfg.InitialInterval(), cfg.MaxInterval()),
		log:      log.Component("resilience"),
	}
	r.breaker = circuitbreaker.New(maxFailures, timeout,
		circuitbreaker.WithFailureFilter(countsAgainstEndpoint),
		circuitbreaker.WithStateChange(r.onStateChange),
	)
	metrics.CircuitBreakerState.WithLabelValues(endpoint).Set(float64(circuitbreaker.StateClosed))
	return r
}

// Malformed payloads and caller cancellation say nothing about endpoint health.
func countsAgainstEndpoint(err error) bool {
	return !errors.Is(err, domain.ErrSchemaMismatch) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func (r *Resilience) onStateChange(from, to circuitbreaker.State) {
	metrics.CircuitBreakerState.WithLabelValues(r.endpoint).Set(float64(to))
	r.log.Warn().
		Str("endpoint", r.endpoint).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("circuit breaker state changed")
}

// Do runs fn under the guard. Any failure is returned wrapping
// domain.ErrOracleFailure together with the underlying cause.
func (r *Resilience) Do(ctx context.Context, operation, model string, fn func(ctx context.Context) error) error {
	start := time.Now()
	attempts := 0

	policy := r.backoff
	policy.OnRetry = func(err error, delay time.Duration) {
		metrics.OracleRetriesTotal.WithLabelValues(operation).Inc()
		r.log.Warn().
			Str("operation", operation).
			Int("attempt", attempts).
			Dur("delay", delay).
			Err(err).
			Msg("retrying oracle call")
	}

	err := retry.Do(ctx, policy, func() error {
		attempts++
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		return r.breaker.Execute(func() error {
			return fn(ctx)
		})
	})

	duration := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
		err = fmt.Errorf("%w: %s: %w", domain.ErrOracleFailure, operation, err)
	}
	metrics.OracleRequestsTotal.WithLabelValues(operation, status).Inc()
	metrics.OracleRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
	r.log.LogOracleCall(operation, model, duration, attempts, err)
	return err
}

// BreakerState exposes the breaker for health reporting.
func (r *Resilience) BreakerState() circuitbreaker.State {
	return r.breaker.State()
}

// Check reports an open breaker as unhealthy. It suits the HTTP health
// endpoint's check signature.
func (r *Resilience) Check(context.Context) error {
	if state := r.breaker.State(); state == circuitbreaker.StateOpen {
		return fmt.Errorf("circuit breaker for %s is %s", r.endpoint, state)
	}
	return nil
}
