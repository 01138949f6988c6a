package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tsu-platform/notify/log"
)

const (
	defaultSendTimeout     = 30 * time.Second
	defaultBreakerInterval = 60 * time.Second
	defaultBreakerCooldown = 30 * time.Second
	defaultBreakerRequests = 5
	defaultBreakerRatio    = 0.6
)

// breakerGuard wraps provider calls with a timeout, a circuit breaker, and
// panic containment. Breaker state is per channel so one misbehaving
// provider cannot trip the others.
type breakerGuard struct {
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  log.Logger
}

func newBreakerGuard(name string, logger log.Logger) *breakerGuard {
	guard := &breakerGuard{
		timeout: defaultSendTimeout,
		logger:  log.OrNop(logger),
	}

	guard.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: defaultBreakerInterval,
		Timeout:  defaultBreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)

			return counts.Requests >= defaultBreakerRequests && ratio >= defaultBreakerRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			guard.logger.Log(context.Background(), log.LevelWarn, "circuit breaker state changed",
				log.String("breaker", name),
				log.String("from", from.String()),
				log.String("to", to.String()),
			)
		},
	})

	return guard
}

// call runs fn behind the breaker. Provider failures feed the breaker only
// when retryable; permanent errors are the provider working correctly.
func (guard *breakerGuard) call(ctx context.Context, providerName string, fn func(ctx context.Context) SendResult) SendResult {
	outcome, err := guard.breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, guard.timeout)
		defer cancel()

		result := guard.safeCall(callCtx, fn)
		if !result.Success && !result.Permanent {
			return result, fmt.Errorf("send failed: %s", result.ErrorText())
		}

		return result, nil
	})

	if result, ok := outcome.(SendResult); ok {
		return result
	}

	switch err {
	case gobreaker.ErrOpenState, gobreaker.ErrTooManyRequests:
		return Fail(providerName, CodeCircuitOpen, "circuit breaker open")
	default:
		return Fail(providerName, CodeException, err.Error())
	}
}

func (guard *breakerGuard) safeCall(ctx context.Context, fn func(ctx context.Context) SendResult) (result SendResult) {
	defer func() {
		if recovered := recover(); recovered != nil {
			guard.logger.Log(ctx, log.LevelError, "provider call panicked",
				log.Any("panic", recovered),
			)
			result = Fail("", CodeException, fmt.Sprintf("panic: %v", recovered))
		}
	}()

	return fn(ctx)
}
