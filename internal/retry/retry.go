// Package retry - единая обертка повторов для вызовов шлюза и загрузок медиа:
// фиксированное число попыток, постоянная пауза и таймаут на каждую попытку.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"flowbot/internal/logger"
)

// ErrAttemptTimeout возвращается, если попытка не уложилась в Policy.Timeout.
var ErrAttemptTimeout = errors.New("превышено время ожидания попытки")

// Policy описывает повторы.
//
// Attempts <= 0 трактуется как 1 (без повторов). Timeout <= 0 отключает таймаут попытки.
type Policy struct {
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

// Permanent помечает ошибку как неповторяемую.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do выполняет op с повторами согласно политике.
func Do(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue - то же, что Do, но возвращает результат последней успешной попытки.
func DoValue[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		attemptCtx := ctx
		cancel := func() {}
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		defer cancel()

		res, err := op(attemptCtx)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			// Родительский контекст отменен - повторять бессмысленно.
			return res, backoff.Permanent(err)
		}
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w (%s): %v", ErrAttemptTimeout, p.Timeout, err)
		}
		return res, err
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Backoff)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("retry: попытка не удалась, повтор",
				zap.String("op", name),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", attempts),
				zap.Duration("next_in", next),
				zap.Error(err))
		}),
	)
	if err != nil {
		return res, fmt.Errorf("%s: исчерпаны попытки (%d/%d): %w", name, attempt, attempts, err)
	}
	return res, nil
}
