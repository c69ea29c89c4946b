package execution

import (
	"context"
	"time"
)

// retryDelay возвращает паузу перед попыткой attempt (нумерация с 1).
// Экспоненциальный рост: base, 2*base, 4*base и так далее.
func retryDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// sleepFn абстракция sleep для подмены в тестах
type sleepFn func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
