package cloudwatch

import (
	"context"
	"fmt"
	"time"
)

const (
	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
)

// retry вызывает call до maxRetries раз с удвоением паузы.
// Ошибка, для которой permanent вернул true, возвращается сразу.
func retry(ctx context.Context, call func() error, permanent func(error) bool) error {
	var err error
	wait := initialBackoff

	for attempt := 1; ; attempt++ {
		if err = call(); err == nil {
			return nil
		}
		if permanent != nil && permanent(err) {
			return err
		}
		if attempt == maxRetries {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			wait *= 2
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
