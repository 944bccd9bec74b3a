package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/agrilovers/internal/logger"
)

const maxBackoff = 30 * time.Second

// retry повторяет fn с экспоненциальной паузой, пока не истечёт maxWait или ctx.
func retry(ctx context.Context, maxWait time.Duration, what string, fn func(context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if time.Now().Add(backoff).After(deadline) {
			return fmt.Errorf("%s (gave up after %v): %w", what, maxWait, err)
		}
		logger.Errorf("%s failed, retry in %v: %v", what, backoff, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
