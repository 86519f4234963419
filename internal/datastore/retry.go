package datastore

import (
	"context"
	"time"

	"github.com/gaia-review/gaia/internal/logger"
)

const retryBaseDelay = 20 * time.Millisecond

// withBusyRetry runs fn again while it fails with a busy or deadlock error,
// at most busyRetries extra times with linear backoff.
func (b *base) withBusyRetry(ctx context.Context, operation string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) || attempt >= b.busyRetries {
			return err
		}

		if b.metrics != nil {
			b.metrics.RecordTransactionRetry(operation, "busy")
		}
		b.log.Debug("database busy, retrying",
			logger.String("operation", operation),
			logger.Int("attempt", attempt+1))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * retryBaseDelay):
		}
	}
}
