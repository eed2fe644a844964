package retry

import (
	"context"
	"errors"
	"fmt"

	errs "mediafetch/pkg/errors"
	"mediafetch/pkg/logger"
)

// DefaultRetryIf retries recoverable faults and unclassified errors, but
// never context cancellation
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errs.IsRecoverable(err)
}

// Do calls op until it succeeds, fails with an error DefaultRetryIf rejects,
// or has been called attempts times (0 means unlimited). The delay before
// each new call comes from backoff.
func Do(ctx context.Context, attempts int, backoff BackoffStrategy, log logger.Logger, op func() error) error {
	log = logger.OrDefault(log)
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !DefaultRetryIf(err) {
			return err
		}
		if attempts > 0 && attempt >= attempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempt, err)
		}

		delay := backoff.NextDelay(attempt)
		log.WithError(err).WarnWithFields("retrying operation", map[string]interface{}{
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
		})
		if err := Wait(ctx, delay); err != nil {
			return err
		}
	}
}
