package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/metalagman/taskledger/internal/storage"
)

// RetryPolicy bounds retries of audit-trail writes. Only transient storage
// failures are retried.
type RetryPolicy struct {
	Attempts int
	// Backoff is the delay before the second attempt; it grows linearly.
	Backoff time.Duration
}

// DefaultRetryPolicy is used when no WithRetry option is given.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 50 * time.Millisecond}

func (s *Service) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := max(s.retry.Attempts, 1)
	var err error
	for i := range attempts {
		if i > 0 {
			timer := time.NewTimer(s.retry.Backoff * time.Duration(i))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: %w (last error: %w)", op, ctx.Err(), err)
			case <-timer.C:
			}
		}

		opCtx, cancel := s.opContext(ctx)
		err = fn(opCtx)
		cancel()
		if err == nil || !storage.IsUnavailable(err) {
			return err
		}
		log.Warn().Err(err).Str("op", op).Int("attempt", i+1).Int("attempts", attempts).Msg("storage unavailable")
	}
	return err
}
