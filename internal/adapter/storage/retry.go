package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SadaleNet/esun-sate/internal/core/domain"
)

// withRetry runs fn until it succeeds, fails permanently, or the attempts
// run out. Every failure other than domain.ErrNotFound is reported as
// domain.ErrStorageUnavailable; fn never leaves partial writes behind
// because each attempt is its own transaction.
func (a *SQLAdapter) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < a.retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(a.backoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, ctx.Err())
			case <-timer.C:
			}
		}

		err = fn()
		if err == nil || errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if !a.dialect.isTransient(err) {
			break
		}
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}
