package sched

import (
	"context"
	"time"

	"defect-inspection/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Purger deletes finished jobs older than the retention window.
type Purger interface {
	Purge(ctx context.Context, retention time.Duration) (int, error)
}

// Locker guards a purge pass so only one instance runs it at a time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

const retentionLockKey = "lock:retention"

// RetentionWorker periodically purges terminal jobs past their retention window.
type RetentionWorker struct {
	interval  time.Duration
	retention time.Duration
	purger    Purger
	locker    Locker
	log       *zerolog.Logger
}

func NewRetentionWorker(interval, retention time.Duration, purger Purger, logger *zerolog.Logger) *RetentionWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	compLog := logger.With().Str("component", "RetentionWorker").Logger()
	return &RetentionWorker{
		interval:  interval,
		retention: retention,
		purger:    purger,
		log:       &compLog,
	}
}

// WithLocker makes each pass take a shared lock first.
func (w *RetentionWorker) WithLocker(l Locker) *RetentionWorker {
	w.locker = l
	return w
}

func (w *RetentionWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("retention", w.retention).Msg("Starting retention worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping retention worker")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single bounded purge pass.
func (w *RetentionWorker) RunOnce(ctx context.Context) int {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if w.locker != nil {
		token, err := w.locker.TryLock(runCtx, retentionLockKey, w.interval)
		if err != nil {
			w.log.Debug().Err(err).Msg("retention pass skipped, lock not acquired")
			return 0
		}
		defer func() {
			if err := w.locker.Unlock(context.WithoutCancel(ctx), retentionLockKey, token); err != nil {
				w.log.Warn().Err(err).Msg("retention unlock failed")
			}
		}()
	}
	n, err := w.purger.Purge(runCtx, w.retention)
	if err != nil {
		metrics.IncStoreError("purge")
		w.log.Error().Err(err).Msg("retention purge failed")
		return 0
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("finished jobs purged")
	}
	return n
}
