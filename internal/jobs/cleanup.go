// Package jobs contains background maintenance tasks that run alongside the
// HTTP server.
package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-queue-backend/internal/repo"
)

// Janitor periodically prunes expired data: message-log rows older than the
// retention window and webhook dedupe rows past their TTL. The audit log is
// short-lived on purpose — raw chat text is kept only as long as operators
// need it for same-day support.
type Janitor struct {
	DB        *gorm.DB
	Retention time.Duration // message-log retention window
	Interval  time.Duration // tick period
}

// NewJanitor constructs a Janitor with the given retention and interval.
func NewJanitor(db *gorm.DB, retention, interval time.Duration) *Janitor {
	if retention <= 0 {
		retention = 15 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{DB: db, Retention: retention, Interval: interval}
}

// Run blocks, pruning on every tick until ctx is cancelled. It is intended to
// be launched as a goroutine from main.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	log.Info().
		Dur("retention", j.Retention).
		Dur("interval", j.Interval).
		Msg("janitor started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("janitor stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

// sweep performs one prune pass. Errors are logged and the next tick retries.
func (j *Janitor) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-j.Retention)

	n, err := repo.PruneMessageLog(ctx, j.DB, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("message log prune failed")
	} else if n > 0 {
		log.Info().Int64("rows", n).Time("cutoff", cutoff).Msg("message log pruned")
	}

	n, err = repo.PruneExpiredEvents(ctx, j.DB, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("webhook event prune failed")
	} else if n > 0 {
		log.Debug().Int64("rows", n).Msg("webhook events pruned")
	}
}
