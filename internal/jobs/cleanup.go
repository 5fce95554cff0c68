package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const cleanupTimeout = 30 * time.Second

// RetentionStore deletes rows created before a cutoff. Only terminal rows are
// expected to be removed.
type RetentionStore interface {
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

type CleanupJob struct {
	webhookEvents RetentionStore
	messages      RetentionStore
	retention     time.Duration
	interval      time.Duration
	now           func() time.Time
}

func NewCleanupJob(
	webhookEvents RetentionStore,
	messages RetentionStore,
	retention time.Duration,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		webhookEvents: webhookEvents,
		messages:      messages,
		retention:     retention,
		interval:      interval,
		now:           time.Now,
	}
}

// Run cleans up once immediately and then on every tick until ctx ends.
func (j *CleanupJob) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", j.interval).
		Dur("retention", j.retention).
		Msg("cleanup job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("cleanup job stopped")
			return nil
		case <-ticker.C:
			j.cleanup(ctx)
		}
	}
}

func (j *CleanupJob) cleanup(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, cleanupTimeout)
	defer cancel()

	cutoff := j.now().Add(-j.retention)
	j.runCleanup(ctx, "webhook events", cutoff, j.webhookEvents)
	j.runCleanup(ctx, "messages", cutoff, j.messages)
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, cutoff time.Time, store RetentionStore) {
	if store == nil {
		return
	}
	count, err := store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Time("cutoff", cutoff).Msgf("cleaned up %s", name)
	}
}
