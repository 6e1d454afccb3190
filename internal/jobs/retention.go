package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Purge removes terminal jobs, and their batches, that finished more than
// olderThan ago.
func (s *Service) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: retention must be positive", ErrInvalidInput)
	}

	ids, err := s.jobs.PurgeTerminal(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	for _, id := range ids {
		if err := s.batches.DeleteBatch(ctx, id); err != nil {
			log.Warn().Err(err).Str("job_id", id.String()).Msg("Failed to delete purged job batch")
		}
	}

	if len(ids) > 0 {
		s.metrics.JobsPurgedTotal.Add(ctx, int64(len(ids)))
		log.Info().Int("count", len(ids)).Dur("older_than", olderThan).Msg("Purged terminal jobs")
	}
	return len(ids), nil
}

// RunRetention purges on every RetentionInterval until ctx is done. It
// returns immediately when retention is disabled.
func (s *Service) RunRetention(ctx context.Context) error {
	if s.cfg.Retention <= 0 {
		return nil
	}

	ticker := time.NewTicker(s.cfg.RetentionInterval)
	defer ticker.Stop()

	for {
		if _, err := s.Purge(ctx, s.cfg.Retention); err != nil {
			log.Error().Err(err).Msg("Retention run failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
