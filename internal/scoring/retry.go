package scoring

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/riskrunner/internal/models"
)

// RetryConfig controls how often an unavailable scorer is retried for one row.
type RetryConfig struct {
	MaxTries        uint          `help:"Scoring attempts per row." default:"3" env:"SCORING_MAX_TRIES"`
	InitialInterval time.Duration `help:"First retry delay." default:"100ms" env:"SCORING_RETRY_INTERVAL"`
	MaxInterval     time.Duration `help:"Largest retry delay." default:"2s" env:"SCORING_RETRY_MAX_INTERVAL"`
}

// ApplyDefaults fills zero fields.
func (c *RetryConfig) ApplyDefaults() {
	if c.MaxTries == 0 {
		c.MaxTries = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 100 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 2 * time.Second
	}
}

// Retrying retries ErrScoringUnavailable with exponential backoff. Any other
// error is returned immediately.
type Retrying struct {
	next Scorer
	cfg  RetryConfig
}

func NewRetrying(next Scorer, cfg RetryConfig) *Retrying {
	cfg.ApplyDefaults()
	return &Retrying{next: next, cfg: cfg}
}

func (r *Retrying) Score(ctx context.Context, ratios models.Ratios) (Score, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval

	attempt := 0
	return backoff.Retry(ctx, func() (Score, error) {
		attempt++
		s, err := r.next.Score(ctx, ratios)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrScoringUnavailable) {
			return Score{}, backoff.Permanent(err)
		}
		log.Debug().Err(err).Int("attempt", attempt).Msg("Scoring unavailable, retrying")
		return Score{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.cfg.MaxTries))
}
