// Package scoring is the boundary to the risk model that turns a ratio set
// into a default probability and a risk tier.
package scoring

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfeidau/riskrunner/internal/models"
)

var (
	// ErrScoringUnavailable is a row-level failure: the model could not score
	// this input right now. The row is rejected and the batch continues.
	ErrScoringUnavailable = errors.New("scoring unavailable")

	// ErrScorerUnreachable is fatal to the job.
	ErrScorerUnreachable = errors.New("scorer unreachable")
)

// Score is the model output for one ratio set.
type Score struct {
	Probability float64         `json:"probability"`
	RiskTier    models.RiskTier `json:"risk_tier"`
}

// Scorer evaluates ratios. Implementations must be safe for concurrent use.
type Scorer interface {
	Score(ctx context.Context, ratios models.Ratios) (Score, error)
}

// Func adapts a plain function to the Scorer interface.
type Func func(ctx context.Context, ratios models.Ratios) (Score, error)

func (f Func) Score(ctx context.Context, ratios models.Ratios) (Score, error) {
	return f(ctx, ratios)
}

// TierFor maps a probability onto the risk tier bands.
func TierFor(p float64) models.RiskTier {
	switch {
	case p < 0.25:
		return models.RiskLow
	case p < 0.5:
		return models.RiskModerate
	case p < 0.75:
		return models.RiskHigh
	}
	return models.RiskCritical
}

// Check validates a score returned by an external model.
func Check(s Score) error {
	if s.Probability < 0 || s.Probability > 1 {
		return fmt.Errorf("%w: probability %v outside [0,1]", ErrScoringUnavailable, s.Probability)
	}
	switch s.RiskTier {
	case models.RiskLow, models.RiskModerate, models.RiskHigh, models.RiskCritical:
		return nil
	}
	return fmt.Errorf("%w: unknown risk tier %q", ErrScoringUnavailable, s.RiskTier)
}
