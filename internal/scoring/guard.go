package scoring

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wolfeidau/riskrunner/internal/models"
)

// Guard turns a run of consecutive ErrScoringUnavailable failures into
// ErrScorerUnreachable. A threshold of zero disables it.
type Guard struct {
	next      Scorer
	threshold int

	mu                  sync.Mutex
	consecutiveFailures int
}

func NewGuard(next Scorer, threshold int) *Guard {
	return &Guard{next: next, threshold: threshold}
}

func (g *Guard) Score(ctx context.Context, ratios models.Ratios) (Score, error) {
	s, err := g.next.Score(ctx, ratios)

	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case err == nil:
		g.consecutiveFailures = 0
		return s, nil
	case errors.Is(err, ErrScoringUnavailable):
		g.consecutiveFailures++
		if g.threshold > 0 && g.consecutiveFailures >= g.threshold {
			return Score{}, fmt.Errorf("%w: %d consecutive failures: %w", ErrScorerUnreachable, g.consecutiveFailures, err)
		}
	}
	return Score{}, err
}

// Failures reports the current run of consecutive unavailable results.
func (g *Guard) Failures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.consecutiveFailures
}
