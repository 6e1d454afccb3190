package scoring

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/wolfeidau/riskrunner/internal/models"
	"gopkg.in/yaml.v3"
)

// Coefficients is one logistic regression: intercept plus a weight per ratio.
type Coefficients struct {
	Intercept float64            `yaml:"intercept"`
	Weights   map[string]float64 `yaml:"weights"`
}

// LogisticModel scores ratios with a per-type logistic regression. It is the
// in-process reference model used when no external scorer is configured.
type LogisticModel struct {
	Annual    Coefficients `yaml:"annual"`
	Quarterly Coefficients `yaml:"quarterly"`
}

// DefaultModel returns the built-in coefficients.
func DefaultModel() *LogisticModel {
	return &LogisticModel{
		Annual: Coefficients{
			Intercept: -2.2,
			Weights: map[string]float64{
				models.RatioLongTermDebtToTotalCapital: 2.4,
				models.RatioTotalDebtToEBITDA:          0.35,
				models.RatioNetIncomeMargin:            -4.0,
				models.RatioEBITToInterestExpense:      -0.12,
				models.RatioReturnOnAssets:             -6.5,
			},
		},
		Quarterly: Coefficients{
			Intercept: -2.0,
			Weights: map[string]float64{
				models.RatioTotalDebtToEBITDA:          0.4,
				models.RatioSGAMargin:                  1.1,
				models.RatioLongTermDebtToTotalCapital: 2.1,
				models.RatioReturnOnCapital:            -5.0,
			},
		},
	}
}

// LoadModel reads a YAML coefficient file.
func LoadModel(path string) (*LogisticModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}

	var m LogisticModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse model file: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks every required ratio has a weight.
func (m *LogisticModel) Validate() error {
	for _, t := range []models.PredictionType{models.PredictionAnnual, models.PredictionQuarterly} {
		c := m.coefficients(t)
		for _, f := range models.RequiredRatios(t) {
			if _, ok := c.Weights[f]; !ok {
				return fmt.Errorf("%s model missing weight for %s", t, f)
			}
		}
	}
	return nil
}

func (m *LogisticModel) coefficients(t models.PredictionType) Coefficients {
	if t == models.PredictionQuarterly {
		return m.Quarterly
	}
	return m.Annual
}

func (m *LogisticModel) Score(ctx context.Context, ratios models.Ratios) (Score, error) {
	if err := ctx.Err(); err != nil {
		return Score{}, err
	}

	var c Coefficients
	switch r := ratios.(type) {
	case models.AnnualRatios, models.QuarterlyRatios:
		c = m.coefficients(r.PredictionType())
	default:
		return Score{}, fmt.Errorf("%w: unsupported ratios %T", ErrScoringUnavailable, ratios)
	}

	z := c.Intercept
	for name, v := range ratios.Values() {
		z += c.Weights[name] * v
	}
	p := 1 / (1 + math.Exp(-z))
	if math.IsNaN(p) {
		return Score{}, fmt.Errorf("%w: model produced NaN", ErrScoringUnavailable)
	}
	return Score{Probability: p, RiskTier: TierFor(p)}, nil
}
