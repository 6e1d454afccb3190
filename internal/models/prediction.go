package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PredictionType selects the annual or quarterly model and its input ratios.
type PredictionType string

const (
	PredictionAnnual    PredictionType = "annual"
	PredictionQuarterly PredictionType = "quarterly"
)

// ParsePredictionType converts a wire value into a PredictionType.
func ParsePredictionType(s string) (PredictionType, error) {
	switch PredictionType(strings.ToLower(strings.TrimSpace(s))) {
	case PredictionAnnual:
		return PredictionAnnual, nil
	case PredictionQuarterly:
		return PredictionQuarterly, nil
	}
	return "", fmt.Errorf("unknown prediction type %q", s)
}

// AccessLevel is the visibility tier of a prediction record.
type AccessLevel string

const (
	AccessSystem       AccessLevel = "system"
	AccessOrganization AccessLevel = "organization"
	AccessPersonal     AccessLevel = "personal"
)

// RiskTier is the categorical output of the scoring model.
type RiskTier string

const (
	RiskLow      RiskTier = "low"
	RiskModerate RiskTier = "moderate"
	RiskHigh     RiskTier = "high"
	RiskCritical RiskTier = "critical"
)

// Ratio column names as they appear in uploaded spreadsheets.
const (
	RatioLongTermDebtToTotalCapital = "long_term_debt_to_total_capital"
	RatioTotalDebtToEBITDA          = "total_debt_to_ebitda"
	RatioNetIncomeMargin            = "net_income_margin"
	RatioEBITToInterestExpense      = "ebit_to_interest_expense"
	RatioReturnOnAssets             = "return_on_assets"
	RatioSGAMargin                  = "sga_margin"
	RatioReturnOnCapital            = "return_on_capital"
)

var (
	annualRatioFields = []string{
		RatioLongTermDebtToTotalCapital,
		RatioTotalDebtToEBITDA,
		RatioNetIncomeMargin,
		RatioEBITToInterestExpense,
		RatioReturnOnAssets,
	}
	quarterlyRatioFields = []string{
		RatioTotalDebtToEBITDA,
		RatioSGAMargin,
		RatioLongTermDebtToTotalCapital,
		RatioReturnOnCapital,
	}
)

// RequiredRatios lists the ratio fields a prediction type needs, in reporting order.
func RequiredRatios(t PredictionType) []string {
	switch t {
	case PredictionAnnual:
		return annualRatioFields
	case PredictionQuarterly:
		return quarterlyRatioFields
	}
	return nil
}

// Ratios is the sealed set of model inputs. The only implementations are
// AnnualRatios and QuarterlyRatios; callers switch on the concrete type.
type Ratios interface {
	PredictionType() PredictionType
	Values() map[string]float64
	sealed()
}

type AnnualRatios struct {
	LongTermDebtToTotalCapital float64
	TotalDebtToEBITDA          float64
	NetIncomeMargin            float64
	EBITToInterestExpense      float64
	ReturnOnAssets             float64
}

func (AnnualRatios) PredictionType() PredictionType { return PredictionAnnual }
func (AnnualRatios) sealed()                        {}

func (r AnnualRatios) Values() map[string]float64 {
	return map[string]float64{
		RatioLongTermDebtToTotalCapital: r.LongTermDebtToTotalCapital,
		RatioTotalDebtToEBITDA:          r.TotalDebtToEBITDA,
		RatioNetIncomeMargin:            r.NetIncomeMargin,
		RatioEBITToInterestExpense:      r.EBITToInterestExpense,
		RatioReturnOnAssets:             r.ReturnOnAssets,
	}
}

type QuarterlyRatios struct {
	TotalDebtToEBITDA          float64
	SGAMargin                  float64
	LongTermDebtToTotalCapital float64
	ReturnOnCapital            float64
}

func (QuarterlyRatios) PredictionType() PredictionType { return PredictionQuarterly }
func (QuarterlyRatios) sealed()                        {}

func (r QuarterlyRatios) Values() map[string]float64 {
	return map[string]float64{
		RatioTotalDebtToEBITDA:          r.TotalDebtToEBITDA,
		RatioSGAMargin:                  r.SGAMargin,
		RatioLongTermDebtToTotalCapital: r.LongTermDebtToTotalCapital,
		RatioReturnOnCapital:            r.ReturnOnCapital,
	}
}

// RatiosFromValues rebuilds the typed ratio set from a persisted field map.
func RatiosFromValues(t PredictionType, v map[string]float64) (Ratios, error) {
	for _, f := range RequiredRatios(t) {
		if _, ok := v[f]; !ok {
			return nil, fmt.Errorf("missing ratio %s", f)
		}
	}
	switch t {
	case PredictionAnnual:
		return AnnualRatios{
			LongTermDebtToTotalCapital: v[RatioLongTermDebtToTotalCapital],
			TotalDebtToEBITDA:          v[RatioTotalDebtToEBITDA],
			NetIncomeMargin:            v[RatioNetIncomeMargin],
			EBITToInterestExpense:      v[RatioEBITToInterestExpense],
			ReturnOnAssets:             v[RatioReturnOnAssets],
		}, nil
	case PredictionQuarterly:
		return QuarterlyRatios{
			TotalDebtToEBITDA:          v[RatioTotalDebtToEBITDA],
			SGAMargin:                  v[RatioSGAMargin],
			LongTermDebtToTotalCapital: v[RatioLongTermDebtToTotalCapital],
			ReturnOnCapital:            v[RatioReturnOnCapital],
		}, nil
	}
	return nil, fmt.Errorf("unknown prediction type %q", t)
}

var ErrInvalidPrediction = errors.New("invalid prediction")

// Prediction is one scored company period.
type Prediction struct {
	ID             uuid.UUID      `json:"id"`
	CompanyID      uuid.UUID      `json:"company_id"`
	Type           PredictionType `json:"type"`
	AccessLevel    AccessLevel    `json:"access_level"`
	OrganizationID *uuid.UUID     `json:"organization_id,omitempty"`
	CreatedBy      uuid.UUID      `json:"created_by"`
	Ratios         Ratios         `json:"-"`
	RiskTier       RiskTier       `json:"risk_tier"`
	Probability    float64        `json:"probability"`
	JobID          *uuid.UUID     `json:"job_id,omitempty"`
	RowIndex       *int           `json:"row_index,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// AccessLevelFor derives the visibility tier a new record gets from its creator.
func AccessLevelFor(t TenantContext) AccessLevel {
	switch {
	case t.IsSuperAdmin() && t.OrganizationID == nil:
		return AccessSystem
	case t.Role == RolePersonalUser:
		return AccessPersonal
	case t.OrganizationID != nil:
		return AccessOrganization
	}
	return AccessPersonal
}

// Validate enforces the access level invariants. creatorRole is the role of
// CreatedBy at creation time.
func (p *Prediction) Validate(creatorRole Role) error {
	if p.Ratios == nil {
		return fmt.Errorf("%w: ratios are required", ErrInvalidPrediction)
	}
	if p.Ratios.PredictionType() != p.Type {
		return fmt.Errorf("%w: %s ratios on %s prediction", ErrInvalidPrediction, p.Ratios.PredictionType(), p.Type)
	}
	if p.Probability < 0 || p.Probability > 1 {
		return fmt.Errorf("%w: probability %v out of range", ErrInvalidPrediction, p.Probability)
	}
	switch p.AccessLevel {
	case AccessSystem:
		if p.OrganizationID != nil {
			return fmt.Errorf("%w: system prediction cannot belong to an organization", ErrInvalidPrediction)
		}
		if creatorRole != RoleSuperAdmin {
			return fmt.Errorf("%w: system prediction must be created by a super admin", ErrInvalidPrediction)
		}
	case AccessOrganization:
		if p.OrganizationID == nil {
			return fmt.Errorf("%w: organization prediction without organization", ErrInvalidPrediction)
		}
	case AccessPersonal:
		if p.CreatedBy == uuid.Nil {
			return fmt.Errorf("%w: personal prediction without creator", ErrInvalidPrediction)
		}
	default:
		return fmt.Errorf("%w: unknown access level %q", ErrInvalidPrediction, p.AccessLevel)
	}
	return nil
}
