package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RawRow is one parsed spreadsheet row keyed by normalized column name.
// Values are strings from file parsers or JSON scalars from API callers.
type RawRow map[string]any

// ReportingPeriod identifies the fiscal period a prediction covers.
// Quarter is nil for annual predictions.
type ReportingPeriod struct {
	Year    int  `json:"year"`
	Quarter *int `json:"quarter,omitempty"`
}

func (p ReportingPeriod) String() string {
	if p.Quarter == nil {
		return fmt.Sprintf("%d", p.Year)
	}
	return fmt.Sprintf("%d-Q%d", p.Year, *p.Quarter)
}

// ForType normalizes the period to what the prediction type keys on.
func (p ReportingPeriod) ForType(t PredictionType) (ReportingPeriod, error) {
	switch t {
	case PredictionAnnual:
		return ReportingPeriod{Year: p.Year}, nil
	case PredictionQuarterly:
		if p.Quarter == nil || *p.Quarter < 1 || *p.Quarter > 4 {
			return ReportingPeriod{}, fmt.Errorf("quarterly period requires a quarter between 1 and 4")
		}
		q := *p.Quarter
		return ReportingPeriod{Year: p.Year, Quarter: &q}, nil
	}
	return ReportingPeriod{}, fmt.Errorf("unknown prediction type %q", t)
}

// Scope is the ownership partition of a company row.
// Global rows have no organization and IsGlobal set; the unaffiliated scope
// (personal users outside any organization) has neither.
type Scope struct {
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`
	IsGlobal       bool       `json:"is_global"`
}

func GlobalScope() Scope { return Scope{IsGlobal: true} }

func OrganizationScope(orgID uuid.UUID) Scope { return Scope{OrganizationID: &orgID} }

func (s Scope) String() string {
	switch {
	case s.IsGlobal:
		return "global"
	case s.OrganizationID != nil:
		return "org:" + s.OrganizationID.String()
	}
	return "unaffiliated"
}

func (s Scope) Equal(o Scope) bool {
	if s.IsGlobal != o.IsGlobal {
		return false
	}
	if s.OrganizationID == nil || o.OrganizationID == nil {
		return s.OrganizationID == nil && o.OrganizationID == nil
	}
	return *s.OrganizationID == *o.OrganizationID
}

// Company is a scoped company record for one prediction type and period.
type Company struct {
	ID              uuid.UUID       `json:"id"`
	Symbol          string          `json:"symbol"`
	Name            string          `json:"name"`
	Sector          string          `json:"sector,omitempty"`
	MarketCap       *float64        `json:"market_cap,omitempty"`
	Scope           Scope           `json:"scope"`
	PredictionType  PredictionType  `json:"prediction_type"`
	ReportingPeriod ReportingPeriod `json:"reporting_period"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NormalizeSymbol canonicalizes a ticker symbol for keying.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Key returns the uniqueness key of the company row.
func (c *Company) Key() string {
	return strings.Join([]string{
		NormalizeSymbol(c.Symbol),
		c.Scope.String(),
		string(c.PredictionType),
		c.ReportingPeriod.String(),
	}, "|")
}
