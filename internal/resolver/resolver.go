// Package resolver maps a tenant and a company symbol onto the scoped company
// row that owns predictions for it.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/store"
)

var (
	// ErrScopeConflict is returned when a request claims global scope it cannot hold.
	ErrScopeConflict = errors.New("scope conflict")

	// ErrInvalidCompany is returned for a missing symbol or a period that does
	// not fit the prediction type.
	ErrInvalidCompany = errors.New("invalid company")
)

// CompanyInput describes the company a row or request refers to.
type CompanyInput struct {
	Symbol    string
	Name      string
	Sector    string
	MarketCap *float64

	// Global explicitly claims global scope. Only a super admin acting
	// outside any organization may do so.
	Global bool
}

// Resolver finds or creates companies inside the caller's scope.
type Resolver struct {
	companies store.CompanyStore
	orgs      store.OrganizationStore
}

func New(companies store.CompanyStore, orgs store.OrganizationStore) *Resolver {
	return &Resolver{companies: companies, orgs: orgs}
}

// ScopeFor computes the write scope of tenant. Creation always targets the
// caller's own scope.
func ScopeFor(tenant models.TenantContext, claimGlobal bool) (models.Scope, error) {
	if claimGlobal {
		if !tenant.IsSuperAdmin() {
			return models.Scope{}, fmt.Errorf("%w: %s cannot write global companies", ErrScopeConflict, tenant.Role)
		}
		if tenant.OrganizationID != nil {
			return models.Scope{}, fmt.Errorf("%w: global scope claimed inside organization %s", ErrScopeConflict, tenant.OrganizationID)
		}
	}

	switch {
	case tenant.OrganizationID != nil:
		return models.OrganizationScope(*tenant.OrganizationID), nil
	case tenant.IsSuperAdmin():
		return models.GlobalScope(), nil
	}
	return models.Scope{}, nil
}

// Scope builds the candidate company for input without touching storage.
// The candidate is suitable for UpsertCompany or CreateWithCompany.
func (r *Resolver) Scope(tenant models.TenantContext, input CompanyInput, t models.PredictionType, period models.ReportingPeriod) (*models.Company, error) {
	symbol := models.NormalizeSymbol(input.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: company symbol is required", ErrInvalidCompany)
	}

	scope, err := ScopeFor(tenant, input.Global)
	if err != nil {
		return nil, err
	}

	p, err := period.ForType(t)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCompany, err)
	}

	name := input.Name
	if name == "" {
		name = symbol
	}

	return &models.Company{
		Symbol:          symbol,
		Name:            name,
		Sector:          input.Sector,
		MarketCap:       input.MarketCap,
		Scope:           scope,
		PredictionType:  t,
		ReportingPeriod: p,
	}, nil
}

// ResolveOrCreate returns the company for (symbol, scope, type, period),
// creating it in the caller's scope when absent.
func (r *Resolver) ResolveOrCreate(ctx context.Context, tenant models.TenantContext, input CompanyInput, t models.PredictionType, period models.ReportingPeriod) (*models.Company, error) {
	candidate, err := r.Scope(tenant, input, t, period)
	if err != nil {
		return nil, err
	}

	company, created, err := r.companies.UpsertCompany(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert company: %w", err)
	}

	if created {
		log.Debug().
			Str("symbol", company.Symbol).
			Str("scope", company.Scope.String()).
			Str("period", company.ReportingPeriod.String()).
			Msg("Created company")
	}
	return company, nil
}

// ReadScopes lists the scopes tenant may read companies from. Organizations
// see global rows only when their allow_global_data_access flag is set.
// A nil result with no error means every scope is readable.
func (r *Resolver) ReadScopes(ctx context.Context, tenant models.TenantContext) ([]models.Scope, error) {
	if tenant.IsSuperAdmin() && tenant.OrganizationID == nil {
		return nil, nil
	}

	if tenant.OrganizationID == nil {
		return []models.Scope{{}}, nil
	}

	scopes := []models.Scope{models.OrganizationScope(*tenant.OrganizationID)}
	if tenant.IsSuperAdmin() {
		return append(scopes, models.GlobalScope()), nil
	}

	org, err := r.orgs.Get(ctx, *tenant.OrganizationID)
	if err != nil {
		if errors.Is(err, store.ErrOrganizationNotFound) {
			return scopes, nil
		}
		return nil, fmt.Errorf("failed to load organization: %w", err)
	}
	if org.AllowGlobalDataAccess {
		scopes = append(scopes, models.GlobalScope())
	}
	return scopes, nil
}

// VisibleCompanies returns every company row for symbol tenant may read.
func (r *Resolver) VisibleCompanies(ctx context.Context, tenant models.TenantContext, symbol string) ([]*models.Company, error) {
	scopes, err := r.ReadScopes(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return r.companies.FindCompanies(ctx, symbol, scopes)
}
