package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/riskrunner/internal/api"
	"github.com/wolfeidau/riskrunner/internal/auth"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/resolver"
	"github.com/wolfeidau/riskrunner/internal/validator"
)

// CompanyServer exposes scoped company lookup and single record creation.
type CompanyServer struct {
	resolver *resolver.Resolver
}

func NewCompanyServer(res *resolver.Resolver) *CompanyServer {
	return &CompanyServer{
		resolver: res,
	}
}

func (s *CompanyServer) ListCompanies(ctx context.Context, req *connect.Request[api.ListCompaniesRequest]) (*connect.Response[api.ListCompaniesResponse], error) {
	tenant, err := auth.RequirePermission(ctx, auth.PermCompaniesRead)
	if err != nil {
		return nil, err
	}

	symbol := models.NormalizeSymbol(req.Msg.Symbol)
	if symbol == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("symbol is required"))
	}

	companies, err := s.resolver.VisibleCompanies(ctx, tenant, symbol)
	if err != nil {
		return nil, toConnectError(err)
	}
	if companies == nil {
		companies = []*models.Company{}
	}
	return connect.NewResponse(&api.ListCompaniesResponse{Companies: companies}), nil
}

func (s *CompanyServer) CreateCompany(ctx context.Context, req *connect.Request[api.CreateCompanyRequest]) (*connect.Response[api.CreateCompanyResponse], error) {
	tenant, err := auth.RequirePermission(ctx, auth.PermCompaniesWrite)
	if err != nil {
		return nil, err
	}

	predictionType, err := models.ParsePredictionType(req.Msg.PredictionType)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	period, err := reportingPeriod(req.Msg.ReportingYear, req.Msg.ReportingQuarter)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	company, err := s.resolver.ResolveOrCreate(ctx, tenant, resolver.CompanyInput{
		Symbol:    req.Msg.Symbol,
		Name:      strings.TrimSpace(req.Msg.Name),
		Sector:    strings.TrimSpace(req.Msg.Sector),
		MarketCap: req.Msg.MarketCap,
		Global:    req.Msg.Global,
	}, predictionType, period)
	if err != nil {
		return nil, toConnectError(err)
	}

	log.Debug().
		Str("company_id", company.ID.String()).
		Str("scope", company.Scope.String()).
		Msg("Resolved company")

	return connect.NewResponse(&api.CreateCompanyResponse{Company: company}), nil
}

func reportingPeriod(year int, quarter string) (models.ReportingPeriod, error) {
	if year < 1900 || year > 2200 {
		return models.ReportingPeriod{}, fmt.Errorf("invalid reporting_year %d", year)
	}

	period := models.ReportingPeriod{Year: year}
	if strings.TrimSpace(quarter) == "" {
		return period, nil
	}
	q, ok := validator.NormalizeQuarter(quarter)
	if !ok {
		return models.ReportingPeriod{}, fmt.Errorf("invalid reporting_quarter %q", quarter)
	}
	period.Quarter = &q
	return period, nil
}
