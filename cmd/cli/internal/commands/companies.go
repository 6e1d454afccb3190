package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/hokaccha/go-prettyjson"
	"github.com/wolfeidau/riskrunner/internal/api"
	"github.com/wolfeidau/riskrunner/internal/models"
)

type CompaniesCmd struct {
	List   CompaniesListCmd   `cmd:"" help:"List the company rows visible to you for a symbol"`
	Create CompaniesCreateCmd `cmd:"" help:"Resolve or create a company in your scope"`
}

type CompaniesListCmd struct {
	ClientFlags `embed:""`

	Symbol string `arg:"" help:"Company symbol"`
	JSON   bool   `help:"Print the companies as JSON" default:"false"`
}

func (l *CompaniesListCmd) Run(ctx context.Context, globals *Globals) error {
	c, err := l.newClient(globals)
	if err != nil {
		return err
	}

	resp, err := c.ListCompanies(ctx, &api.ListCompaniesRequest{Symbol: l.Symbol})
	if err != nil {
		return fmt.Errorf("failed to list companies: %w", err)
	}

	if l.JSON {
		b, err := prettyjson.Marshal(resp.Companies)
		if err != nil {
			return fmt.Errorf("failed to format companies: %w", err)
		}
		fmt.Println(string(b))
		return nil
	}

	if len(resp.Companies) == 0 {
		fmt.Printf("No companies visible for %s.\n", models.NormalizeSymbol(l.Symbol))
		return nil
	}

	fmt.Printf("%-36s %-10s %-24s %-10s %-9s %-42s\n", "Company ID", "Symbol", "Name", "Type", "Period", "Scope")
	fmt.Println(strings.Repeat("─", 136))
	for _, company := range resp.Companies {
		fmt.Printf("%-36s %-10s %-24s %-10s %-9s %-42s\n",
			company.ID,
			company.Symbol,
			truncate(company.Name, 24),
			company.PredictionType,
			company.ReportingPeriod,
			company.Scope)
	}
	return nil
}

type CompaniesCreateCmd struct {
	ClientFlags `embed:""`

	Symbol    string  `arg:"" help:"Company symbol"`
	Name      string  `help:"Company name, defaults to the symbol"`
	Sector    string  `help:"Sector"`
	MarketCap float64 `help:"Market capitalisation" name:"market-cap"`
	Type      string  `help:"Prediction type" enum:"annual,quarterly" default:"annual"`
	Year      int     `help:"Reporting year" required:""`
	Quarter   string  `help:"Reporting quarter (Q1-Q4), required for quarterly"`
	Global    bool    `help:"Create in the global scope (super admin outside an organization only)" default:"false"`
}

func (cc *CompaniesCreateCmd) Run(ctx context.Context, globals *Globals) error {
	c, err := cc.newClient(globals)
	if err != nil {
		return err
	}

	var marketCap *float64
	if cc.MarketCap > 0 {
		marketCap = &cc.MarketCap
	}

	resp, err := c.CreateCompany(ctx, &api.CreateCompanyRequest{
		Symbol:           cc.Symbol,
		Name:             cc.Name,
		Sector:           cc.Sector,
		MarketCap:        marketCap,
		PredictionType:   cc.Type,
		ReportingYear:    cc.Year,
		ReportingQuarter: cc.Quarter,
		Global:           cc.Global,
	})
	if err != nil {
		return fmt.Errorf("failed to create company: %w", err)
	}

	fmt.Printf("Company %s (%s %s) in scope %s\n", resp.Company.ID, resp.Company.Symbol, resp.Company.ReportingPeriod, resp.Company.Scope)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
