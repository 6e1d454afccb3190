// Package validator turns raw spreadsheet rows into typed model inputs.
package validator

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/wolfeidau/riskrunner/internal/models"
)

// Column names shared by annual and quarterly sheets.
const (
	FieldCompanySymbol    = "company_symbol"
	FieldCompanyName      = "company_name"
	FieldSector           = "sector"
	FieldMarketCap        = "market_cap"
	FieldReportingYear    = "reporting_year"
	FieldReportingQuarter = "reporting_quarter"
)

// ValidRow is a row that passed validation.
type ValidRow struct {
	Index     int
	Symbol    string
	Name      string
	Sector    string
	MarketCap *float64
	Period    models.ReportingPeriod
	Ratios    models.Ratios
}

// Result holds exactly one of Row or Rejection.
type Result struct {
	Row       *ValidRow
	Rejection *models.RowRejection
}

func (r Result) OK() bool {
	return r.Row != nil
}

func reject(index int, format string, args ...any) Result {
	return Result{Rejection: &models.RowRejection{RowIndex: index, Reason: fmt.Sprintf(format, args...)}}
}

// Validate checks one row against the field set of t. It never panics and
// always returns either a valid row or a rejection carrying index.
func Validate(index int, raw models.RawRow, t models.PredictionType) Result {
	fields := models.RequiredRatios(t)
	if fields == nil {
		return reject(index, "unknown prediction type %q", t)
	}

	symbol := models.NormalizeSymbol(stringValue(raw[FieldCompanySymbol]))
	if symbol == "" {
		return reject(index, "missing field %s", FieldCompanySymbol)
	}

	year, ok := parseYear(raw[FieldReportingYear])
	if !ok {
		return reject(index, "invalid %s", FieldReportingYear)
	}

	// annual rows keep a valid quarter and drop an invalid one; the company
	// key for annual predictions is year only, see ReportingPeriod.ForType
	period := models.ReportingPeriod{Year: year}
	q, ok := NormalizeQuarter(raw[FieldReportingQuarter])
	switch {
	case ok:
		period.Quarter = &q
	case t == models.PredictionQuarterly:
		return reject(index, "invalid %s", FieldReportingQuarter)
	}

	values := make(map[string]float64, len(fields))
	for _, f := range fields {
		v, present := raw[f]
		if !present || isBlank(v) {
			return reject(index, "missing field %s", f)
		}
		n, ok := parseNumber(v)
		if !ok {
			return reject(index, "non-numeric field %s", f)
		}
		values[f] = n
	}

	ratios, err := models.RatiosFromValues(t, values)
	if err != nil {
		return reject(index, "%s", err)
	}

	row := &ValidRow{
		Index:  index,
		Symbol: symbol,
		Name:   strings.TrimSpace(stringValue(raw[FieldCompanyName])),
		Sector: strings.TrimSpace(stringValue(raw[FieldSector])),
		Period: period,
		Ratios: ratios,
	}
	if row.Name == "" {
		row.Name = symbol
	}
	if v, ok := raw[FieldMarketCap]; ok && !isBlank(v) {
		if n, ok := parseNumber(v); ok {
			row.MarketCap = &n
		}
	}
	return Result{Row: row}
}

var quarterPattern = regexp.MustCompile(`^Q?[1-4]$`)

// NormalizeQuarter accepts "Q1".."Q4" in any case, or the integers 1 to 4 as
// strings or numbers. Anything else reports false.
func NormalizeQuarter(v any) (int, bool) {
	var q int
	switch x := v.(type) {
	case nil:
		return 0, false
	case string:
		s := strings.ToUpper(strings.TrimSpace(x))
		if !quarterPattern.MatchString(s) {
			return 0, false
		}
		q = int(s[len(s)-1] - '0')
	case int:
		q = x
	case int64:
		q = int(x)
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		q = int(x)
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, false
		}
		q = int(n)
	default:
		return 0, false
	}
	if q < 1 || q > 4 {
		return 0, false
	}
	return q, true
}

func parseYear(v any) (int, bool) {
	n, ok := parseNumber(v)
	if !ok || n != math.Trunc(n) || n < 1900 || n > 2200 {
		return 0, false
	}
	return int(n), true
}

func parseNumber(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		s := strings.TrimSpace(x)
		s = strings.ReplaceAll(s, ",", "")
		s = strings.TrimSuffix(s, "%")
		if s == "" {
			return 0, false
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	return false
}

func stringValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
