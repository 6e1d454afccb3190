package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/store"
)

const companyColumns = `
	company_id, symbol, name, sector, market_cap, org_id, is_global,
	prediction_type, reporting_year, reporting_quarter, created_at, updated_at`

const predictionColumns = `
	prediction_id, company_id, prediction_type, access_level, org_id, created_by,
	ratios, risk_tier, probability, job_id, row_index, created_at, updated_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EntityStore implements store.CompanyStore and store.PredictionStore.
// Company deduplication relies on the companies_scope_key constraint, so
// concurrent writers resolving the same key converge on one row.
type EntityStore struct {
	pool *pgxpool.Pool
	cfg  StoreConfig
	now  func() time.Time
}

func NewEntityStore(pool *pgxpool.Pool, cfg StoreConfig) *EntityStore {
	cfg.ApplyDefaults()
	return &EntityStore{pool: pool, cfg: cfg, now: time.Now}
}

func scanCompany(row rowScanner) (*models.Company, error) {
	var (
		c       models.Company
		predTyp string
	)
	err := row.Scan(
		&c.ID,
		&c.Symbol,
		&c.Name,
		&c.Sector,
		&c.MarketCap,
		&c.Scope.OrganizationID,
		&c.Scope.IsGlobal,
		&predTyp,
		&c.ReportingPeriod.Year,
		&c.ReportingPeriod.Quarter,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.PredictionType = models.PredictionType(predTyp)
	return &c, nil
}

func scanPrediction(row rowScanner) (*models.Prediction, error) {
	var (
		p           models.Prediction
		predTyp     string
		accessLevel string
		riskTier    string
		ratiosJSON  []byte
	)
	err := row.Scan(
		&p.ID,
		&p.CompanyID,
		&predTyp,
		&accessLevel,
		&p.OrganizationID,
		&p.CreatedBy,
		&ratiosJSON,
		&riskTier,
		&p.Probability,
		&p.JobID,
		&p.RowIndex,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Type = models.PredictionType(predTyp)
	p.AccessLevel = models.AccessLevel(accessLevel)
	p.RiskTier = models.RiskTier(riskTier)

	var values map[string]float64
	if err := json.Unmarshal(ratiosJSON, &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ratios: %w", err)
	}
	if p.Ratios, err = models.RatiosFromValues(p.Type, values); err != nil {
		return nil, fmt.Errorf("prediction %s: %w", p.ID, err)
	}
	return &p, nil
}

// UpsertCompany returns the row for the company's key, inserting it if absent.
func (s *EntityStore) UpsertCompany(ctx context.Context, company *models.Company) (*models.Company, bool, error) {
	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	c, created, err := s.upsertCompany(ctx, s.pool, company)
	if err != nil {
		return nil, false, mapPostgresError(err)
	}
	return c, created, nil
}

func (s *EntityStore) upsertCompany(ctx context.Context, q querier, company *models.Company) (*models.Company, bool, error) {
	symbol := models.NormalizeSymbol(company.Symbol)
	if symbol == "" {
		return nil, false, fmt.Errorf("company symbol is required")
	}

	id := company.ID
	if id == uuid.Nil {
		id = uuid.Must(uuid.NewV7())
	}
	now := s.now()

	c, err := scanCompany(q.QueryRow(ctx, `
		INSERT INTO companies (
			company_id, symbol, name, sector, market_cap, org_id, is_global,
			prediction_type, reporting_year, reporting_quarter, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT ON CONSTRAINT companies_scope_key DO NOTHING
		RETURNING `+companyColumns,
		id,
		symbol,
		company.Name,
		company.Sector,
		company.MarketCap,
		company.Scope.OrganizationID,
		company.Scope.IsGlobal,
		string(company.PredictionType),
		company.ReportingPeriod.Year,
		company.ReportingPeriod.Quarter,
		now,
	))
	if err == nil {
		log.Debug().
			Str("company_id", c.ID.String()).
			Str("symbol", c.Symbol).
			Str("scope", c.Scope.String()).
			Msg("Created company")
		return c, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert company: %w", err)
	}

	// lost the race or the row already existed
	c, err = scanCompany(q.QueryRow(ctx, `
		SELECT `+companyColumns+`
		FROM companies
		WHERE symbol = $1
		  AND org_id IS NOT DISTINCT FROM $2
		  AND is_global = $3
		  AND prediction_type = $4
		  AND reporting_year = $5
		  AND reporting_quarter IS NOT DISTINCT FROM $6
	`,
		symbol,
		company.Scope.OrganizationID,
		company.Scope.IsGlobal,
		string(company.PredictionType),
		company.ReportingPeriod.Year,
		company.ReportingPeriod.Quarter,
	))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing company: %w", err)
	}
	return c, false, nil
}

func (s *EntityStore) GetCompany(ctx context.Context, companyID uuid.UUID) (*models.Company, error) {
	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	c, err := scanCompany(s.pool.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE company_id = $1`, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrCompanyNotFound, companyID)
		}
		return nil, fmt.Errorf("failed to get company: %w", mapPostgresError(err))
	}
	return c, nil
}

// FindCompanies returns rows for symbol within any of scopes, oldest first.
func (s *EntityStore) FindCompanies(ctx context.Context, symbol string, scopes []models.Scope) ([]*models.Company, error) {
	if scopes != nil && len(scopes) == 0 {
		return nil, nil
	}

	args := []any{models.NormalizeSymbol(symbol)}
	query := `SELECT ` + companyColumns + ` FROM companies WHERE symbol = $1`

	if scopes != nil {
		clauses := make([]string, 0, len(scopes))
		for _, scope := range scopes {
			args = append(args, scope.OrganizationID, scope.IsGlobal)
			clauses = append(clauses, fmt.Sprintf("(org_id IS NOT DISTINCT FROM $%d AND is_global = $%d)", len(args)-1, len(args)))
		}
		query += ` AND (` + strings.Join(clauses, " OR ") + `)`
	}
	query += ` ORDER BY created_at ASC, company_id ASC`

	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find companies: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var companies []*models.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}
		companies = append(companies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating companies: %w", mapPostgresError(err))
	}
	return companies, nil
}

// CreateWithCompany resolves the company and inserts the prediction in one
// transaction. A prediction already recorded for the same job row is returned
// unchanged.
func (s *EntityStore) CreateWithCompany(ctx context.Context, company *models.Company, prediction *models.Prediction) (*models.Prediction, error) {
	if prediction.Ratios == nil {
		return nil, fmt.Errorf("%w: ratios are required", models.ErrInvalidPrediction)
	}
	ratiosJSON, err := json.Marshal(prediction.Ratios.Values())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ratios: %w", err)
	}

	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	var created *models.Prediction
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		idempotent := prediction.JobID != nil && prediction.RowIndex != nil
		if idempotent {
			existing, err := predictionForRow(ctx, tx, *prediction.JobID, *prediction.RowIndex)
			if err == nil {
				created = existing
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
		}

		c, _, err := s.upsertCompany(ctx, tx, company)
		if err != nil {
			return err
		}

		id := prediction.ID
		if id == uuid.Nil {
			id = uuid.Must(uuid.NewV7())
		}

		created, err = scanPrediction(tx.QueryRow(ctx, `
			INSERT INTO predictions (
				prediction_id, company_id, prediction_type, access_level, org_id, created_by,
				ratios, risk_tier, probability, job_id, row_index, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
			ON CONFLICT (job_id, row_index) WHERE job_id IS NOT NULL DO NOTHING
			RETURNING `+predictionColumns,
			id,
			c.ID,
			string(prediction.Type),
			string(prediction.AccessLevel),
			prediction.OrganizationID,
			prediction.CreatedBy,
			ratiosJSON,
			string(prediction.RiskTier),
			prediction.Probability,
			prediction.JobID,
			prediction.RowIndex,
			s.now(),
		))
		if errors.Is(err, pgx.ErrNoRows) && idempotent {
			created, err = predictionForRow(ctx, tx, *prediction.JobID, *prediction.RowIndex)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create prediction: %w", mapPostgresError(err))
	}
	return created, nil
}

func predictionForRow(ctx context.Context, q querier, jobID uuid.UUID, rowIndex int) (*models.Prediction, error) {
	return scanPrediction(q.QueryRow(ctx, `
		SELECT `+predictionColumns+`
		FROM predictions
		WHERE job_id = $1 AND row_index = $2
	`, jobID, rowIndex))
}

func (s *EntityStore) GetPrediction(ctx context.Context, predictionID uuid.UUID) (*models.Prediction, error) {
	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	p, err := scanPrediction(s.pool.QueryRow(ctx, `SELECT `+predictionColumns+` FROM predictions WHERE prediction_id = $1`, predictionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrPredictionNotFound, predictionID)
		}
		return nil, fmt.Errorf("failed to get prediction: %w", mapPostgresError(err))
	}
	return p, nil
}

func (s *EntityStore) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Prediction, error) {
	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT `+predictionColumns+`
		FROM predictions
		WHERE job_id = $1
		ORDER BY row_index ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var predictions []*models.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		predictions = append(predictions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating predictions: %w", mapPostgresError(err))
	}
	return predictions, nil
}
