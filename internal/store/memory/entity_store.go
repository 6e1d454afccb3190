package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/store"
)

type predictionKey struct {
	jobID    uuid.UUID
	rowIndex int
}

// EntityStore implements store.CompanyStore and store.PredictionStore.
// Companies and predictions share one lock so CreateWithCompany is atomic.
type EntityStore struct {
	mu sync.Mutex

	companies     map[uuid.UUID]*models.Company
	companyKeys   map[string]uuid.UUID // Company.Key() -> company ID
	predictions   map[uuid.UUID]*models.Prediction
	predictionRow map[predictionKey]uuid.UUID

	now func() time.Time
}

func NewEntityStore() *EntityStore {
	return &EntityStore{
		companies:     make(map[uuid.UUID]*models.Company),
		companyKeys:   make(map[string]uuid.UUID),
		predictions:   make(map[uuid.UUID]*models.Prediction),
		predictionRow: make(map[predictionKey]uuid.UUID),
		now:           time.Now,
	}
}

func (s *EntityStore) UpsertCompany(ctx context.Context, company *models.Company) (*models.Company, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, created, err := s.upsertLocked(company)
	if err != nil {
		return nil, false, err
	}
	return cloneCompany(c), created, nil
}

func (s *EntityStore) upsertLocked(company *models.Company) (*models.Company, bool, error) {
	if company.Symbol == "" {
		return nil, false, fmt.Errorf("company symbol is required")
	}

	key := company.Key()
	if id, ok := s.companyKeys[key]; ok {
		return s.companies[id], false, nil
	}

	c := cloneCompany(company)
	c.Symbol = models.NormalizeSymbol(c.Symbol)
	if c.ID == uuid.Nil {
		c.ID = uuid.Must(uuid.NewV7())
	}
	now := s.now()
	c.CreatedAt = now
	c.UpdatedAt = now

	s.companies[c.ID] = c
	s.companyKeys[key] = c.ID
	return c, true, nil
}

func (s *EntityStore) GetCompany(ctx context.Context, companyID uuid.UUID) (*models.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.companies[companyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrCompanyNotFound, companyID)
	}
	return cloneCompany(c), nil
}

func (s *EntityStore) FindCompanies(ctx context.Context, symbol string, scopes []models.Scope) ([]*models.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbol = models.NormalizeSymbol(symbol)

	var out []*models.Company
	for _, c := range s.companies {
		if c.Symbol != symbol {
			continue
		}
		if scopes == nil {
			out = append(out, cloneCompany(c))
			continue
		}
		for _, scope := range scopes {
			if c.Scope.Equal(scope) {
				out = append(out, cloneCompany(c))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *EntityStore) CreateWithCompany(ctx context.Context, company *models.Company, prediction *models.Prediction) (*models.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prediction.JobID != nil && prediction.RowIndex != nil {
		if id, ok := s.predictionRow[predictionKey{*prediction.JobID, *prediction.RowIndex}]; ok {
			return clonePrediction(s.predictions[id]), nil
		}
	}

	c, _, err := s.upsertLocked(company)
	if err != nil {
		return nil, err
	}

	p := clonePrediction(prediction)
	p.CompanyID = c.ID
	if p.ID == uuid.Nil {
		p.ID = uuid.Must(uuid.NewV7())
	}
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now

	s.predictions[p.ID] = p
	if p.JobID != nil && p.RowIndex != nil {
		s.predictionRow[predictionKey{*p.JobID, *p.RowIndex}] = p.ID
	}
	return clonePrediction(p), nil
}

func (s *EntityStore) GetPrediction(ctx context.Context, predictionID uuid.UUID) (*models.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.predictions[predictionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrPredictionNotFound, predictionID)
	}
	return clonePrediction(p), nil
}

func (s *EntityStore) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Prediction
	for key, id := range s.predictionRow {
		if key.jobID == jobID {
			out = append(out, clonePrediction(s.predictions[id]))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return *out[i].RowIndex < *out[j].RowIndex
	})
	return out, nil
}

func cloneCompany(c *models.Company) *models.Company {
	out := *c
	if c.MarketCap != nil {
		v := *c.MarketCap
		out.MarketCap = &v
	}
	if c.Scope.OrganizationID != nil {
		v := *c.Scope.OrganizationID
		out.Scope.OrganizationID = &v
	}
	if c.ReportingPeriod.Quarter != nil {
		v := *c.ReportingPeriod.Quarter
		out.ReportingPeriod.Quarter = &v
	}
	return &out
}

func clonePrediction(p *models.Prediction) *models.Prediction {
	out := *p
	if p.OrganizationID != nil {
		v := *p.OrganizationID
		out.OrganizationID = &v
	}
	if p.JobID != nil {
		v := *p.JobID
		out.JobID = &v
	}
	if p.RowIndex != nil {
		v := *p.RowIndex
		out.RowIndex = &v
	}
	return &out
}
