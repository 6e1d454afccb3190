package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/store"
)

// BatchStore implements store.BatchStore. Rows are stored compressed in
// job_batches and removed with their job.
type BatchStore struct {
	pool *pgxpool.Pool
	cfg  StoreConfig
}

func NewBatchStore(pool *pgxpool.Pool, cfg StoreConfig) *BatchStore {
	cfg.ApplyDefaults()
	return &BatchStore{pool: pool, cfg: cfg}
}

func (s *BatchStore) SaveBatch(ctx context.Context, jobID uuid.UUID, rows []models.RawRow) error {
	payload, checksum, err := encodeBatch(rows, s.cfg.CompressionLevel)
	if err != nil {
		return err
	}

	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO job_batches (job_id, row_count, payload, checksum, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (job_id) DO UPDATE SET
			row_count = EXCLUDED.row_count,
			payload = EXCLUDED.payload,
			checksum = EXCLUDED.checksum
	`, jobID, len(rows), payload, int64(checksum))
	if err != nil {
		return fmt.Errorf("failed to save batch: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("job_id", jobID.String()).
		Int("rows", len(rows)).
		Int("payload_bytes", len(payload)).
		Msg("Saved job batch")
	return nil
}

func (s *BatchStore) LoadBatch(ctx context.Context, jobID uuid.UUID) ([]models.RawRow, error) {
	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	var (
		payload  []byte
		checksum int64
		rowCount int
	)
	err := s.pool.QueryRow(ctx,
		`SELECT payload, checksum, row_count FROM job_batches WHERE job_id = $1`, jobID,
	).Scan(&payload, &checksum, &rowCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrBatchNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to load batch: %w", mapPostgresError(err))
	}

	rows, err := decodeBatch(payload, uint64(checksum))
	if err != nil {
		return nil, err
	}
	if len(rows) != rowCount {
		return nil, fmt.Errorf("%w: expected %d rows, decoded %d", ErrBatchCorrupt, rowCount, len(rows))
	}
	return rows, nil
}

func (s *BatchStore) DeleteBatch(ctx context.Context, jobID uuid.UUID) error {
	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	if _, err := s.pool.Exec(ctx, `DELETE FROM job_batches WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to delete batch: %w", mapPostgresError(err))
	}
	return nil
}
