package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/riskrunner/internal/store"
	memorystore "github.com/wolfeidau/riskrunner/internal/store/memory"
	postgresstore "github.com/wolfeidau/riskrunner/internal/store/postgres"
)

// PostgresFlags configures the shared connection pool and the stores on it.
type PostgresFlags struct {
	Pool            postgresstore.PoolConfig  `embed:""`
	Store           postgresstore.StoreConfig `embed:""`
	AutoMigrate     bool                      `help:"run database migrations on startup" default:"false" env:"RISKRUNNER_POSTGRES_AUTO_MIGRATE"`
	MonitorInterval time.Duration             `help:"interval between connection pool stats logs (0 disables)" default:"30s"`
}

// stores bundles every store the service needs.
type stores struct {
	jobs          store.JobStore
	batches       store.BatchStore
	companies     store.CompanyStore
	predictions   store.PredictionStore
	organizations store.OrganizationStore

	pool *pgxpool.Pool // nil for memory stores
}

func (s *stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func openStores(ctx context.Context, storeType string, flags *PostgresFlags) (*stores, error) {
	switch storeType {
	case "postgres":
		pool, err := openPool(ctx, flags)
		if err != nil {
			return nil, err
		}

		if err := flags.Store.Validate(); err != nil {
			pool.Close()
			return nil, fmt.Errorf("invalid store config: %w", err)
		}

		entities := postgresstore.NewEntityStore(pool, flags.Store)

		log.Info().Msg("Using PostgreSQL stores with shared connection pool")
		return &stores{
			jobs:          postgresstore.NewJobStore(pool, flags.Store),
			batches:       postgresstore.NewBatchStore(pool, flags.Store),
			companies:     entities,
			predictions:   entities,
			organizations: postgresstore.NewOrganizationStore(pool),
			pool:          pool,
		}, nil

	default:
		entities := memorystore.NewEntityStore()

		log.Warn().Msg("Using in-memory stores, data is lost on restart")
		return &stores{
			jobs:          memorystore.NewJobStore(),
			batches:       memorystore.NewBatchStore(),
			companies:     entities,
			predictions:   entities,
			organizations: memorystore.NewOrganizationStore(),
		}, nil
	}
}

func openPool(ctx context.Context, flags *PostgresFlags) (*pgxpool.Pool, error) {
	pool, err := postgresstore.NewPool(ctx, &flags.Pool)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if flags.AutoMigrate {
		if err := postgresstore.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info().Msg("Database migrations completed")
	}
	return pool, nil
}

// MigrateCmd applies pending migrations and exits.
type MigrateCmd struct {
	Postgres PostgresFlags `embed:"" prefix:"postgres-"`
}

func (c *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	globals.setupLogger()

	c.Postgres.AutoMigrate = true
	pool, err := openPool(ctx, &c.Postgres)
	if err != nil {
		return err
	}
	pool.Close()
	return nil
}
