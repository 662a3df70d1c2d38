// Package stores opens the inventory store selected by configuration.
package stores

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxcharge/internal/config"
	"github.com/drfirst/go-rxcharge/internal/domain/inventory"
	"github.com/drfirst/go-rxcharge/internal/infrastructure/memory"
	"github.com/drfirst/go-rxcharge/internal/infrastructure/mongodb"
	"github.com/drfirst/go-rxcharge/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxcharge/internal/infrastructure/sqlite"
)

// Inventory is what every store adapter offers beyond inventory.Store.
type Inventory interface {
	inventory.Store
	UpsertItem(ctx context.Context, item inventory.Item) error
	ListMovements(ctx context.Context, pharmacyID, itemID string) ([]inventory.StockMovement, error)
}

// Backend is an opened inventory store and the resources behind it.
type Backend struct {
	Driver    string
	Inventory Inventory
	// Postgres is set when the driver is postgres, or when a pool was
	// passed to Open.
	Postgres *pgxpool.Pool

	closers []func()
}

// Open connects the store named by cfg.StoreDriver and prepares its schema.
// A non-nil pool is reused for the postgres driver and is not closed by
// Close.
func Open(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Backend{Driver: cfg.StoreDriver, Postgres: pool}

	switch cfg.StoreDriver {
	case config.DriverMemory:
		b.Inventory = memory.New()

	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.SQLitePath, logger.Named("sqlite"))
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { s.Close() })
		if err := s.Migrate(ctx); err != nil {
			b.Close()
			return nil, err
		}
		b.Inventory = s

	case config.DriverPostgres:
		if b.Postgres == nil {
			p, err := postgres.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return nil, err
			}
			b.Postgres = p
			b.closers = append(b.closers, p.Close)
		}
		if err := postgres.Migrate(ctx, b.Postgres); err != nil {
			b.Close()
			return nil, err
		}
		b.Inventory = postgres.NewInventoryStore(b.Postgres, logger.Named("postgres"))

	case config.DriverMongo:
		s, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, logger.Named("mongodb"))
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { s.Close(context.Background()) })
		if err := s.EnsureIndexes(ctx); err != nil {
			b.Close()
			return nil, err
		}
		b.Inventory = s

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	logger.Info("inventory store opened", zap.String("driver", cfg.StoreDriver))
	return b, nil
}

// Close releases everything Open acquired, in reverse order.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
