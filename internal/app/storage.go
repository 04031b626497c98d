package app

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/oolio-orders/internal/domain/customer"
	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/domain/product"
	"github.com/xenking/oolio-orders/internal/fixture"
	"github.com/xenking/oolio-orders/internal/storage/memory"
	"github.com/xenking/oolio-orders/internal/storage/postgres"
	"github.com/xenking/oolio-orders/internal/storage/sqlite"
	"github.com/xenking/oolio-orders/pkg/health"
)

// Storage bundles the repositories of one storage driver.
type Storage struct {
	Customers customer.Repository
	Products  product.Repository
	Orders    order.Repository
	Tx        order.Transactor
	Pinger    health.Pinger
	Close     func()
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// OpenStorage opens the store selected by cfg.Storage.Driver. For the memory
// and sqlite drivers the configured seed file, if any, is loaded into it.
func OpenStorage(ctx context.Context, lg *zap.Logger, cfg *Config) (*Storage, error) {
	switch cfg.Storage.Driver {
	case DriverPostgres:
		return openPostgres(ctx, cfg)
	case DriverSQLite:
		return openSQLite(ctx, lg, cfg)
	case DriverMemory:
		return openMemory(lg, cfg)
	default:
		return nil, errors.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func openPostgres(ctx context.Context, cfg *Config) (*Storage, error) {
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}

	return &Storage{
		Customers: postgres.NewCustomerRepository(pool),
		Products:  postgres.NewProductRepository(pool),
		Orders:    postgres.NewOrderRepository(pool),
		Tx:        postgres.NewTransactor(pool),
		Pinger:    pool,
		Close:     pool.Close,
	}, nil
}

func openSQLite(ctx context.Context, lg *zap.Logger, cfg *Config) (*Storage, error) {
	db, err := sqlite.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	if cfg.SeedFile != "" {
		fx, err := loadSeed(lg, cfg.SeedFile)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := sqlite.Seed(ctx, db, fx.Customers, fx.Products); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "seed sqlite")
		}
	}

	return &Storage{
		Customers: sqlite.NewCustomerRepository(db),
		Products:  sqlite.NewProductRepository(db),
		Orders:    sqlite.NewOrderRepository(db),
		Tx:        sqlite.NewTransactor(db),
		Pinger:    pingFunc(db.PingContext),
		Close:     closeDB(lg, db),
	}, nil
}

func openMemory(lg *zap.Logger, cfg *Config) (*Storage, error) {
	store := memory.New()
	if cfg.SeedFile != "" {
		fx, err := loadSeed(lg, cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		store.Seed(fx.Customers, fx.Products)
	}

	return &Storage{
		Customers: memory.NewCustomerRepository(store),
		Products:  memory.NewProductRepository(store),
		Orders:    memory.NewOrderRepository(store),
		Tx:        store,
		Pinger:    store,
		Close:     func() {},
	}, nil
}

func loadSeed(lg *zap.Logger, path string) (*fixture.Fixture, error) {
	fx, err := fixture.Load(path)
	if err != nil {
		return nil, errors.Wrap(err, "load seed file")
	}
	lg.Info("Loaded seed file",
		zap.String("path", path),
		zap.Int("customers", len(fx.Customers)),
		zap.Int("products", len(fx.Products)),
	)
	return fx, nil
}

func closeDB(lg *zap.Logger, db *sql.DB) func() {
	return func() {
		if err := db.Close(); err != nil {
			lg.Warn("Close sqlite", zap.Error(err))
		}
	}
}
