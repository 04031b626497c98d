package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-orders/internal/fixture"
	"github.com/xenking/oolio-orders/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		files       string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&files, "files", "db/seed/catalog.json", "comma-separated fixture files (.json or .json.gz); later files override earlier ones")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("ORDERS_DATABASE_URL")
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, strings.Split(files, ",")); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}

	lg.Info("Seed completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, paths []string) error {
	fx, err := fixture.LoadAll(ctx, paths...)
	if err != nil {
		return errors.Wrap(err, "load fixtures")
	}
	lg.Info("Loaded fixtures",
		zap.Strings("files", paths),
		zap.Int("customers", len(fx.Customers)),
		zap.Int("products", len(fx.Products)),
	)

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := postgres.SeedCustomers(gctx, pool, fx.Customers); err != nil {
			return errors.Wrap(err, "seed customers")
		}
		lg.Info("Upserted customers", zap.Int("count", len(fx.Customers)))
		return nil
	})
	g.Go(func() error {
		if err := postgres.SeedProducts(gctx, pool, fx.Products); err != nil {
			return errors.Wrap(err, "seed products")
		}
		lg.Info("Upserted products", zap.Int("count", len(fx.Products)))
		return nil
	})
	return g.Wait()
}
