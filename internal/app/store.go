package app

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/storage/mongodb"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

// Stores are the repositories of the selected storage driver.
type Stores struct {
	Products product.Repository
	Carts    cart.Repository
	Coupons  coupon.Repository
	Orders   order.Repository
	Sessions auth.SessionRepository
	APIKeys  auth.APIKeyRepository

	// Ping checks connectivity for readiness probes.
	Ping  func(ctx context.Context) error
	close func(ctx context.Context)
}

// Close releases the underlying connections.
func (s *Stores) Close(ctx context.Context) {
	if s.close != nil {
		s.close(ctx)
	}
}

// OpenStores connects to the configured driver and brings its schema up to
// date: migrations for postgres, indexes for mongo.
func OpenStores(ctx context.Context, cfg StorageConfig) (*Stores, error) {
	lg := zctx.From(ctx).With(zap.String("driver", cfg.Driver))

	switch cfg.Driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		lg.Info("Storage ready")
		return &Stores{
			Products: postgres.NewProductRepository(pool),
			Carts:    postgres.NewCartRepository(pool),
			Coupons:  postgres.NewCouponRepository(pool),
			Orders:   postgres.NewOrderRepository(pool),
			Sessions: postgres.NewSessionRepository(pool),
			APIKeys:  postgres.NewAPIKeyRepository(pool),
			Ping:     pool.Ping,
			close:    func(context.Context) { pool.Close() },
		}, nil

	case "mongo":
		db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, errors.Wrap(err, "connect mongo")
		}
		if err := mongodb.EnsureIndexes(ctx, db); err != nil {
			_ = db.Client().Disconnect(context.WithoutCancel(ctx))
			return nil, errors.Wrap(err, "ensure indexes")
		}
		lg.Info("Storage ready", zap.String("database", cfg.MongoDatabase))
		return &Stores{
			Products: mongodb.NewProductRepository(db),
			Carts:    mongodb.NewCartRepository(db),
			Coupons:  mongodb.NewCouponRepository(db),
			Orders:   mongodb.NewOrderRepository(db),
			Sessions: mongodb.NewSessionRepository(db),
			APIKeys:  mongodb.NewAPIKeyRepository(db),
			Ping:     func(ctx context.Context) error { return mongodb.Ping(ctx, db) },
			close: func(ctx context.Context) {
				if err := db.Client().Disconnect(ctx); err != nil {
					lg.Warn("Mongo disconnect failed", zap.Error(err))
				}
			},
		}, nil
	}
	return nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
}
