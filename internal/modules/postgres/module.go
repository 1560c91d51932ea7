package postgres

import (
	"context"
	"fmt"

	"trailbot/internal/modules/config"
	"trailbot/pkg/db"
	"trailbot/pkg/logger"

	"go.uber.org/fx"
)

// Module provides the master tx manager. No DSN is fine: the journal
// falls back to memory and the bot runs without a database.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(ctx context.Context, cfg *config.Config) (*db.PgTxManager, error) {
				if cfg.DB == "" {
					logger.Info("no database dsn, trade journal is in-memory only")
					return nil, nil
				}
				poolMaster, err := db.NewPool(ctx, db.PoolConfig{
					DSN: cfg.DB,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to create poolMaster: %w", err)
				}

				if err = poolMaster.Ping(ctx); err != nil {
					return nil, err
				}

				return db.NewPgTxManager(poolMaster), nil
			},
		),
	)
}
