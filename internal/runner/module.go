package runner

import (
	"context"

	"go.uber.org/fx"

	"trailbot/internal/exchange"
	"trailbot/internal/history"
	"trailbot/internal/modules/config"
	"trailbot/internal/orders"
	"trailbot/internal/ratelimit"
	"trailbot/internal/trailing"
	"trailbot/pkg/db"
)

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			exchange.New,
			func(cfg *config.Config) *ratelimit.Caller {
				return ratelimit.New(cfg.RateLimit.BaseInterval, cfg.RateLimit.MaxAttempts)
			},
			func(tx *db.PgTxManager) history.Journal {
				return history.New(tx)
			},
			func(ex *exchange.Client, cfg *config.Config) *orders.Executor {
				return orders.NewExecutor(ex, cfg)
			},
			func(ex *exchange.Client, caller *ratelimit.Caller, cfg *config.Config) *trailing.Engine {
				return trailing.NewEngine(ex, caller, cfg)
			},
			func(
				cfg *config.Config,
				ex *exchange.Client,
				caller *ratelimit.Caller,
				executor *orders.Executor,
				trail *trailing.Engine,
				journal history.Journal,
			) *Runner {
				r := New(cfg, ex, caller, executor, trail, journal)
				trail.OnClosed = r.OnPositionClosed
				return r
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, r *Runner, ctx context.Context) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					return r.Start(ctx)
				},
				OnStop: func(stopCtx context.Context) error {
					return r.Stop(stopCtx)
				},
			})
		}),
	)
}
