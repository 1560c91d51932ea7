package main

import (
	"context"
	"log"

	"go.uber.org/fx"

	"trailbot/internal/modules/config"
	"trailbot/internal/modules/health"
	"trailbot/internal/modules/postgres"
	telegram "trailbot/internal/modules/telegram_bot"
	"trailbot/internal/runner"
	"trailbot/pkg/logger"
	"trailbot/pkg/tracing"
)

func main() {
	logger.SetServiceName("trailbot")

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		fx.Invoke(func(cfg *config.Config, lc fx.Lifecycle) error {
			logger.Init(cfg.LogFile)

			if cfg.Jaeger.Host == "" {
				return nil
			}
			_, closeTracer, err := tracing.InitTracer(tracing.Config{
				Host: cfg.Jaeger.Host,
				Port: cfg.Jaeger.Port,
			})
			if err != nil {
				return err
			}
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					closeTracer()
					return nil
				},
			})
			return nil
		}),
		postgres.Module(),
		runner.Module(),
		health.Module(),
		telegram.Module(),
	)
	if err := app.Err(); err != nil {
		log.Fatal(err)
	}
	app.Run()
}
