package telegram_bot

import (
	"context"

	"go.uber.org/fx"

	"trailbot/internal/modules/config"
	"trailbot/internal/modules/telegram_bot/service"
	"trailbot/internal/runner"
	"trailbot/pkg/logger"
)

// Module wires the chat surface. No token means no telegram: the bot
// trades silently and commands are unavailable.
func Module() fx.Option {
	return fx.Module("telegram_bot",
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, r *runner.Runner, ctx context.Context) error {
			if cfg.Telegram.Token == "" {
				logger.Info("telegram token empty, chat surface disabled")
				return nil
			}

			tg, err := service.NewTelegram(cfg, r)
			if err != nil {
				return err
			}
			r.SetNotifier(tg)

			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						if err := tg.Start(ctx); err != nil {
							logger.Error("telegram: %v", err)
						}
					}()
					return nil
				},
				OnStop: func(context.Context) error {
					tg.Stop()
					return nil
				},
			})
			return nil
		}),
	)
}
