package main

import (
	"context"
	"log"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"trailbot/internal/candles"
	"trailbot/internal/exchange"
	"trailbot/internal/modules/config"
	"trailbot/pkg/logger"
)

// backfill fetches one batch of candles and writes the cache files the
// bot loads on startup. Useful before first launch and after long
// downtime, so the bot does not start on an empty window.
func main() {
	pflag.String("product", "BTC-USDT", "product id, BASE-QUOTE")
	pflag.String("cache-dir", "cache", "cache directory")
	pflag.String("base-url", "https://api.exchange.local", "exchange REST base url")
	pflag.Duration("timeout", 30*time.Second, "fetch timeout")
	pflag.Parse()

	v := viper.New()
	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		log.Fatal(err)
	}
	v.SetEnvPrefix("BACKFILL")
	v.AutomaticEnv()

	logger.SetServiceName("trailbot-backfill")
	logger.Init("")

	if err := run(v); err != nil {
		logger.Fatal("backfill: %v", err)
	}
}

func run(v *viper.Viper) error {
	cfg := &config.Config{}
	cfg.Trading.ProductID = v.GetString("product")
	cfg.Trading.CacheDir = v.GetString("cache-dir")
	cfg.Exchange.BaseURL = v.GetString("base-url")

	ctx, cancel := context.WithTimeout(context.Background(), v.GetDuration("timeout"))
	defer cancel()

	ex := exchange.New(cfg)

	windows := []struct {
		granularity int
		name        string
		capSize     int
	}{
		{60, "1m", candles.ShortWindowCap},
		{3600, "1h", candles.HourlyWindowCap},
	}

	for _, w := range windows {
		rows, err := ex.GetCandles(ctx, cfg.Trading.ProductID, w.granularity, w.capSize)
		if err != nil {
			return errors.Wrapf(err, "fetch %s candles", w.name)
		}

		store := candles.NewStore(cfg.Trading.ProductID, w.name, w.capSize, cfg.Trading.CacheDir)
		store.Load()
		accepted := store.IngestRaw(rows)
		if err := store.Persist(); err != nil {
			return errors.Wrapf(err, "persist %s cache", w.name)
		}
		logger.Info("%s: %d rows accepted, window now %d candles", w.name, accepted, store.Len())
	}
	return nil
}
