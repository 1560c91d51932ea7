package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"

	"trailbot/internal/history"
	"trailbot/internal/indicators"
	"trailbot/internal/models"
	healthsvc "trailbot/internal/modules/health/service"
	"trailbot/internal/orders"
	"trailbot/internal/ratelimit"
	"trailbot/internal/scoring"
	"trailbot/pkg/logger"
)

// per-cycle fetch: enough overlap to survive a missed minute or two
const candleFetchBatch = 5

// evaluateCycle is one pass of the signal pipeline: refresh candles,
// compute indicators, score, feed the state machine and act on its
// decision.
func (r *Runner) evaluateCycle(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "evaluate_cycle")
	defer span.Finish()

	if err := r.fetchWindow(ctx, r.short, shortGranularity, candleFetchBatch); err != nil {
		return fmt.Errorf("fetch 1m: %w", err)
	}
	if r.hourlyDue() {
		if err := r.fetchWindow(ctx, r.hourly, hourlyGranularity, 2); err != nil {
			logger.Error("fetch 1h: %v", err)
		} else {
			r.mu.Lock()
			r.hourlyFetch = r.now()
			r.mu.Unlock()
		}
	}

	ticker, err := r.fetchTicker(ctx)
	if err != nil {
		return fmt.Errorf("fetch ticker: %w", err)
	}

	short := r.short.All()
	hourly := r.hourly.All()
	snap := indicators.Compute(short)
	breakdown := scoring.Evaluate(ticker.Price, snap, short, hourly)

	r.mu.Lock()
	r.lastPrice = ticker.Price
	r.lastScore = breakdown
	r.lastCycle = r.now()
	r.mu.Unlock()

	healthsvc.CyclesTotal.Inc()
	healthsvc.SignalScore.Set(breakdown.Total)
	healthsvc.LastPrice.Set(ticker.Price)
	if r.health != nil {
		r.health.TouchCycle(r.now())
	}

	span.SetTag("price", ticker.Price)
	span.SetTag("score", breakdown.Total)

	dec := r.machine.Evaluate(ticker.Price, breakdown)
	if dec.Reset {
		logger.Info("signal reset: %s", dec.Reason)
		r.notifyF("signal reset: %s", dec.Reason)
		return nil
	}
	if !dec.ExecuteBuy {
		return nil
	}

	return r.executeBuy(ctx, dec.BuyPrice)
}

// executeBuy places the entry, records the fill and parks the
// protective exit. Exit failure does not roll the entry back; the
// trailing poll keeps watching the naked position.
func (r *Runner) executeBuy(ctx context.Context, price float64) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "execute_buy")
	defer span.Finish()

	entry, err := r.executor.PlaceEntry(ctx, price)
	if err != nil {
		if errors.Is(err, orders.ErrInsufficientFunds) {
			r.machine.MarkInsufficientFunds()
			r.notify("buy skipped: insufficient funds, signal reset")
			return nil
		}
		if errors.Is(err, orders.ErrCooldown) {
			logger.Info("buy skipped: %v", err)
			return nil
		}
		return fmt.Errorf("place entry: %w", err)
	}

	fillPrice := entry.Price
	if fillPrice <= 0 {
		fillPrice = price
	}
	healthsvc.BuysTotal.Inc()
	r.machine.RecordFill(fillPrice, entry.Size, entry.OrderID)
	r.mu.Lock()
	score := r.lastScore.Total
	r.mu.Unlock()
	r.record(history.Trade{
		ProductID: r.cfg.Trading.ProductID,
		Side:      string(models.SideBuy),
		Price:     fillPrice,
		Size:      entry.Size,
		Reason:    fmt.Sprintf("confirmed signal, score %.1f/%.0f", score, scoring.MaxScore),
		At:        r.now(),
	})

	// Adding to an open position: fold the fill into the trail and let
	// the resting stop pick up the new size on its next move.
	if r.trail.Active() {
		r.trail.Track(fillPrice, entry.Size, models.Order{})
		r.notifyF("added %.8f @ %.2f to the open position", entry.Size, fillPrice)
		return nil
	}

	exit, err := r.executor.PlaceExit(ctx, fillPrice, entry.Size)
	if err != nil {
		logger.Error("protective exit failed, position unprotected: %v", err)
		r.notifyF("WARNING: bought %.8f @ %.2f but exit order failed: %v", entry.Size, fillPrice, err)
		r.trail.Track(fillPrice, entry.Size, models.Order{})
		return nil
	}

	r.trail.Track(fillPrice, entry.Size, exit)
	r.notifyF("bought %.8f @ %.2f, exit parked @ %.2f", entry.Size, fillPrice, exit.Price)
	return nil
}

// OnPositionClosed is wired as the trailing engine's close callback.
func (r *Runner) OnPositionClosed(reason string, price float64) {
	active := r.machine.Active()
	r.machine.MarkSold()
	healthsvc.SellsTotal.Inc()
	r.record(history.Trade{
		ProductID: r.cfg.Trading.ProductID,
		Side:      string(models.SideSell),
		Price:     price,
		Size:      active.TotalQuantity,
		Reason:    reason,
		At:        r.now(),
	})
	r.notifyF("position closed @ %.2f: %s", price, reason)
}

func (r *Runner) fetchTicker(ctx context.Context) (models.Ticker, error) {
	var ticker models.Ticker
	err := r.caller.Do(ctx, ratelimit.Call{
		Name:     "get_ticker",
		Priority: 1,
		Fn: func(ctx context.Context) error {
			var err error
			ticker, err = r.ex.GetTicker(ctx, r.cfg.Trading.ProductID)
			return err
		},
	})
	return ticker, err
}

// snapshot computes indicators over the current 1m window.
func (r *Runner) snapshot() *indicators.Snapshot {
	short := r.short.All()
	if len(short) == 0 {
		return nil
	}
	snap := indicators.Compute(short)
	return &snap
}

func (r *Runner) hourlyDue() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hourlyFetch.IsZero() || r.now().Sub(r.hourlyFetch) >= time.Hour
}

func (r *Runner) record(t history.Trade) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Record(r.ctx, t); err != nil {
		logger.Error("journal: %v", err)
	}
}
