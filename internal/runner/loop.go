package runner

import (
	"context"
	"time"

	"trailbot/internal/candles"
	"trailbot/internal/models"
	healthsvc "trailbot/internal/modules/health/service"
	"trailbot/internal/ratelimit"
	"trailbot/pkg/logger"
)

// minuteLoop fires one evaluation right after every minute boundary.
// The offset gives the exchange time to close the candle before we ask
// for it.
func (r *Runner) minuteLoop() {
	defer r.wg.Done()

	for {
		wait := r.untilNextCycle()
		select {
		case <-r.ctx.Done():
			return
		case <-time.After(wait):
		}

		if !r.markEval() {
			logger.Error("evaluation still in flight, skipping cycle")
			continue
		}
		func() {
			defer r.clearEval()
			ctx, cancel := context.WithTimeout(r.ctx, r.cfg.Loop.FetchTimeout)
			defer cancel()
			if err := r.evaluateCycle(ctx); err != nil {
				healthsvc.CycleErrors.Inc()
				logger.Error("evaluation cycle: %v", err)
			}
		}()
	}
}

func (r *Runner) untilNextCycle() time.Duration {
	now := r.now()
	next := now.Truncate(time.Minute).Add(time.Minute).Add(r.cfg.Loop.CycleOffset)
	return next.Sub(now)
}

// trailLoop polls the position between evaluation cycles. It parks
// itself when the caller reports too many consecutive failures; the
// next successful evaluation cycle resets the counter and revives it.
func (r *Runner) trailLoop() {
	defer r.wg.Done()

	t := time.NewTicker(r.cfg.Loop.TrailPoll)
	defer t.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-t.C:
		}

		if !r.trail.Active() {
			continue
		}
		if ceil := r.cfg.Loop.ErrorCeiling; ceil > 0 && r.caller.ConsecutiveErrors() >= ceil {
			r.setTrailStopped(true)
			continue
		}
		r.setTrailStopped(false)

		if !r.markTrail() {
			continue
		}
		func() {
			defer r.clearTrail()
			ctx, cancel := context.WithTimeout(r.ctx, r.cfg.Loop.FetchTimeout)
			defer cancel()
			r.trailTick(ctx)
		}()
	}
}

func (r *Runner) trailTick(ctx context.Context) {
	if filled, err := r.trail.CheckFilled(ctx); err != nil {
		logger.Error("trail fill check: %v", err)
		return
	} else if filled {
		return
	}

	// prefer the streamed price, it is fresher and costs no request
	ticker, ok := r.streamedTicker()
	if !ok {
		var err error
		ticker, err = r.fetchTicker(ctx)
		if err != nil {
			logger.Error("trail ticker: %v", err)
			return
		}
	}

	snap := r.snapshot()
	if err := r.trail.Poll(ctx, ticker.Price, snap); err != nil {
		logger.Error("trail poll: %v", err)
	}
}

// streamLoop keeps the latest websocket tick around for the trail loop.
// The stream reconnects on its own; the channel closes with the context.
func (r *Runner) streamLoop() {
	defer r.wg.Done()

	for tk := range r.ex.StreamTicker(r.ctx, r.cfg.Trading.ProductID) {
		r.mu.Lock()
		r.wsTick = tk
		r.mu.Unlock()
	}
}

// streamedTicker returns the last websocket tick if it is younger than
// one poll interval, otherwise the caller falls back to REST.
func (r *Runner) streamedTicker() (models.Ticker, bool) {
	r.mu.Lock()
	tk := r.wsTick
	r.mu.Unlock()

	if tk.Price <= 0 || r.now().Sub(tk.At) > r.cfg.Loop.TrailPoll {
		return models.Ticker{}, false
	}
	return tk, true
}

// watchdog clears in-flight flags that outlive the fetch timeout, so a
// wedged cycle cannot starve every later one.
func (r *Runner) watchdog() {
	defer r.wg.Done()

	t := time.NewTicker(5 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-t.C:
		}

		limit := 2 * r.cfg.Loop.FetchTimeout
		now := r.now()

		r.mu.Lock()
		if !r.evalSince.IsZero() && now.Sub(r.evalSince) > limit {
			logger.Error("watchdog: evaluation stuck for %s, clearing flag", now.Sub(r.evalSince).Round(time.Second))
			r.evalSince = time.Time{}
		}
		if !r.trailSince.IsZero() && now.Sub(r.trailSince) > limit {
			logger.Error("watchdog: trail poll stuck for %s, clearing flag", now.Sub(r.trailSince).Round(time.Second))
			r.trailSince = time.Time{}
		}
		r.mu.Unlock()
	}
}

func (r *Runner) markEval() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.evalSince.IsZero() {
		return false
	}
	r.evalSince = r.now()
	return true
}

func (r *Runner) clearEval() {
	r.mu.Lock()
	r.evalSince = time.Time{}
	r.mu.Unlock()
}

func (r *Runner) markTrail() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.trailSince.IsZero() {
		return false
	}
	r.trailSince = r.now()
	return true
}

func (r *Runner) clearTrail() {
	r.mu.Lock()
	r.trailSince = time.Time{}
	r.mu.Unlock()
}

func (r *Runner) setTrailStopped(v bool) {
	r.mu.Lock()
	if v && !r.trailStopped {
		logger.Error("trail poll parked: %d consecutive exchange errors", r.caller.ConsecutiveErrors())
	}
	r.trailStopped = v
	r.mu.Unlock()
}

// fetchWindow pulls one batch of candles into the store and persists.
func (r *Runner) fetchWindow(ctx context.Context, store *candles.Store, granularity, limit int) error {
	var rows []map[string]any
	err := r.caller.Do(ctx, ratelimit.Call{
		Name:     "get_candles",
		Priority: 2,
		Critical: true,
		Fn: func(ctx context.Context) error {
			var err error
			rows, err = r.ex.GetCandles(ctx, r.cfg.Trading.ProductID, granularity, limit)
			return err
		},
	})
	if err != nil {
		return err
	}

	store.IngestRaw(rows)
	if err := store.Persist(); err != nil {
		logger.Error("candle persist: %v", err)
	}
	return nil
}
