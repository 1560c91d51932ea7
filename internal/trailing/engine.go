package trailing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trailbot/internal/helper"
	"trailbot/internal/indicators"
	"trailbot/internal/models"
	"trailbot/internal/modules/config"
	healthsvc "trailbot/internal/modules/health/service"
	"trailbot/internal/ratelimit"
	"trailbot/pkg/logger"
)

// Exchange — the slice of the REST binding the engine drives.
type Exchange interface {
	SubmitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (models.Order, error)
}

// Engine owns the position and its resting sell order. The runner
// feeds it prices; the engine ratchets the stop up, never down, and
// closes the position when the trail dies.
type Engine struct {
	ex     Exchange
	caller *ratelimit.Caller
	cfg    *config.Config

	mu        sync.Mutex
	pos       models.Position
	order     models.TrackedOrder
	lastPrice float64

	// OnClosed fires after the position is gone, with the reason and
	// the price the close was decided at. Set before the first Track.
	OnClosed func(reason string, price float64)

	now func() time.Time
}

func NewEngine(ex Exchange, caller *ratelimit.Caller, cfg *config.Config) *Engine {
	return &Engine{ex: ex, caller: caller, cfg: cfg, now: time.Now}
}

// Track adopts a filled entry and its protective exit order. While a
// position is already open an additional fill folds in at a weighted
// average entry; the resting stop picks up the full size on its next
// move.
func (e *Engine) Track(entryPrice, size float64, exit models.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()

	open := e.pos.Status == models.PositionActive || e.pos.Status == models.PositionTrailing
	if open && e.pos.Size > 0 && size > 0 {
		total := e.pos.Size + size
		e.pos.EntryPrice = (e.pos.EntryPrice*e.pos.Size + entryPrice*size) / total
		e.pos.Size = total
		if entryPrice > e.pos.HighestPrice {
			e.pos.HighestPrice = entryPrice
		}
		if exit.OrderID != "" {
			e.order = models.TrackedOrder{
				OrderID:   exit.OrderID,
				Side:      string(models.SideSell),
				Price:     exit.Price,
				Size:      exit.Size,
				CreatedAt: exit.CreatedAt,
			}
		}
		logger.Info("added %.8f @ %.2f, position now %.8f @ avg %.2f", size, entryPrice, total, e.pos.EntryPrice)
		return
	}

	e.pos = models.Position{
		Status:       models.PositionActive,
		EntryPrice:   entryPrice,
		Size:         size,
		OpenedAt:     e.now(),
		HighestPrice: entryPrice,
	}
	e.order = models.TrackedOrder{
		OrderID:   exit.OrderID,
		Side:      string(models.SideSell),
		Price:     exit.Price,
		Size:      exit.Size,
		CreatedAt: exit.CreatedAt,
	}
	e.lastPrice = 0
	logger.Info("tracking position entry=%.2f size=%.8f exit=%s@%.2f", entryPrice, size, exit.OrderID, exit.Price)
}

// Position returns a snapshot for status surfaces.
func (e *Engine) Position() models.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

// Active reports whether the engine currently owns a position.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos.Status == models.PositionActive || e.pos.Status == models.PositionTrailing
}

// Poll runs one trailing evaluation at the given price. Safe to call
// on every tick; it no-ops without a position.
func (e *Engine) Poll(ctx context.Context, price float64, snap *indicators.Snapshot) error {
	e.mu.Lock()
	if e.pos.Status != models.PositionActive && e.pos.Status != models.PositionTrailing {
		e.mu.Unlock()
		return nil
	}

	now := e.now()
	e.updateExtremesLocked(price, now)
	dec := decide(e.cfg, e.pos, e.order.Price, price, snap, now)
	e.mu.Unlock()

	switch {
	case dec.StartTrail:
		e.startTrail(price, snap, now)
		return nil
	case dec.MoveStop:
		return e.moveStop(ctx, dec, price, now)
	case dec.Close:
		return e.closePosition(ctx, dec.Reason, price)
	}
	return nil
}

// CheckFilled polls the resting order; a fill ends the position.
func (e *Engine) CheckFilled(ctx context.Context) (bool, error) {
	e.mu.Lock()
	id := e.order.OrderID
	active := e.pos.Status == models.PositionActive || e.pos.Status == models.PositionTrailing
	e.mu.Unlock()
	if !active || id == "" {
		return false, nil
	}

	var order models.Order
	err := e.caller.Do(ctx, ratelimit.Call{
		Name:     "get_order",
		Priority: 2,
		Fn: func(ctx context.Context) error {
			var err error
			order, err = e.ex.GetOrder(ctx, id)
			return err
		},
	})
	if err != nil {
		return false, err
	}
	if order.Status != models.OrderFilled {
		return false, nil
	}

	e.finish("stop filled", order.Price)
	return true, nil
}

func (e *Engine) startTrail(price float64, snap *indicators.Snapshot, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pos.Status = models.PositionTrailing
	e.pos.TrailStartPrice = price
	e.pos.TrailStartTime = now
	e.pos.TrailHighPrice = price
	e.pos.TrailHighTime = now
	if snap != nil {
		e.pos.TrailStartVolume = snap.LastVolume
	}
	e.pos.StopMoves = 0
	e.pos.ConsecutiveDownMoves = 0
	logger.Info("trailing started @ %.2f (entry %.2f)", price, e.pos.EntryPrice)
}

// moveStop replaces the resting sell: cancel, then place at the new
// level. A cancel that fails means the old order is probably filled,
// so the position is treated as closed.
func (e *Engine) moveStop(ctx context.Context, dec Decision, price float64, now time.Time) error {
	e.mu.Lock()
	oldID := e.order.OrderID
	oldPrice := e.order.Price
	size := e.pos.Size
	e.mu.Unlock()

	newStop := helper.QuantizeUp(dec.NewStop, e.cfg.Trading.PriceStep)

	if oldID != "" {
		err := e.caller.Do(ctx, ratelimit.Call{
			Name:     "cancel_stop",
			Priority: 1,
			Fn: func(ctx context.Context) error {
				return e.ex.CancelOrder(ctx, oldID)
			},
		})
		if err != nil {
			logger.Error("cancel %s failed, assuming fill: %v", oldID, err)
			e.finish("stop filled during replace", oldPrice)
			return nil
		}
		// the old order is off the book; a later close must not read
		// its absence as a fill
		e.mu.Lock()
		e.order = models.TrackedOrder{}
		e.mu.Unlock()
	}

	var placed models.Order
	err := e.caller.Do(ctx, ratelimit.Call{
		Name:     "place_stop",
		Priority: 1,
		Critical: true,
		Fn: func(ctx context.Context) error {
			var err error
			placed, err = e.ex.SubmitOrder(ctx, models.OrderRequest{
				ProductID: e.cfg.Trading.ProductID,
				Side:      models.SideSell,
				Type:      "limit",
				Size:      size,
				Price:     newStop,
				PostOnly:  true,
			})
			return err
		},
	})
	if err != nil {
		// naked position: close at market rather than hold unprotected
		logger.Error("replace stop failed, closing at market: %v", err)
		return e.closePosition(ctx, "stop replace failed", price)
	}

	e.mu.Lock()
	e.pos.CurrentStopPrice = newStop
	e.pos.LastStopMove = now
	e.pos.StopMoves++
	e.order = models.TrackedOrder{
		OrderID:   placed.OrderID,
		Side:      string(models.SideSell),
		Price:     newStop,
		Size:      size,
		CreatedAt: now,
	}
	e.mu.Unlock()

	healthsvc.StopMovesTotal.Inc()
	logger.Info("stop moved -> %.2f (%s)", newStop, dec.Reason)
	return nil
}

func (e *Engine) closePosition(ctx context.Context, reason string, price float64) error {
	e.mu.Lock()
	oldID := e.order.OrderID
	oldPrice := e.order.Price
	size := e.pos.Size
	e.mu.Unlock()

	if oldID != "" {
		err := e.caller.Do(ctx, ratelimit.Call{
			Name:     "cancel_stop",
			Priority: 1,
			Fn: func(ctx context.Context) error {
				return e.ex.CancelOrder(ctx, oldID)
			},
		})
		if err != nil {
			// already filled: nothing left to sell
			logger.Error("cancel %s on close failed, assuming fill: %v", oldID, err)
			e.finish("stop filled during close", oldPrice)
			return nil
		}
		// gone from the book; a retry after a failed market sell must
		// not cancel again and mistake the refusal for a fill
		e.mu.Lock()
		e.order = models.TrackedOrder{}
		e.mu.Unlock()
	}

	err := e.caller.Do(ctx, ratelimit.Call{
		Name:     "close_market",
		Priority: 1,
		Critical: true,
		Fn: func(ctx context.Context) error {
			_, err := e.ex.SubmitOrder(ctx, models.OrderRequest{
				ProductID: e.cfg.Trading.ProductID,
				Side:      models.SideSell,
				Type:      "market",
				Size:      size,
			})
			return err
		},
	})
	if err != nil {
		return fmt.Errorf("close position: %w", err)
	}

	e.finish(reason, price)
	return nil
}

func (e *Engine) finish(reason string, price float64) {
	e.mu.Lock()
	e.pos.Status = models.PositionClosed
	e.order = models.TrackedOrder{}
	cb := e.OnClosed
	e.mu.Unlock()

	logger.Info("position closed: %s @ %.2f", reason, price)
	if cb != nil {
		cb(reason, price)
	}
}

func (e *Engine) updateExtremesLocked(price float64, now time.Time) {
	if price > e.pos.HighestPrice {
		e.pos.HighestPrice = price
	}
	if e.pos.Status == models.PositionTrailing {
		if price > e.pos.TrailHighPrice {
			e.pos.TrailHighPrice = price
			e.pos.TrailHighTime = now
		}
		if e.pos.TrailHighPrice > 0 {
			if dd := (e.pos.TrailHighPrice - price) / e.pos.TrailHighPrice * 100; dd > e.pos.MaxDrawdownPct {
				e.pos.MaxDrawdownPct = dd
			}
		}
		switch {
		case e.lastPrice > 0 && price < e.lastPrice:
			e.pos.ConsecutiveDownMoves++
		case price > e.lastPrice:
			e.pos.ConsecutiveDownMoves = 0
		}
	}
	e.lastPrice = price
}
