package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"trailbot/internal/helper"
	"trailbot/internal/models"
	"trailbot/internal/modules/config"
	"trailbot/pkg/logger"
)

// ErrInsufficientFunds — the quote balance cannot cover even the
// minimum order size. The signal machine resets on it instead of
// retrying.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrCooldown          = errors.New("entry cooldown")
)

// Exchange is the slice of the REST binding the executor needs.
type Exchange interface {
	SubmitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
	GetAccountBalances(ctx context.Context) (map[string]models.Balance, error)
}

// Executor sizes and places entries, and parks the protective exit
// order right after a fill.
type Executor struct {
	ex  Exchange
	cfg *config.Config

	mu        sync.Mutex
	lastEntry time.Time

	now func() time.Time
}

func NewExecutor(ex Exchange, cfg *config.Config) *Executor {
	return &Executor{ex: ex, cfg: cfg, now: time.Now}
}

// PlaceEntry buys at market for OrderPct of the available quote
// balance, clamped to [MinSize, available] and truncated to the size
// step. Entries inside the cooldown window are refused.
func (e *Executor) PlaceEntry(ctx context.Context, price float64) (models.Order, error) {
	e.mu.Lock()
	if cool := e.cfg.Trading.EntryCooldown; cool > 0 && e.now().Sub(e.lastEntry) < cool {
		e.mu.Unlock()
		return models.Order{}, fmt.Errorf("%w: last entry %s ago", ErrCooldown, e.now().Sub(e.lastEntry).Round(time.Second))
	}
	e.mu.Unlock()

	balances, err := e.ex.GetAccountBalances(ctx)
	if err != nil {
		return models.Order{}, fmt.Errorf("entry balances: %w", err)
	}
	quote := balances[e.cfg.QuoteCurrency()]

	size, err := e.entrySize(quote.Available, price)
	if err != nil {
		return models.Order{}, err
	}

	order, err := e.ex.SubmitOrder(ctx, models.OrderRequest{
		ProductID: e.cfg.Trading.ProductID,
		Side:      models.SideBuy,
		Type:      "market",
		Size:      size,
	})
	if err != nil {
		return models.Order{}, fmt.Errorf("entry submit: %w", err)
	}

	e.mu.Lock()
	e.lastEntry = e.now()
	e.mu.Unlock()

	logger.Info("entry placed id=%s size=%.8f @ ~%.2f", order.OrderID, size, price)
	return order, nil
}

// PlaceExit parks a post-only limit sell at the configured profit
// target above the entry. Fill-tracking and trailing take over from
// there.
func (e *Executor) PlaceExit(ctx context.Context, entryPrice, size float64) (models.Order, error) {
	target := entryPrice * (1 + e.cfg.Trading.ProfitTargetPct/100)
	target = helper.QuantizeUp(target, e.cfg.Trading.PriceStep)
	size = helper.QuantizeDown(size, e.cfg.Trading.SizeStep)
	if size <= 0 {
		return models.Order{}, fmt.Errorf("exit size truncated to zero")
	}

	order, err := e.ex.SubmitOrder(ctx, models.OrderRequest{
		ProductID: e.cfg.Trading.ProductID,
		Side:      models.SideSell,
		Type:      "limit",
		Size:      size,
		Price:     target,
		PostOnly:  true,
	})
	if err != nil {
		return models.Order{}, fmt.Errorf("exit submit: %w", err)
	}
	logger.Info("exit parked id=%s size=%.8f @ %.2f", order.OrderID, size, target)
	return order, nil
}

func (e *Executor) entrySize(available, price float64) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("entry price %.8f invalid", price)
	}
	spend := available * e.cfg.Trading.OrderPct
	if spend > available {
		spend = available
	}
	size := helper.QuantizeDown(spend/price, e.cfg.Trading.SizeStep)
	if size < e.cfg.Trading.MinSize {
		if helper.QuantizeDown(available/price, e.cfg.Trading.SizeStep) < e.cfg.Trading.MinSize {
			return 0, ErrInsufficientFunds
		}
		size = e.cfg.Trading.MinSize
	}
	return size, nil
}
