package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"trailbot/internal/models"
	"trailbot/internal/scoring"
)

// Status — a readable one-shot summary for the /status command.
func (r *Runner) Status() string {
	r.mu.Lock()
	price := r.lastPrice
	score := r.lastScore
	lastCycle := r.lastCycle
	trailStopped := r.trailStopped
	r.mu.Unlock()

	active := r.machine.Active()
	pos := r.trail.Position()

	var b strings.Builder
	fmt.Fprintf(&b, "%s @ %.2f\n", r.cfg.Trading.ProductID, price)
	fmt.Fprintf(&b, "score %.2f/%.0f (tech %.2f, dip %.2f, bonus %.2f, extremes %.2f)\n",
		score.Total, scoring.MaxScore, score.Technical, score.Dip, score.Bonus, score.Extremes)
	if !lastCycle.IsZero() {
		fmt.Fprintf(&b, "last cycle %s ago\n", time.Since(lastCycle).Round(time.Second))
	}
	fmt.Fprintf(&b, "pending signals: %d\n", r.machine.PendingCount())

	if active.IsActive {
		fmt.Fprintf(&b, "signal: %.2f @ %s, %d confirmation(s), %d buy(s), avg %.2f\n",
			active.SignalPrice, active.SignalTime.Format("15:04:05"),
			active.Confirmations, active.BuyCount, active.AveragePrice)
	} else {
		b.WriteString("signal: none\n")
	}

	switch pos.Status {
	case models.PositionActive:
		fmt.Fprintf(&b, "position: holding, entry %.2f size %.8f\n", pos.EntryPrice, pos.Size)
	case models.PositionTrailing:
		fmt.Fprintf(&b, "position: trailing, entry %.2f stop %.2f high %.2f moves %d\n",
			pos.EntryPrice, pos.CurrentStopPrice, pos.TrailHighPrice, pos.StopMoves)
	default:
		b.WriteString("position: none\n")
	}

	if trailStopped {
		b.WriteString("WARNING: trail poll parked on repeated exchange errors\n")
	}
	return b.String()
}

// FormattedBalances — the /balances command body.
func (r *Runner) FormattedBalances(ctx context.Context) (string, error) {
	balances, err := r.ex.GetAccountBalances(ctx)
	if err != nil {
		return "", err
	}
	if len(balances) == 0 {
		return "no balances", nil
	}

	currencies := make([]string, 0, len(balances))
	for c := range balances {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	var b strings.Builder
	for _, c := range currencies {
		bal := balances[c]
		if bal.Available == 0 && bal.Hold == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s: %.8f available, %.8f on hold\n", c, bal.Available, bal.Hold)
	}
	if b.Len() == 0 {
		return "no balances", nil
	}
	return b.String(), nil
}

// FormattedOpenOrders — the /orders command body.
func (r *Runner) FormattedOpenOrders(ctx context.Context) (string, error) {
	open, err := r.ex.ListOpenOrders(ctx, r.cfg.Trading.ProductID)
	if err != nil {
		return "", err
	}
	if len(open) == 0 {
		return "no open orders", nil
	}

	var b strings.Builder
	for _, o := range open {
		fmt.Fprintf(&b, "%s %s %.8f @ %.2f (%s)\n", o.OrderID, o.Side, o.Size, o.Price, o.Status)
	}
	return b.String(), nil
}

// FormattedTrades — the /trades command body, newest first.
func (r *Runner) FormattedTrades(ctx context.Context, limit int) (string, error) {
	if r.journal == nil {
		return "no journal", nil
	}
	trades, err := r.journal.Recent(ctx, limit)
	if err != nil {
		return "", err
	}
	if len(trades) == 0 {
		return "no trades yet", nil
	}

	var b strings.Builder
	for _, t := range trades {
		fmt.Fprintf(&b, "%s %s %.8f @ %.2f | %s\n",
			t.At.Format("01-02 15:04"), t.Side, t.Size, t.Price, t.Reason)
	}
	return b.String(), nil
}
