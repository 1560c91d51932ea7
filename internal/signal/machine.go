package signal

import (
	"fmt"
	"math"
	"sync"
	"time"

	"trailbot/internal/models"
	"trailbot/internal/scoring"
	"trailbot/pkg/logger"
)

const (
	pendingMax    = 5
	pendingTTL    = 5 * time.Minute
	dedupeWindow  = 10 * time.Second
	priceEpsilon  = 1e-8
	scoreEpsilon  = 1e-6
	confirmMinGap = time.Minute

	maxConfirmations = 2

	// price running away before confirmation cancels the signal
	runawayPct = 0.5
	// an unconfirmed signal goes stale after this
	staleAfter = time.Hour
	// executed-buy idempotency keys are pruned after this
	processedTTL = 10 * time.Minute
)

// Decision — what the evaluation loop should do after one cycle.
type Decision struct {
	ExecuteBuy bool
	BuyPrice   float64
	Reset      bool
	Reason     string
}

// Machine tracks the pending-signal queue and the single active buy
// signal across evaluation cycles. Confirmation spans cycles: two
// qualifying evaluations at least a minute apart inside the pending
// window, or the active signal re-qualifying a minute after its last
// confirmation. After a fill the signal stays active; each further buy
// needs a fresh confirmed pair and folds into the same position.
type Machine struct {
	mu sync.Mutex

	pending   []models.PendingSignal
	active    models.ActiveBuySignal
	processed map[string]time.Time
	lastBuyAt time.Time

	seq int64

	now func() time.Time
}

func NewMachine() *Machine {
	return &Machine{
		processed: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Evaluate runs one cycle of the state machine against the composite
// score. It never blocks and never touches the exchange; the returned
// Decision tells the caller what to do.
func (m *Machine) Evaluate(price float64, b models.ScoreBreakdown) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.prune(now)

	// resets come first: a signal we are about to drop must not confirm
	if m.active.IsActive && m.active.Confirmations < maxConfirmations {
		if pct := (price - m.active.SignalPrice) / m.active.SignalPrice * 100; pct >= runawayPct {
			m.resetLocked()
			return Decision{Reset: true, Reason: fmt.Sprintf("price ran %.2f%% above signal before confirmation", pct)}
		}
		if now.Sub(m.active.SignalTime) > staleAfter {
			m.resetLocked()
			return Decision{Reset: true, Reason: "signal stale: no confirmation within 1h"}
		}
	}

	qualifiesNew := scoring.IsBuySignal(b)
	qualifiesActive := m.active.IsActive && scoring.QualifiesReconfirm(b)
	if !qualifiesNew && !qualifiesActive {
		return Decision{}
	}

	ps := m.pushPendingLocked(price, b, now)

	if !m.active.IsActive {
		if !qualifiesNew {
			return Decision{}
		}
		m.active = models.ActiveBuySignal{
			IsActive:             true,
			SignalPrice:          price,
			SignalTime:           now,
			Confirmations:        1,
			LastConfirmationTime: now,
		}
		logger.Info("signal opened @ %.8f score=%.2f", price, b.Total)
		return Decision{}
	}

	confirmed := false

	// path (a): a distinct, older pending signal backs this one up
	if ps != nil {
		for _, prev := range m.pending {
			if prev.ID == ps.ID {
				continue
			}
			if ps.Timestamp.Sub(prev.Timestamp) >= confirmMinGap && prev.Score >= scoring.ReconfirmThreshold {
				confirmed = true
				break
			}
		}
	}

	// path (b): the active signal keeps qualifying a minute after the
	// previous confirmation. Only before the first fill: adding to an
	// open position takes a fresh pending pair via path (a).
	if !confirmed && m.lastBuyAt.IsZero() && qualifiesActive && now.Sub(m.active.LastConfirmationTime) >= confirmMinGap {
		confirmed = true
	}

	if !confirmed {
		return Decision{}
	}

	m.active.Confirmations++
	if m.active.Confirmations > maxConfirmations {
		m.active.Confirmations = maxConfirmations
	}
	m.active.LastConfirmationTime = now
	logger.Info("signal confirmed %d/%d @ %.8f", m.active.Confirmations, maxConfirmations, price)

	if m.active.Confirmations < maxConfirmations {
		return Decision{}
	}

	// confirmed buy fires exactly once per price+timestamp
	key := fmt.Sprintf("%.8f:%d", price, now.Unix())
	if _, done := m.processed[key]; done {
		return Decision{}
	}
	m.processed[key] = now
	m.lastBuyAt = now
	m.pending = nil
	return Decision{ExecuteBuy: true, BuyPrice: price, Reason: "confirmed buy"}
}

// RecordFill folds one executed entry into the position accumulation:
// weighted-average price, incremented buy count.
func (m *Machine) RecordFill(price, quantity float64, orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active.IsActive {
		m.active.IsActive = true
		m.active.SignalPrice = price
		m.active.SignalTime = m.now()
		m.active.Confirmations = maxConfirmations
	}
	m.active.TotalInvested += price * quantity
	m.active.TotalQuantity += quantity
	if m.active.TotalQuantity > 0 {
		m.active.AveragePrice = m.active.TotalInvested / m.active.TotalQuantity
	}
	m.active.BuyCount++
	m.active.OrderIDs = append(m.active.OrderIDs, orderID)
}

// MarkSold closes the signal cycle after a completed sell.
func (m *Machine) MarkSold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

// MarkInsufficientFunds resets the signal when execution could not fund
// the order.
func (m *Machine) MarkInsufficientFunds() {
	m.mu.Lock()
	defer m.mu.Unlock()
	logger.Info("signal reset: insufficient funds")
	m.resetLocked()
}

// Active returns a copy of the active signal for status surfaces.
func (m *Machine) Active() models.ActiveBuySignal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.active
	out.OrderIDs = append([]string(nil), m.active.OrderIDs...)
	return out
}

func (m *Machine) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// pushPendingLocked appends the evaluation to the pending queue unless
// it is a near-duplicate of a very recent entry. Returns the stored
// signal, or nil when deduplicated away.
func (m *Machine) pushPendingLocked(price float64, b models.ScoreBreakdown, now time.Time) *models.PendingSignal {
	for i := range m.pending {
		p := &m.pending[i]
		if now.Sub(p.Timestamp) <= dedupeWindow &&
			math.Abs(p.Price-price) <= priceEpsilon &&
			math.Abs(p.Score-b.Total) <= scoreEpsilon {
			return nil
		}
	}

	m.seq++
	ps := models.PendingSignal{
		ID:        fmt.Sprintf("sig-%d-%d", now.UnixNano(), m.seq),
		Price:     price,
		Timestamp: now,
		Score:     b.Total,
		Breakdown: b,
	}
	m.pending = append(m.pending, ps)
	if len(m.pending) > pendingMax {
		m.pending = m.pending[len(m.pending)-pendingMax:]
	}
	return &m.pending[len(m.pending)-1]
}

func (m *Machine) prune(now time.Time) {
	kept := m.pending[:0]
	for _, p := range m.pending {
		if now.Sub(p.Timestamp) <= pendingTTL {
			kept = append(kept, p)
		}
	}
	m.pending = kept

	for k, at := range m.processed {
		if now.Sub(at) > processedTTL {
			delete(m.processed, k)
		}
	}
}

func (m *Machine) resetLocked() {
	m.active = models.ActiveBuySignal{}
	m.pending = nil
	m.lastBuyAt = time.Time{}
}
