package runner

import (
	"context"
	"testing"
	"time"

	"trailbot/internal/history"
	"trailbot/internal/indicators"
	"trailbot/internal/models"
	"trailbot/internal/modules/config"
	"trailbot/internal/orders"
	"trailbot/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExchange struct {
	ticker    models.Ticker
	orders    []models.Order
	cancelled []string
}

func (s *stubExchange) GetCandles(context.Context, string, int, int) ([]map[string]any, error) {
	return nil, nil
}
func (s *stubExchange) GetTicker(context.Context, string) (models.Ticker, error) {
	return s.ticker, nil
}
func (s *stubExchange) GetAccountBalances(context.Context) (map[string]models.Balance, error) {
	return map[string]models.Balance{"USDT": {Available: 1000}}, nil
}
func (s *stubExchange) ListOpenOrders(context.Context, string) ([]models.Order, error) {
	return s.orders, nil
}
func (s *stubExchange) CancelOrder(_ context.Context, orderID string) error {
	s.cancelled = append(s.cancelled, orderID)
	return nil
}
func (s *stubExchange) StreamTicker(context.Context, string) <-chan models.Ticker {
	ch := make(chan models.Ticker)
	close(ch)
	return ch
}

type stubExecutor struct {
	entry    models.Order
	entryErr error
	exit     models.Order
	exitErr  error
	entries  int
	exits    int
}

func (s *stubExecutor) PlaceEntry(context.Context, float64) (models.Order, error) {
	if s.entryErr != nil {
		return models.Order{}, s.entryErr
	}
	s.entries++
	return s.entry, nil
}

func (s *stubExecutor) PlaceExit(context.Context, float64, float64) (models.Order, error) {
	if s.exitErr != nil {
		return models.Order{}, s.exitErr
	}
	s.exits++
	return s.exit, nil
}

type stubTrailer struct {
	tracked  []models.Order
	entry    float64
	size     float64
	active   bool
	position models.Position
}

func (s *stubTrailer) Track(entryPrice, size float64, exit models.Order) {
	s.entry, s.size = entryPrice, size
	s.tracked = append(s.tracked, exit)
	s.active = true
}
func (s *stubTrailer) Poll(context.Context, float64, *indicators.Snapshot) error { return nil }
func (s *stubTrailer) CheckFilled(context.Context) (bool, error)                 { return false, nil }
func (s *stubTrailer) Active() bool                                              { return s.active }
func (s *stubTrailer) Position() models.Position                                 { return s.position }

func runnerConfig(t *testing.T) *config.Config {
	cfg := &config.Config{}
	cfg.Trading.ProductID = "BTC-USDT"
	cfg.Trading.CacheDir = t.TempDir()
	cfg.Loop.CycleOffset = 1500 * time.Millisecond
	cfg.Loop.TrailPoll = 30 * time.Second
	cfg.Loop.FetchTimeout = 45 * time.Second
	return cfg
}

func newTestRunner(t *testing.T, ex *stubExchange, exec *stubExecutor, trail *stubTrailer) *Runner {
	r := New(runnerConfig(t), ex, ratelimit.New(time.Millisecond, 2), exec, trail, history.NewMemory())
	r.ctx = context.Background()
	return r
}

func TestUntilNextCycle(t *testing.T) {
	r := newTestRunner(t, &stubExchange{}, &stubExecutor{}, &stubTrailer{})
	r.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 10, 0, time.UTC)
	}
	assert.Equal(t, 51500*time.Millisecond, r.untilNextCycle())
}

func TestExecuteBuyTracksPosition(t *testing.T) {
	exec := &stubExecutor{
		entry: models.Order{OrderID: "buy-1", Price: 100, Size: 0.5},
		exit:  models.Order{OrderID: "exit-1", Price: 105, Size: 0.5},
	}
	trail := &stubTrailer{}
	r := newTestRunner(t, &stubExchange{}, exec, trail)

	require.NoError(t, r.executeBuy(context.Background(), 100))

	assert.Equal(t, 1, exec.entries)
	assert.Equal(t, 1, exec.exits)
	require.Len(t, trail.tracked, 1)
	assert.Equal(t, "exit-1", trail.tracked[0].OrderID)
	assert.Equal(t, 100.0, trail.entry)

	active := r.machine.Active()
	assert.Equal(t, 1, active.BuyCount)
	assert.Equal(t, 100.0, active.AveragePrice)

	trades, err := r.journal.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "BUY", trades[0].Side)
}

func TestExecuteBuyInsufficientFundsResets(t *testing.T) {
	exec := &stubExecutor{entryErr: orders.ErrInsufficientFunds}
	r := newTestRunner(t, &stubExchange{}, exec, &stubTrailer{})

	require.NoError(t, r.executeBuy(context.Background(), 100))
	assert.False(t, r.machine.Active().IsActive)
}

func TestExecuteBuyExitFailureStillTracks(t *testing.T) {
	exec := &stubExecutor{
		entry:   models.Order{OrderID: "buy-1", Price: 100, Size: 0.5},
		exitErr: assert.AnError,
	}
	trail := &stubTrailer{}
	r := newTestRunner(t, &stubExchange{}, exec, trail)

	require.NoError(t, r.executeBuy(context.Background(), 100))

	// entry is not rolled back: the engine watches the naked position
	require.Len(t, trail.tracked, 1)
	assert.Empty(t, trail.tracked[0].OrderID)
	assert.Equal(t, 1, r.machine.Active().BuyCount)
}

func TestExecuteBuyAccumulatesWhilePositionOpen(t *testing.T) {
	exec := &stubExecutor{
		entry: models.Order{OrderID: "buy-2", Price: 110, Size: 0.25},
		exit:  models.Order{OrderID: "exit-2", Price: 115, Size: 0.25},
	}
	trail := &stubTrailer{active: true}
	r := newTestRunner(t, &stubExchange{}, exec, trail)
	r.machine.RecordFill(100, 0.5, "buy-1")

	require.NoError(t, r.executeBuy(context.Background(), 110))

	// no second protective exit: the resting stop absorbs the added size
	assert.Equal(t, 0, exec.exits)
	require.Len(t, trail.tracked, 1)
	assert.Empty(t, trail.tracked[0].OrderID)
	assert.Equal(t, 110.0, trail.entry)

	active := r.machine.Active()
	assert.Equal(t, 2, active.BuyCount)
	assert.InDelta(t, (100*0.5+110*0.25)/0.75, active.AveragePrice, 1e-9)
}

func TestExecuteBuyCooldownSkips(t *testing.T) {
	exec := &stubExecutor{entryErr: orders.ErrCooldown}
	trail := &stubTrailer{}
	r := newTestRunner(t, &stubExchange{}, exec, trail)

	require.NoError(t, r.executeBuy(context.Background(), 100))
	assert.Empty(t, trail.tracked)
	assert.Equal(t, 0, r.machine.Active().BuyCount)
}

func TestOnPositionClosedJournalsSell(t *testing.T) {
	r := newTestRunner(t, &stubExchange{}, &stubExecutor{}, &stubTrailer{})
	r.machine.RecordFill(100, 0.5, "buy-1")

	r.OnPositionClosed("stop filled", 108)

	assert.False(t, r.machine.Active().IsActive)
	trades, err := r.journal.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "SELL", trades[0].Side)
	assert.Equal(t, 108.0, trades[0].Price)
	assert.Equal(t, 0.5, trades[0].Size)
}

func TestStopCancelsOpenOrders(t *testing.T) {
	ex := &stubExchange{orders: []models.Order{
		{OrderID: "exit-1", Side: models.SideSell, Size: 0.5, Price: 105},
		{OrderID: "exit-2", Side: models.SideSell, Size: 0.2, Price: 106},
	}}
	r := newTestRunner(t, ex, &stubExecutor{}, &stubTrailer{})

	require.NoError(t, r.Stop(context.Background()))
	assert.Equal(t, []string{"exit-1", "exit-2"}, ex.cancelled)
}

func TestStreamedTickerFreshness(t *testing.T) {
	r := newTestRunner(t, &stubExchange{}, &stubExecutor{}, &stubTrailer{})
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	_, ok := r.streamedTicker()
	assert.False(t, ok, "no tick yet")

	r.wsTick = models.Ticker{Price: 101, At: base.Add(-10 * time.Second)}
	tk, ok := r.streamedTicker()
	require.True(t, ok)
	assert.Equal(t, 101.0, tk.Price)

	r.wsTick.At = base.Add(-31 * time.Second)
	_, ok = r.streamedTicker()
	assert.False(t, ok, "older than one poll interval")
}

func TestStatusScoreLine(t *testing.T) {
	r := newTestRunner(t, &stubExchange{}, &stubExecutor{}, &stubTrailer{})
	r.lastScore = models.ScoreBreakdown{Total: 7.5}
	r.lastPrice = 50000

	assert.Contains(t, r.Status(), "score 7.50/21")
}

func TestEvalSingleFlight(t *testing.T) {
	r := newTestRunner(t, &stubExchange{}, &stubExecutor{}, &stubTrailer{})

	assert.True(t, r.markEval())
	assert.False(t, r.markEval())
	r.clearEval()
	assert.True(t, r.markEval())
}
