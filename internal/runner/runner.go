package runner

import (
	"context"
	"sync"
	"time"

	"trailbot/internal/candles"
	"trailbot/internal/history"
	"trailbot/internal/indicators"
	"trailbot/internal/models"
	"trailbot/internal/modules/config"
	healthsvc "trailbot/internal/modules/health/service"
	"trailbot/internal/ratelimit"
	"trailbot/internal/signal"
	"trailbot/pkg/logger"
)

const (
	shortGranularity  = 60 // seconds
	hourlyGranularity = 3600
)

// Notifier — outbound chat surface. Nil is fine, the runner trades
// silently without one.
type Notifier interface {
	Send(ctx context.Context, msg string) error
	SendF(ctx context.Context, format string, args ...any) error
}

// Exchange — the read side the runner needs each cycle.
type Exchange interface {
	GetCandles(ctx context.Context, productID string, granularity, limit int) ([]map[string]any, error)
	GetTicker(ctx context.Context, productID string) (models.Ticker, error)
	GetAccountBalances(ctx context.Context) (map[string]models.Balance, error)
	ListOpenOrders(ctx context.Context, productID string) ([]models.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	StreamTicker(ctx context.Context, productID string) <-chan models.Ticker
}

// Executor places entries and protective exits.
type Executor interface {
	PlaceEntry(ctx context.Context, price float64) (models.Order, error)
	PlaceExit(ctx context.Context, entryPrice, size float64) (models.Order, error)
}

// Trailer manages the position after a fill.
type Trailer interface {
	Track(entryPrice, size float64, exit models.Order)
	Poll(ctx context.Context, price float64, snap *indicators.Snapshot) error
	CheckFilled(ctx context.Context) (bool, error)
	Active() bool
	Position() models.Position
}

// Runner drives the two loops: the minute-aligned evaluation cycle and
// the trailing poll. All exchange traffic goes through the rate-limited
// caller.
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg      *config.Config
	ex       Exchange
	caller   *ratelimit.Caller
	short    *candles.Store
	hourly   *candles.Store
	machine  *signal.Machine
	executor Executor
	trail    Trailer
	notifier Notifier
	journal  history.Journal
	health   *healthsvc.State

	mu           sync.Mutex
	evalSince    time.Time // zero when no evaluation is in flight
	trailSince   time.Time
	lastPrice    float64
	wsTick       models.Ticker // latest streamed ticker, zero until the first frame
	lastScore    models.ScoreBreakdown
	lastCycle    time.Time
	hourlyFetch  time.Time
	trailStopped bool

	wg sync.WaitGroup

	now func() time.Time
}

func New(
	cfg *config.Config,
	ex Exchange,
	caller *ratelimit.Caller,
	executor Executor,
	trail Trailer,
	journal history.Journal,
) *Runner {
	return &Runner{
		cfg:      cfg,
		ex:       ex,
		caller:   caller,
		short:    candles.NewStore(cfg.Trading.ProductID, "1m", candles.ShortWindowCap, cfg.Trading.CacheDir),
		hourly:   candles.NewStore(cfg.Trading.ProductID, "1h", candles.HourlyWindowCap, cfg.Trading.CacheDir),
		machine:  signal.NewMachine(),
		executor: executor,
		trail:    trail,
		journal:  journal,
		now:      time.Now,
	}
}

// SetNotifier attaches the chat surface. Call before Start.
func (r *Runner) SetNotifier(n Notifier) { r.notifier = n }

// SetHealth attaches the admin-endpoint state. Call before Start.
func (r *Runner) SetHealth(s *healthsvc.State) { r.health = s }

// TrailingActive reports whether a position is open.
func (r *Runner) TrailingActive() bool { return r.trail.Active() }

// Start loads the caches, backfills what is missing and spins up the
// loops. An empty candle window after backfill is fatal: scoring on
// nothing is not a state worth limping through.
func (r *Runner) Start(parent context.Context) error {
	r.ctx, r.cancel = context.WithCancel(parent)

	if needs := r.short.Load(); needs {
		logger.Info("1m cache unusable, backfilling")
	}
	if needs := r.hourly.Load(); needs {
		logger.Info("1h cache unusable, backfilling")
	}

	if err := r.fetchWindow(r.ctx, r.short, shortGranularity, candles.ShortWindowCap); err != nil {
		logger.Error("startup 1m backfill: %v", err)
	}
	if err := r.fetchWindow(r.ctx, r.hourly, hourlyGranularity, candles.HourlyWindowCap); err != nil {
		logger.Error("startup 1h backfill: %v", err)
	}

	if r.short.Len() == 0 {
		logger.Fatal("no 1m candles after startup backfill, refusing to trade blind")
	}

	r.notifyF("bot started: %s, %d/%d candles cached", r.cfg.Trading.ProductID, r.short.Len(), r.hourly.Len())

	r.wg.Add(4)
	go r.minuteLoop()
	go r.trailLoop()
	go r.streamLoop()
	go r.watchdog()
	return nil
}

// Stop cancels the loops and pulls any resting orders so nothing is
// left working on the book unattended.
func (r *Runner) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	open, err := r.ex.ListOpenOrders(ctx, r.cfg.Trading.ProductID)
	if err != nil {
		logger.Error("stop: list open orders: %v", err)
		return nil
	}
	for _, o := range open {
		if err := r.ex.CancelOrder(ctx, o.OrderID); err != nil {
			logger.Error("stop: cancel %s %s %.8f @ %.2f: %v, order left on the book",
				o.OrderID, o.Side, o.Size, o.Price, err)
			continue
		}
		logger.Info("stop: cancelled %s %s %.8f @ %.2f", o.OrderID, o.Side, o.Size, o.Price)
	}
	return nil
}

func (r *Runner) notify(msg string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Send(r.ctx, msg); err != nil {
		logger.Error("notify: %v", err)
	}
}

func (r *Runner) notifyF(format string, args ...any) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.SendF(r.ctx, format, args...); err != nil {
		logger.Error("notify: %v", err)
	}
}
