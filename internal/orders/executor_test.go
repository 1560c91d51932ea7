package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"trailbot/internal/models"
	"trailbot/internal/modules/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExchange struct {
	balances  map[string]models.Balance
	submitted []models.OrderRequest
	submitErr error
}

func (f *fakeExchange) SubmitOrder(_ context.Context, req models.OrderRequest) (models.Order, error) {
	if f.submitErr != nil {
		return models.Order{}, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	return models.Order{
		OrderID:   "ord-1",
		ProductID: req.ProductID,
		Side:      req.Side,
		Size:      req.Size,
		Price:     req.Price,
		Status:    models.OrderOpen,
	}, nil
}

func (f *fakeExchange) GetAccountBalances(context.Context) (map[string]models.Balance, error) {
	return f.balances, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Trading.ProductID = "BTC-USDT"
	cfg.Trading.PriceStep = 0.01
	cfg.Trading.SizeStep = 0.0001
	cfg.Trading.MinSize = 0.0001
	cfg.Trading.OrderPct = 0.1
	cfg.Trading.EntryCooldown = 5 * time.Minute
	cfg.Trading.ProfitTargetPct = 5
	return cfg
}

func TestPlaceEntrySizing(t *testing.T) {
	ex := &fakeExchange{balances: map[string]models.Balance{
		"USDT": {Available: 1000},
	}}
	e := NewExecutor(ex, testConfig())

	_, err := e.PlaceEntry(context.Background(), 50000)
	require.NoError(t, err)
	require.Len(t, ex.submitted, 1)

	// 0.1 of 1000 USDT at 50000 -> 0.002, already on the size step
	req := ex.submitted[0]
	assert.Equal(t, models.SideBuy, req.Side)
	assert.Equal(t, "market", req.Type)
	assert.InDelta(t, 0.002, req.Size, 1e-12)
}

func TestPlaceEntryInsufficientFunds(t *testing.T) {
	ex := &fakeExchange{balances: map[string]models.Balance{
		"USDT": {Available: 1},
	}}
	e := NewExecutor(ex, testConfig())

	_, err := e.PlaceEntry(context.Background(), 50000)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Empty(t, ex.submitted)
}

func TestPlaceEntryCooldown(t *testing.T) {
	ex := &fakeExchange{balances: map[string]models.Balance{
		"USDT": {Available: 1000},
	}}
	e := NewExecutor(ex, testConfig())

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	_, err := e.PlaceEntry(context.Background(), 50000)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = e.PlaceEntry(context.Background(), 50000)
	assert.ErrorIs(t, err, ErrCooldown)
	assert.Len(t, ex.submitted, 1)

	now = now.Add(5 * time.Minute)
	_, err = e.PlaceEntry(context.Background(), 50000)
	assert.NoError(t, err)
	assert.Len(t, ex.submitted, 2)
}

func TestPlaceExitQuantizesTarget(t *testing.T) {
	ex := &fakeExchange{}
	e := NewExecutor(ex, testConfig())

	// 100 * 1.05 = 105.00 exactly; size truncated to the step
	_, err := e.PlaceExit(context.Background(), 100, 0.00123456)
	require.NoError(t, err)
	require.Len(t, ex.submitted, 1)

	req := ex.submitted[0]
	assert.Equal(t, models.SideSell, req.Side)
	assert.Equal(t, "limit", req.Type)
	assert.True(t, req.PostOnly)
	assert.InDelta(t, 105.00, req.Price, 1e-9)
	assert.InDelta(t, 0.0012, req.Size, 1e-12)
}

func TestPlaceExitZeroSize(t *testing.T) {
	ex := &fakeExchange{}
	e := NewExecutor(ex, testConfig())

	_, err := e.PlaceExit(context.Background(), 100, 0.00001)
	assert.Error(t, err)
	assert.Empty(t, ex.submitted)
}

func TestPlaceEntrySubmitErrorPropagates(t *testing.T) {
	ex := &fakeExchange{
		balances:  map[string]models.Balance{"USDT": {Available: 1000}},
		submitErr: errors.New("exchange down"),
	}
	e := NewExecutor(ex, testConfig())

	_, err := e.PlaceEntry(context.Background(), 50000)
	assert.ErrorContains(t, err, "exchange down")
}
