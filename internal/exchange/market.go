package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bytedance/sonic"

	"trailbot/internal/models"
)

// GetCandles fetches up to limit candles for the product at the given
// granularity (seconds). Rows come back raw; the candle store owns
// validation and normalisation.
func (c *Client) GetCandles(ctx context.Context, productID string, granularity, limit int) ([]map[string]any, error) {
	q := url.Values{}
	q.Set("granularity", strconv.Itoa(granularity))
	q.Set("limit", strconv.Itoa(limit))
	path := fmt.Sprintf("/api/v3/brokerage/products/%s/candles?%s", productID, q.Encode())

	rb, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var wrap struct {
		Candles []map[string]any `json:"candles"`
	}
	if err := sonic.Unmarshal(rb, &wrap); err != nil {
		return nil, fmt.Errorf("candles decode %s: %w", productID, err)
	}
	return wrap.Candles, nil
}

// GetTicker returns the latest trade price and best book for the product.
func (c *Client) GetTicker(ctx context.Context, productID string) (models.Ticker, error) {
	rb, err := c.do(ctx, http.MethodGet, "/api/v3/brokerage/products/"+productID+"/ticker", nil)
	if err != nil {
		return models.Ticker{}, err
	}

	var raw struct {
		Price  string `json:"price"`
		Bid    string `json:"best_bid"`
		Ask    string `json:"best_ask"`
		Volume string `json:"volume_24_h"`
		Time   string `json:"time"`
	}
	if err := sonic.Unmarshal(rb, &raw); err != nil {
		return models.Ticker{}, fmt.Errorf("ticker decode %s: %w", productID, err)
	}

	price, err := strconv.ParseFloat(raw.Price, 64)
	if err != nil || price <= 0 {
		return models.Ticker{}, fmt.Errorf("ticker %s: bad price %q", productID, raw.Price)
	}
	t := models.Ticker{Price: price, At: parseRFC3339(raw.Time)}
	t.Bid, _ = strconv.ParseFloat(raw.Bid, 64)
	t.Ask, _ = strconv.ParseFloat(raw.Ask, 64)
	t.Volume, _ = strconv.ParseFloat(raw.Volume, 64)
	return t, nil
}
