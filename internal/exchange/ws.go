package exchange

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"trailbot/internal/models"
	"trailbot/pkg/logger"
)

// StreamTicker keeps one ticker subscription alive for the product and
// pushes every price update. Reconnects forever until ctx is done; the
// channel closes only then.
func (c *Client) StreamTicker(ctx context.Context, productID string) <-chan models.Ticker {
	ch := make(chan models.Ticker)

	go func() {
		defer close(ch)

		for {
			conn, _, err := c.wsDialer.DialContext(ctx, c.wsURL, nil)
			if err != nil {
				logger.Error("ws dial %s: %v", productID, err)
				if !sleepCtx(ctx, time.Second) {
					return
				}
				continue
			}

			sub := map[string]any{
				"type":        "subscribe",
				"channel":     "ticker",
				"product_ids": []string{productID},
			}
			if err := conn.WriteJSON(sub); err != nil {
				logger.Error("ws subscribe %s: %v", productID, err)
				_ = conn.Close()
				continue
			}

			// keepalive, the server drops idle connections
			stopPing := make(chan struct{})
			go func() {
				t := time.NewTicker(20 * time.Second)
				defer t.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-stopPing:
						return
					case <-t.C:
						_ = conn.WriteJSON(map[string]string{"type": "ping"})
					}
				}
			}()

			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					logger.Error("ws read %s: %v", productID, err)
					close(stopPing)
					_ = conn.Close()
					break
				}

				var frame struct {
					Channel string `json:"channel"`
					Events  []struct {
						Tickers []struct {
							ProductID string `json:"product_id"`
							Price     string `json:"price"`
							Bid       string `json:"best_bid"`
							Ask       string `json:"best_ask"`
							Volume    string `json:"volume_24_h"`
						} `json:"tickers"`
					} `json:"events"`
				}
				if err := sonic.Unmarshal(msg, &frame); err != nil || frame.Channel != "ticker" {
					continue
				}

				for _, ev := range frame.Events {
					for _, tk := range ev.Tickers {
						if tk.ProductID != productID {
							continue
						}
						price, err := strconv.ParseFloat(tk.Price, 64)
						if err != nil || price <= 0 {
							continue
						}
						t := models.Ticker{Price: price, At: time.Now().UTC()}
						t.Bid, _ = strconv.ParseFloat(tk.Bid, 64)
						t.Ask, _ = strconv.ParseFloat(tk.Ask, 64)
						t.Volume, _ = strconv.ParseFloat(tk.Volume, 64)

						select {
						case ch <- t:
						case <-ctx.Done():
							_ = conn.Close()
							return
						}
					}
				}
			}

			if !sleepCtx(ctx, time.Second) {
				return
			}
		}
	}()

	return ch
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
