package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"

	"trailbot/internal/models"
)

// GetAccountBalances returns available/hold per currency code.
func (c *Client) GetAccountBalances(ctx context.Context) (map[string]models.Balance, error) {
	rb, err := c.do(ctx, http.MethodGet, "/api/v3/brokerage/accounts", nil)
	if err != nil {
		return nil, err
	}

	var wrap struct {
		Accounts []struct {
			Currency  string `json:"currency"`
			Available struct {
				Value string `json:"value"`
			} `json:"available_balance"`
			Hold struct {
				Value string `json:"value"`
			} `json:"hold"`
		} `json:"accounts"`
	}
	if err := sonic.Unmarshal(rb, &wrap); err != nil {
		return nil, fmt.Errorf("accounts decode: %w", err)
	}

	out := make(map[string]models.Balance, len(wrap.Accounts))
	for _, a := range wrap.Accounts {
		var b models.Balance
		b.Available, _ = strconv.ParseFloat(a.Available.Value, 64)
		b.Hold, _ = strconv.ParseFloat(a.Hold.Value, 64)
		out[a.Currency] = b
	}
	return out, nil
}
