package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"trailbot/internal/models"
)

type orderPayload struct {
	ProductID string `json:"product_id"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Size      string `json:"size"`
	Price     string `json:"price,omitempty"`
	PostOnly  bool   `json:"post_only,omitempty"`
}

type orderEnvelope struct {
	OrderID       string `json:"order_id"`
	ProductID     string `json:"product_id"`
	Side          string `json:"side"`
	Status        string `json:"status"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	FilledSize    string `json:"filled_size"`
	CreatedAt     string `json:"created_at"`
	FailureReason string `json:"failure_reason"`
}

// SubmitOrder places the order and returns the exchange's view of it.
// A rejection with a reason is an error, same as any transport failure.
func (c *Client) SubmitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	p := orderPayload{
		ProductID: req.ProductID,
		Side:      string(req.Side),
		Type:      req.Type,
		Size:      strconv.FormatFloat(req.Size, 'f', -1, 64),
		PostOnly:  req.PostOnly,
	}
	if req.Price > 0 {
		p.Price = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}
	payload, err := sonic.Marshal(p)
	if err != nil {
		return models.Order{}, fmt.Errorf("order marshal: %w", err)
	}

	rb, err := c.do(ctx, http.MethodPost, "/api/v3/brokerage/orders", payload)
	if err != nil {
		return models.Order{}, err
	}

	var env orderEnvelope
	if err := sonic.Unmarshal(rb, &env); err != nil {
		return models.Order{}, fmt.Errorf("order decode: %w", err)
	}
	if env.FailureReason != "" {
		return models.Order{}, fmt.Errorf("order rejected: %s", env.FailureReason)
	}
	if env.OrderID == "" {
		return models.Order{}, fmt.Errorf("order response without id: %s", string(rb))
	}
	return env.toOrder(), nil
}

// CancelOrder cancels by id. Cancelling an order that is already gone
// is reported as an error; the trailing engine treats that as a fill.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	rb, err := c.do(ctx, http.MethodDelete, "/api/v3/brokerage/orders/"+orderID, nil)
	if err != nil {
		return err
	}
	var res struct {
		Success bool   `json:"success"`
		Reason  string `json:"failure_reason"`
	}
	if err := sonic.Unmarshal(rb, &res); err != nil {
		return fmt.Errorf("cancel decode %s: %w", orderID, err)
	}
	if !res.Success {
		return fmt.Errorf("cancel %s refused: %s", orderID, res.Reason)
	}
	return nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	rb, err := c.do(ctx, http.MethodGet, "/api/v3/brokerage/orders/"+orderID, nil)
	if err != nil {
		return models.Order{}, err
	}
	var env orderEnvelope
	if err := sonic.Unmarshal(rb, &env); err != nil {
		return models.Order{}, fmt.Errorf("order decode %s: %w", orderID, err)
	}
	return env.toOrder(), nil
}

func (c *Client) ListOpenOrders(ctx context.Context, productID string) ([]models.Order, error) {
	rb, err := c.do(ctx, http.MethodGet, "/api/v3/brokerage/orders?status=OPEN&product_id="+productID, nil)
	if err != nil {
		return nil, err
	}
	var wrap struct {
		Orders []orderEnvelope `json:"orders"`
	}
	if err := sonic.Unmarshal(rb, &wrap); err != nil {
		return nil, fmt.Errorf("open orders decode: %w", err)
	}
	out := make([]models.Order, 0, len(wrap.Orders))
	for _, env := range wrap.Orders {
		out = append(out, env.toOrder())
	}
	return out, nil
}

func (env orderEnvelope) toOrder() models.Order {
	o := models.Order{
		OrderID:   env.OrderID,
		ProductID: env.ProductID,
		Side:      models.Side(env.Side),
		Status:    normalizeStatus(env.Status),
		CreatedAt: parseRFC3339(env.CreatedAt),
	}
	o.Price, _ = strconv.ParseFloat(env.Price, 64)
	o.Size, _ = strconv.ParseFloat(env.Size, 64)
	o.FilledSize, _ = strconv.ParseFloat(env.FilledSize, 64)
	return o
}

func normalizeStatus(s string) models.OrderStatus {
	switch s {
	case "OPEN", "PENDING":
		return models.OrderOpen
	case "FILLED", "DONE":
		return models.OrderFilled
	case "CANCELLED", "CANCELED":
		return models.OrderCancelled
	default:
		return models.OrderUnknown
	}
}

func parseRFC3339(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
