package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"trailbot/internal/modules/config"
	"trailbot/internal/ratelimit"
)

// Client is a thin REST binding to the exchange. Every call signs the
// request, does one round trip and decodes the envelope; retry and
// pacing live in ratelimit.Caller, not here.
type Client struct {
	http      *http.Client
	wsDialer  *websocket.Dialer
	baseURL   string
	wsURL     string
	apiKey    string
	apiSecret string
}

func New(cfg *config.Config) *Client {
	return &Client{
		http:      &http.Client{Timeout: 10 * time.Second},
		wsDialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		baseURL:   cfg.Exchange.BaseURL,
		wsURL:     cfg.Exchange.WSURL,
		apiKey:    cfg.Exchange.APIKey,
		apiSecret: cfg.Exchange.APISecret,
	}
}

func (c *Client) sign(ts, method, requestPath, body string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(ts + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// do runs one signed request and returns the raw body. A 429 comes
// back as *ratelimit.RateLimitError so the caller can honour the
// server-provided interval.
func (c *Client) do(ctx context.Context, method, requestPath string, payload []byte) ([]byte, error) {
	var rd io.Reader
	if len(payload) > 0 {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, rd)
	if err != nil {
		return nil, fmt.Errorf("exchange request %s %s: %w", method, requestPath, err)
	}

	ts := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	req.Header.Set("CB-ACCESS-KEY", c.apiKey)
	req.Header.Set("CB-ACCESS-SIGN", c.sign(ts, method, requestPath, string(payload)))
	req.Header.Set("CB-ACCESS-TIMESTAMP", ts)
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange do %s %s: %w", method, requestPath, err)
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &ratelimit.RateLimitError{RetryAfter: retryAfter(resp)}
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("exchange http %d %s %s: %s", resp.StatusCode, method, requestPath, string(rb))
	}
	return rb, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Second
}
