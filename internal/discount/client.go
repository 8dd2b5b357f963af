// Package discount validates promo codes against the external discount
// endpoint. Validation is independent of cart identity: only the code and the
// current subtotal travel.
package discount

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

var (
	// ErrInvalidCode means the backend rejected the code; cart state is
	// unaffected.
	ErrInvalidCode = errors.New("discount code rejected")
	// ErrUnavailable wraps transport failures and an open circuit.
	ErrUnavailable = errors.New("discount service unavailable")
)

type validateRequest struct {
	Code      string `json:"code"`
	CartTotal int64  `json:"cartTotal"`
}

type validateResponse struct {
	AmountOff int64 `json:"amountOff"`
}

type Client struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[int64]
}

func NewClient(url string) *Client {
	breaker := gobreaker.NewCircuitBreaker[int64](gobreaker.Settings{
		Name:    "discount-validate",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A rejected code is a healthy backend answering; only transport-level
		// failures should trip the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrInvalidCode)
		},
	})
	return &Client{
		url:     url,
		client:  &http.Client{Timeout: 5 * time.Second},
		breaker: breaker,
	}
}

// Validate returns the amount off in cents for code at the given subtotal.
// The amount is clamped to [0, subtotal] so the displayed total can never go
// negative.
func (c *Client) Validate(ctx context.Context, code string, subtotalCents int64) (int64, error) {
	amountOff, err := c.breaker.Execute(func() (int64, error) {
		return c.validate(ctx, code, subtotalCents)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return 0, err
	}

	if amountOff < 0 {
		amountOff = 0
	}
	if amountOff > subtotalCents {
		amountOff = subtotalCents
	}
	return amountOff, nil
}

func (c *Client) validate(ctx context.Context, code string, subtotalCents int64) (int64, error) {
	payload, err := json.Marshal(validateRequest{Code: code, CartTotal: subtotalCents})
	if err != nil {
		return 0, fmt.Errorf("marshal discount request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build discount request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out validateResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return 0, fmt.Errorf("decode discount response: %w", err)
		}
		return out.AmountOff, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return 0, ErrInvalidCode
	default:
		return 0, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}
