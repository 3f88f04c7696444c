package provider

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/Domenick1991/airticket/internal/domain"
)

const PaymentProviderName = "payment"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
	OrderCancelled OrderStatus = "cancelled"
	OrderExpired   OrderStatus = "expired"
)

func (s OrderStatus) IsPaid() bool {
	return s == OrderCompleted
}

// IsUnsuccessful is true for final statuses in which no money was taken.
func (s OrderStatus) IsUnsuccessful() bool {
	return s == OrderFailed || s == OrderCancelled || s == OrderExpired
}

type PaymentCustomer struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type PaymentLinkRequest struct {
	Reference   string          `json:"reference"`
	Amount      int64           `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	Customer    PaymentCustomer `json:"customer"`
	ReturnURL   string          `json:"return_url,omitempty"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

type PaymentLink struct {
	OrderID string      `json:"order_id"`
	URL     string      `json:"url"`
	Status  OrderStatus `json:"status"`
}

type PaymentOrder struct {
	OrderID  string      `json:"order_id"`
	Status   OrderStatus `json:"status"`
	Amount   int64       `json:"amount"`
	Currency string      `json:"currency"`
}

type PaymentClient struct {
	*Client
}

func NewPaymentClient(c *Client) *PaymentClient {
	return &PaymentClient{Client: c}
}

// CreateLink asks the provider for a hosted payment page. Requests carrying
// the same idempotency key collapse to one link on the provider side.
func (c *PaymentClient) CreateLink(ctx context.Context, idempotencyKey string, req PaymentLinkRequest) (*PaymentLink, error) {
	var link PaymentLink
	err := c.do(ctx, request{
		operation:      "create_link",
		method:         http.MethodPost,
		path:           "/v1/payment-links",
		idempotencyKey: idempotencyKey,
		body:           req,
	}, &link)
	if err != nil {
		return nil, err
	}
	if link.OrderID == "" || link.URL == "" {
		return nil, &domain.ExternalProviderError{Provider: c.name, Message: "payment link response is missing order id or url"}
	}
	return &link, nil
}

// GetOrder returns the provider's authoritative view of an order.
func (c *PaymentClient) GetOrder(ctx context.Context, orderID string) (*PaymentOrder, error) {
	var order PaymentOrder
	err := c.do(ctx, request{
		operation: "get_order",
		method:    http.MethodGet,
		path:      "/v1/orders/" + url.PathEscape(orderID),
	}, &order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}
