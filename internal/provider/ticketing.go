package provider

import (
	"context"
	"net/http"

	"github.com/Domenick1991/airticket/internal/domain"
)

const TicketingProviderName = "ticketing"

type TicketOrderRequest struct {
	OfferID    string             `json:"offer_id"`
	Reference  string             `json:"reference"`
	Passengers []domain.Passenger `json:"passengers"`
	Contact    domain.Contact     `json:"contact"`
}

type TicketOrder struct {
	OrderID string `json:"order_id"`
	PNR     string `json:"pnr"`
	Status  string `json:"status"`
}

type TicketingClient struct {
	*Client
}

func NewTicketingClient(c *Client) *TicketingClient {
	return &TicketingClient{Client: c}
}

func (c *TicketingClient) CreateOrder(ctx context.Context, idempotencyKey string, req TicketOrderRequest) (*TicketOrder, error) {
	var order TicketOrder
	err := c.do(ctx, request{
		operation:      "create_order",
		method:         http.MethodPost,
		path:           "/v1/orders",
		idempotencyKey: idempotencyKey,
		body:           req,
	}, &order)
	if err != nil {
		return nil, err
	}
	if order.OrderID == "" {
		return nil, &domain.ExternalProviderError{Provider: c.name, Message: "ticket order response has no order id"}
	}
	return &order, nil
}
