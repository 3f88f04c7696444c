package provider

import (
	"context"
	"net/http"
	"net/url"

	"github.com/Domenick1991/airticket/internal/domain"
)

const FlightSearchProviderName = "flight_search"

type FlightSearchClient struct {
	*Client
}

func NewFlightSearchClient(c *Client) *FlightSearchClient {
	return &FlightSearchClient{Client: c}
}

// PriceOffer re-prices an offer. An offer unknown to flight search is
// reported as an invalid offer rather than a provider failure.
func (c *FlightSearchClient) PriceOffer(ctx context.Context, offerID string) (*domain.Quote, error) {
	var quote domain.Quote
	err := c.do(ctx, request{
		operation: "price_offer",
		method:    http.MethodGet,
		path:      "/v1/offers/" + url.PathEscape(offerID) + "/price",
	}, &quote)
	if err != nil {
		if StatusCode(err) == http.StatusNotFound {
			return nil, &domain.InvalidOfferError{OfferID: offerID, Reason: domain.OfferReasonNotFound}
		}
		return nil, err
	}
	if quote.OfferID == "" {
		quote.OfferID = offerID
	}
	return &quote, nil
}
