package pricing

import (
	"context"
	"strings"
	"time"

	"github.com/Domenick1991/airticket/internal/domain"
	"github.com/Domenick1991/airticket/internal/metrics"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Repricer interface {
	PriceOffer(ctx context.Context, offerID string) (*domain.Quote, error)
}

type QuoteCache interface {
	GetQuote(ctx context.Context, offerID string) (*domain.Quote, error)
	SetQuote(ctx context.Context, quote *domain.Quote) error
}

// Claim is what the client believes the offer costs.
type Claim struct {
	OfferID     string
	AmountMinor int64
	Currency    string
}

// Tolerance is the accepted divergence between claimed and quoted amounts:
// the larger of a fixed number of minor units and a percentage of the quote.
type Tolerance struct {
	AbsoluteMinor int64
	Percent       float64
}

func (t Tolerance) Allowed(quotedMinor int64) int64 {
	pct := decimal.NewFromInt(quotedMinor).
		Mul(decimal.NewFromFloat(t.Percent)).
		Div(decimal.NewFromInt(100)).
		Floor().
		IntPart()
	if pct > t.AbsoluteMinor {
		return pct
	}
	return t.AbsoluteMinor
}

type Gate struct {
	repricer  Repricer
	cache     QuoteCache
	tolerance Tolerance
	log       logrus.FieldLogger
	now       func() time.Time
}

type Option func(*Gate)

func WithQuoteCache(cache QuoteCache) Option {
	return func(g *Gate) {
		g.cache = cache
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

func NewGate(repricer Repricer, tolerance Tolerance, log logrus.FieldLogger, opts ...Option) *Gate {
	g := &Gate{repricer: repricer, tolerance: tolerance, log: log, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate re-prices the offer and checks the claim against it. It returns the
// quote whose amount becomes the locked price of the booking.
func (g *Gate) Validate(ctx context.Context, claim Claim) (*domain.Quote, error) {
	if strings.TrimSpace(claim.OfferID) == "" {
		return nil, &domain.ValidationError{Field: "offer_id", Message: "is required"}
	}
	if claim.AmountMinor <= 0 {
		return nil, &domain.ValidationError{Field: "amount", Message: "must be positive"}
	}

	quote, err := g.quote(ctx, claim.OfferID)
	if err != nil {
		metrics.PriceValidationTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if err := g.check(claim, quote); err != nil {
		g.log.WithFields(logrus.Fields{
			"offer_id": claim.OfferID,
			"claimed":  claim.AmountMinor,
			"quoted":   quote.AmountMinor,
		}).Info("offer rejected by re-pricing: " + err.Error())
		metrics.PriceValidationTotal.WithLabelValues(err.Reason).Inc()
		return nil, err
	}

	metrics.PriceValidationTotal.WithLabelValues("ok").Inc()
	return quote, nil
}

// Quote returns the current price of an offer, from the cache when fresh.
func (g *Gate) Quote(ctx context.Context, offerID string) (*domain.Quote, error) {
	if strings.TrimSpace(offerID) == "" {
		return nil, &domain.ValidationError{Field: "offer_id", Message: "is required"}
	}
	return g.quote(ctx, offerID)
}

func (g *Gate) check(claim Claim, quote *domain.Quote) *domain.InvalidOfferError {
	if quote.Expired(g.now()) {
		return &domain.InvalidOfferError{OfferID: claim.OfferID, Reason: domain.OfferReasonExpired}
	}
	if !strings.EqualFold(claim.Currency, quote.Currency) {
		return &domain.InvalidOfferError{OfferID: claim.OfferID, Reason: domain.OfferReasonCurrencyMismatch}
	}
	diff := claim.AmountMinor - quote.AmountMinor
	if diff < 0 {
		diff = -diff
	}
	if diff > g.tolerance.Allowed(quote.AmountMinor) {
		return &domain.InvalidOfferError{
			OfferID: claim.OfferID,
			Reason:  domain.OfferReasonAmountMismatch,
			Quoted:  quote.AmountMinor,
			Claimed: claim.AmountMinor,
		}
	}
	return nil
}

func (g *Gate) quote(ctx context.Context, offerID string) (*domain.Quote, error) {
	if g.cache != nil {
		cached, err := g.cache.GetQuote(ctx, offerID)
		if err != nil {
			g.log.WithError(err).WithField("offer_id", offerID).Warn("quote cache read failed")
		} else if cached != nil && !cached.Expired(g.now()) {
			return cached, nil
		}
	}

	quote, err := g.repricer.PriceOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if g.cache != nil {
		if err := g.cache.SetQuote(ctx, quote); err != nil {
			g.log.WithError(err).WithField("offer_id", offerID).Warn("quote cache write failed")
		}
	}
	return quote, nil
}

// currencyExponent lists ISO 4217 currencies whose minor unit is not 1/100.
var currencyExponent = map[string]int32{
	"JPY": 0, "KRW": 0, "VND": 0, "CLP": 0, "ISK": 0,
	"BHD": 3, "KWD": 3, "JOD": 3, "OMR": 3, "TND": 3,
}

// MajorUnits converts an amount in minor units to a decimal amount in the
// currency's major unit.
func MajorUnits(amountMinor int64, currency string) decimal.Decimal {
	exp, ok := currencyExponent[strings.ToUpper(currency)]
	if !ok {
		exp = 2
	}
	return decimal.New(amountMinor, -exp)
}
