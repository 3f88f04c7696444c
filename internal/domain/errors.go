package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("booking not found")
	ErrConflict  = errors.New("booking state conflict")
	ErrForbidden = errors.New("access to booking denied")
)

type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindInvalidOffer     ErrorKind = "invalid_offer"
	KindExternalProvider ErrorKind = "external_provider"
	KindNotFound         ErrorKind = "not_found"
	KindConflict         ErrorKind = "conflict"
	KindAuthenticity     ErrorKind = "authenticity"
	KindForbidden        ErrorKind = "forbidden"
	KindInternal         ErrorKind = "internal"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Offer rejection reasons.
const (
	OfferReasonExpired          = "expired"
	OfferReasonNotFound         = "not_found"
	OfferReasonAmountMismatch   = "amount_mismatch"
	OfferReasonCurrencyMismatch = "currency_mismatch"
)

type InvalidOfferError struct {
	OfferID string
	Reason  string
	Quoted  int64
	Claimed int64
}

func (e *InvalidOfferError) Error() string {
	if e.Reason == OfferReasonAmountMismatch {
		return fmt.Sprintf("offer %s: amount %d does not match current price %d", e.OfferID, e.Claimed, e.Quoted)
	}
	return fmt.Sprintf("offer %s is no longer valid: %s", e.OfferID, e.Reason)
}

type ExternalProviderError struct {
	Provider   string
	Message    string
	StatusCode int
	Err        error
}

func (e *ExternalProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s provider error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s provider error: %s", e.Provider, e.Message)
}

func (e *ExternalProviderError) Unwrap() error { return e.Err }

type AuthenticityError struct {
	Reason string
}

func (e *AuthenticityError) Error() string {
	return "webhook authenticity check failed: " + e.Reason
}

// KindOf classifies err into the public error taxonomy.
func KindOf(err error) ErrorKind {
	var (
		validation *ValidationError
		offer      *InvalidOfferError
		provider   *ExternalProviderError
		auth       *AuthenticityError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &offer):
		return KindInvalidOffer
	case errors.As(err, &provider):
		return KindExternalProvider
	case errors.As(err, &auth):
		return KindAuthenticity
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	default:
		return KindInternal
	}
}
