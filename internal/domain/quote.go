package domain

import "time"

// Quote is the current re-priced state of a flight offer as reported by
// flight search.
type Quote struct {
	OfferID     string    `json:"offer_id"`
	AmountMinor int64     `json:"amount"`
	Currency    string    `json:"currency"`
	ExpiresAt   time.Time `json:"expires_at"`
	Available   bool      `json:"available"`
}

func (q *Quote) Expired(now time.Time) bool {
	return !q.Available || (!q.ExpiresAt.IsZero() && !q.ExpiresAt.After(now))
}
