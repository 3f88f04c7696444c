package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Domenick1991/airticket/internal/domain"
	"github.com/google/uuid"
)

// MemoryBookingRepository keeps bookings in process memory. Each conditional
// write checks and mutates under one lock, matching the row-level atomicity of
// the Postgres store.
type MemoryBookingRepository struct {
	mu           sync.Mutex
	bookings     map[string]*domain.Booking
	claimedUntil map[string]time.Time
	now          func() time.Time
}

func NewMemoryBookingRepository() *MemoryBookingRepository {
	return &MemoryBookingRepository{
		bookings:     make(map[string]*domain.Booking),
		claimedUntil: make(map[string]time.Time),
		now:          time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (r *MemoryBookingRepository) WithClock(now func() time.Time) *MemoryBookingRepository {
	r.now = now
	return r
}

func (r *MemoryBookingRepository) CreatePending(_ context.Context, booking *domain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	booking.IdempotencyKey = domain.IdempotencyKeyFor(booking.ID)
	if _, exists := r.bookings[booking.ID]; exists {
		return fmt.Errorf("booking %s: %w", booking.ID, domain.ErrConflict)
	}

	now := r.now()
	booking.Status = domain.BookingStatusPending
	booking.CreatedAt = now
	booking.UpdatedAt = now
	r.bookings[booking.ID] = clone(booking)
	return nil
}

func (r *MemoryBookingRepository) Get(_ context.Context, id string) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(b), nil
}

func (r *MemoryBookingRepository) GetByPaymentRef(_ context.Context, paymentRef string) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.bookings {
		if b.PaymentRef != "" && b.PaymentRef == paymentRef {
			return clone(b), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryBookingRepository) List(_ context.Context, filter BookingFilter) ([]domain.Booking, error) {
	matched := r.collect(func(b *domain.Booking) bool {
		if filter.OwnerID != "" && b.OwnerID != filter.OwnerID {
			return false
		}
		return filter.Status == "" || b.Status == filter.Status
	})
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if limit := filter.limit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *MemoryBookingRepository) AttachPaymentReference(_ context.Context, id, paymentRef, checkoutURL string) (bool, error) {
	return r.update(id, func(b *domain.Booking) bool {
		if b.Status != domain.BookingStatusPending || (b.PaymentRef != "" && b.PaymentRef != paymentRef) {
			return false
		}
		b.PaymentRef = paymentRef
		b.CheckoutURL = checkoutURL
		return true
	})
}

func (r *MemoryBookingRepository) AdvanceToPaid(_ context.Context, id string) (domain.BookingStatus, bool, error) {
	var from domain.BookingStatus
	ok, err := r.update(id, func(b *domain.Booking) bool {
		lateExpired := b.Status == domain.BookingStatusCancelled && b.CancelReason == domain.CancelReasonExpired
		if b.Status != domain.BookingStatusPending && !lateExpired {
			return false
		}
		from = b.Status
		now := r.now()
		b.Status = domain.BookingStatusPaid
		b.CancelReason = domain.CancelReasonNone
		b.PaidAt = &now
		return true
	})
	if !ok {
		from = ""
	}
	return from, ok, err
}

func (r *MemoryBookingRepository) MarkFailed(_ context.Context, id, message string) (bool, error) {
	return r.update(id, func(b *domain.Booking) bool {
		if b.Status != domain.BookingStatusPending {
			return false
		}
		b.Status = domain.BookingStatusFailed
		b.ErrorMessage = message
		return true
	})
}

func (r *MemoryBookingRepository) Cancel(_ context.Context, id string, reason domain.CancelReason) (bool, error) {
	return r.update(id, func(b *domain.Booking) bool {
		if b.Status != domain.BookingStatusPending {
			return false
		}
		b.Status = domain.BookingStatusCancelled
		b.CancelReason = reason
		return true
	})
}

func (r *MemoryBookingRepository) MarkRefunded(_ context.Context, id string) (bool, error) {
	return r.update(id, func(b *domain.Booking) bool {
		if b.Status != domain.BookingStatusPaid && b.Status != domain.BookingStatusConfirmed {
			return false
		}
		b.Status = domain.BookingStatusRefunded
		return true
	})
}

func (r *MemoryBookingRepository) ClaimTicketing(_ context.Context, id string, lease time.Duration) (bool, error) {
	return r.update(id, func(b *domain.Booking) bool {
		if !b.NeedsTicket() {
			return false
		}
		now := r.now()
		if until, held := r.claimedUntil[id]; held && until.After(now) {
			return false
		}
		r.claimedUntil[id] = now.Add(lease)
		return true
	})
}

func (r *MemoryBookingRepository) AttachTicketReference(_ context.Context, id, ticketRef string) (bool, error) {
	return r.update(id, func(b *domain.Booking) bool {
		if !b.NeedsTicket() {
			return false
		}
		b.TicketRef = ticketRef
		b.Status = domain.BookingStatusConfirmed
		b.ErrorMessage = ""
		delete(r.claimedUntil, id)
		return true
	})
}

func (r *MemoryBookingRepository) MarkProcessingError(_ context.Context, id, message string) error {
	_, err := r.update(id, func(b *domain.Booking) bool {
		if b.TicketRef != "" {
			return false
		}
		b.ErrorMessage = message
		delete(r.claimedUntil, id)
		return true
	})
	return err
}

func (r *MemoryBookingRepository) ListExpiredPending(_ context.Context, deadline time.Time, limit int) ([]domain.Booking, error) {
	expired := r.collect(func(b *domain.Booking) bool { return b.IsExpired(deadline) })
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (r *MemoryBookingRepository) CompleteDepartedBefore(_ context.Context, cutoff time.Time) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var completed []domain.Booking
	for _, b := range r.bookings {
		if b.Status != domain.BookingStatusConfirmed || !b.DepartureDate.Before(cutoff) {
			continue
		}
		b.Status = domain.BookingStatusCompleted
		b.CompletedAt = &now
		b.UpdatedAt = now
		completed = append(completed, *clone(b))
	}
	return completed, nil
}

func (r *MemoryBookingRepository) ListNeedingAttention(_ context.Context, limit int) ([]domain.Booking, error) {
	stuck := r.collect(func(b *domain.Booking) bool { return b.NeedsTicket() && b.ErrorMessage != "" })
	sort.Slice(stuck, func(i, j int) bool { return stuck[i].UpdatedAt.Before(stuck[j].UpdatedAt) })
	if limit > 0 && len(stuck) > limit {
		stuck = stuck[:limit]
	}
	return stuck, nil
}

func (r *MemoryBookingRepository) update(id string, apply func(b *domain.Booking) bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok {
		return false, nil
	}
	if !apply(b) {
		return false, nil
	}
	b.UpdatedAt = r.now()
	return true, nil
}

func (r *MemoryBookingRepository) collect(match func(b *domain.Booking) bool) []domain.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Booking
	for _, b := range r.bookings {
		if match(b) {
			out = append(out, *clone(b))
		}
	}
	return out
}

func clone(b *domain.Booking) *domain.Booking {
	c := *b
	c.Passengers = append([]domain.Passenger(nil), b.Passengers...)
	c.Offer = append([]byte(nil), b.Offer...)
	if b.ReturnDate != nil {
		t := *b.ReturnDate
		c.ReturnDate = &t
	}
	if b.PaidAt != nil {
		t := *b.PaidAt
		c.PaidAt = &t
	}
	if b.CompletedAt != nil {
		t := *b.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

var _ BookingRepository = (*MemoryBookingRepository)(nil)
