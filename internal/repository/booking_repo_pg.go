package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/airticket/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

const uniqueViolation = "23505"

const bookingColumns = `id, COALESCE(owner_id, ''), idempotency_key, origin, destination, departure_date, return_date,
	adults, children, infants, cabin_class, offer_id, offer, amount_minor, currency, passengers, contact,
	COALESCE(payment_ref, ''), COALESCE(checkout_url, ''), COALESCE(ticket_ref, ''), status, COALESCE(cancel_reason, ''),
	COALESCE(error_message, ''), expires_at, created_at, updated_at, paid_at, completed_at`

type PGBookingRepository struct {
	db  DB
	now func() time.Time
}

func NewBookingRepository(db DB) *PGBookingRepository {
	return &PGBookingRepository{db: db, now: time.Now}
}

func (r *PGBookingRepository) CreatePending(ctx context.Context, booking *domain.Booking) error {
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	booking.IdempotencyKey = domain.IdempotencyKeyFor(booking.ID)
	booking.Status = domain.BookingStatusPending

	passengers, err := json.Marshal(booking.Passengers)
	if err != nil {
		return fmt.Errorf("marshal passengers: %w", err)
	}
	contact, err := json.Marshal(booking.Contact)
	if err != nil {
		return fmt.Errorf("marshal contact: %w", err)
	}
	offer := []byte(booking.Offer)
	if len(offer) == 0 {
		offer = []byte("{}")
	}

	err = r.db.QueryRow(ctx, `INSERT INTO bookings (id, owner_id, idempotency_key, origin, destination, departure_date, return_date,
		adults, children, infants, cabin_class, offer_id, offer, amount_minor, currency, passengers, contact, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING created_at, updated_at`,
		booking.ID, nullString(booking.OwnerID), booking.IdempotencyKey, booking.Origin, booking.Destination,
		booking.DepartureDate, booking.ReturnDate, booking.Adults, booking.Children, booking.Infants,
		booking.CabinClass, booking.OfferID, offer, booking.AmountMinor, booking.Currency,
		passengers, contact, booking.Status, booking.ExpiresAt).
		Scan(&booking.CreatedAt, &booking.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("booking %s: %w", booking.ID, domain.ErrConflict)
		}
		return err
	}
	return nil
}

func (r *PGBookingRepository) Get(ctx context.Context, id string) (*domain.Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id)
	return scanOne(row)
}

func (r *PGBookingRepository) GetByPaymentRef(ctx context.Context, paymentRef string) (*domain.Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_ref=$1`, paymentRef)
	return scanOne(row)
}

func (r *PGBookingRepository) List(ctx context.Context, filter BookingFilter) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE ($1 = '' OR owner_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		filter.OwnerID, string(filter.Status), filter.limit(), filter.Offset)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *PGBookingRepository) AttachPaymentReference(ctx context.Context, id, paymentRef, checkoutURL string) (bool, error) {
	return r.exec(ctx, `UPDATE bookings SET payment_ref=$2, checkout_url=$3, updated_at=now()
		WHERE id=$1 AND status=$4 AND (payment_ref IS NULL OR payment_ref=$2)`,
		id, paymentRef, checkoutURL, domain.BookingStatusPending)
}

// AdvanceToPaid locks the row first so the status it reports is the one the
// update replaced, even when an expiry sweep cancels the booking concurrently.
func (r *PGBookingRepository) AdvanceToPaid(ctx context.Context, id string) (domain.BookingStatus, bool, error) {
	var from string
	err := r.db.QueryRow(ctx, `WITH prev AS (
			SELECT id, status, cancel_reason FROM bookings WHERE id=$1 FOR UPDATE
		)
		UPDATE bookings b SET status=$2, cancel_reason=NULL, paid_at=now(), updated_at=now()
		FROM prev
		WHERE b.id=prev.id AND (prev.status=$3 OR (prev.status=$4 AND prev.cancel_reason=$5))
		RETURNING prev.status`,
		id, domain.BookingStatusPaid, domain.BookingStatusPending, domain.BookingStatusCancelled, domain.CancelReasonExpired).
		Scan(&from)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return domain.BookingStatus(from), true, nil
}

func (r *PGBookingRepository) MarkFailed(ctx context.Context, id, message string) (bool, error) {
	return r.exec(ctx, `UPDATE bookings SET status=$2, error_message=$3, updated_at=now() WHERE id=$1 AND status=$4`,
		id, domain.BookingStatusFailed, message, domain.BookingStatusPending)
}

func (r *PGBookingRepository) Cancel(ctx context.Context, id string, reason domain.CancelReason) (bool, error) {
	return r.exec(ctx, `UPDATE bookings SET status=$2, cancel_reason=$3, updated_at=now() WHERE id=$1 AND status=$4`,
		id, domain.BookingStatusCancelled, reason, domain.BookingStatusPending)
}

func (r *PGBookingRepository) MarkRefunded(ctx context.Context, id string) (bool, error) {
	return r.exec(ctx, `UPDATE bookings SET status=$2, updated_at=now() WHERE id=$1 AND status IN ($3, $4)`,
		id, domain.BookingStatusRefunded, domain.BookingStatusPaid, domain.BookingStatusConfirmed)
}

func (r *PGBookingRepository) ClaimTicketing(ctx context.Context, id string, lease time.Duration) (bool, error) {
	now := r.now()
	return r.exec(ctx, `UPDATE bookings SET ticketing_claimed_until=$2, updated_at=now()
		WHERE id=$1 AND status=$3 AND ticket_ref IS NULL
		AND (ticketing_claimed_until IS NULL OR ticketing_claimed_until <= $4)`,
		id, now.Add(lease), domain.BookingStatusPaid, now)
}

func (r *PGBookingRepository) AttachTicketReference(ctx context.Context, id, ticketRef string) (bool, error) {
	ok, err := r.exec(ctx, `UPDATE bookings SET ticket_ref=$2, status=$3, error_message=NULL, ticketing_claimed_until=NULL, updated_at=now()
		WHERE id=$1 AND status=$4 AND ticket_ref IS NULL`,
		id, ticketRef, domain.BookingStatusConfirmed, domain.BookingStatusPaid)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// the same ticket reference already belongs to another booking
			return false, fmt.Errorf("ticket %s: %w", ticketRef, domain.ErrConflict)
		}
	}
	return ok, err
}

func (r *PGBookingRepository) MarkProcessingError(ctx context.Context, id, message string) error {
	_, err := r.db.Exec(ctx, `UPDATE bookings SET error_message=$2, ticketing_claimed_until=NULL, updated_at=now()
		WHERE id=$1 AND ticket_ref IS NULL`, id, message)
	return err
}

func (r *PGBookingRepository) ListExpiredPending(ctx context.Context, deadline time.Time, limit int) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status=$1 AND expires_at <= $2 ORDER BY expires_at LIMIT $3`,
		domain.BookingStatusPending, deadline, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *PGBookingRepository) CompleteDepartedBefore(ctx context.Context, cutoff time.Time) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, `UPDATE bookings SET status=$1, completed_at=now(), updated_at=now()
		WHERE status=$2 AND departure_date < $3 RETURNING `+bookingColumns,
		domain.BookingStatusCompleted, domain.BookingStatusConfirmed, cutoff)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *PGBookingRepository) ListNeedingAttention(ctx context.Context, limit int) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status=$1 AND ticket_ref IS NULL AND error_message IS NOT NULL
		ORDER BY paid_at LIMIT $2`, domain.BookingStatusPaid, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *PGBookingRepository) exec(ctx context.Context, sql string, args ...any) (bool, error) {
	cmd, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row scanner) (*domain.Booking, error) {
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func scanBooking(row scanner) (*domain.Booking, error) {
	var (
		b          domain.Booking
		offer      []byte
		passengers []byte
		contact    []byte
	)
	err := row.Scan(&b.ID, &b.OwnerID, &b.IdempotencyKey, &b.Origin, &b.Destination, &b.DepartureDate, &b.ReturnDate,
		&b.Adults, &b.Children, &b.Infants, &b.CabinClass, &b.OfferID, &offer, &b.AmountMinor, &b.Currency,
		&passengers, &contact, &b.PaymentRef, &b.CheckoutURL, &b.TicketRef, &b.Status, &b.CancelReason,
		&b.ErrorMessage, &b.ExpiresAt, &b.CreatedAt, &b.UpdatedAt, &b.PaidAt, &b.CompletedAt)
	if err != nil {
		return nil, err
	}
	b.Offer = offer
	if len(passengers) > 0 {
		if err := json.Unmarshal(passengers, &b.Passengers); err != nil {
			return nil, fmt.Errorf("decode passengers of %s: %w", b.ID, err)
		}
	}
	if len(contact) > 0 {
		if err := json.Unmarshal(contact, &b.Contact); err != nil {
			return nil, fmt.Errorf("decode contact of %s: %w", b.ID, err)
		}
	}
	return &b, nil
}

func collect(rows pgx.Rows) ([]domain.Booking, error) {
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ BookingRepository = (*PGBookingRepository)(nil)
