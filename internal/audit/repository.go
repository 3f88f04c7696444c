package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store interface {
	Insert(ctx context.Context, entry *Entry) error
	ListByBooking(ctx context.Context, bookingID string) ([]Entry, error)
}

// Repository is an append-only audit store. It exposes no update or delete.
type Repository struct {
	db *sqlx.DB
}

func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect audit database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, entry *Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if len(entry.Details) == 0 {
		entry.Details = []byte("{}")
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO booking_audit (
			id, booking_id, action, source, actor_id, from_status, to_status,
			details, ip_address, user_agent, device, created_at
		) VALUES (
			:id, :booking_id, :action, :source, :actor_id, :from_status, :to_status,
			:details, :ip_address, :user_agent, :device, :created_at
		)`, entry)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *Repository) ListByBooking(ctx context.Context, bookingID string) ([]Entry, error) {
	var entries []Entry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT id, booking_id, action, source, actor_id, from_status, to_status,
			details, ip_address, user_agent, device, created_at
		FROM booking_audit
		WHERE booking_id = $1
		ORDER BY created_at`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

var _ Store = (*Repository)(nil)
